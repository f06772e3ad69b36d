package world

import (
	"testing"

	"github.com/Carmen-Shannon/blinkenctl/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureTarget(id string) common.Target {
	return common.Target{Kind: common.TargetFixture, ID: id}
}

func TestWorldContext_AddFixtureDuplicate(t *testing.T) {
	w := New()
	require.NoError(t, w.AddFixture("f1", []common.Coord{{}, {}}))
	err := w.AddFixture("f1", nil)
	require.Error(t, err)
	assert.IsType(t, &common.ExistsError{}, err)
}

func TestWorldContext_RemoveMissingFixture(t *testing.T) {
	w := New()
	err := w.RemoveFixture("nope")
	require.Error(t, err)
	assert.IsType(t, &common.DoesNotExistError{}, err)
}

func TestWorldContext_FixtureChunksThroughInstallationAndGroup(t *testing.T) {
	w := New()
	require.NoError(t, w.AddFixture("f1", make([]common.Coord, 3)))
	require.NoError(t, w.AddFixture("f2", make([]common.Coord, 5)))
	require.NoError(t, w.AddInstallation("i1", []common.FixtureId{"f1", "f2"}))
	require.NoError(t, w.AddGroup("g1", []common.Target{{Kind: common.TargetInstallation, ID: "i1"}}))

	chunks, err := w.FixtureChunks(common.Target{Kind: common.TargetGroup, ID: "g1"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, common.FixtureId("f1"), chunks[0].FixtureId)
	assert.Equal(t, uint32(3), chunks[0].LedCount)
	assert.Equal(t, common.FixtureId("f2"), chunks[1].FixtureId)
	assert.Equal(t, uint32(5), chunks[1].LedCount)

	count, err := w.LedCount(common.Target{Kind: common.TargetGroup, ID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, uint32(8), count)
}

func TestWorldContext_RejectsGroupCycle(t *testing.T) {
	w := New()

	// A group that lists itself as a member is a one-node cycle, caught
	// before the group is ever inserted.
	err := w.AddGroup("g1", []common.Target{{Kind: common.TargetGroup, ID: "g1"}})
	require.Error(t, err)
	assert.IsType(t, &common.CycleError{}, err)

	// Chains of already-registered groups never cycle: registration is
	// append-only, so a new group can only reference existing (acyclic)
	// groups.
	require.NoError(t, w.AddGroup("g2", nil))
	require.NoError(t, w.AddGroup("g3", []common.Target{{Kind: common.TargetGroup, ID: "g2"}}))
}

func TestWorldContext_StateInvalidatesOnMutation(t *testing.T) {
	w := New()
	require.NoError(t, w.AddFixture("f1", []common.Coord{{}}))
	s1 := w.State()
	_, ok := s1.NumLEDs[fixtureTarget("f1")]
	assert.True(t, ok)

	require.NoError(t, w.AddFixture("f2", []common.Coord{{}, {}}))
	s2 := w.State()
	_, ok = s2.NumLEDs[fixtureTarget("f2")]
	assert.True(t, ok)
}
