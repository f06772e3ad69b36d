package auxiliary

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/blinkenctl/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_AddAuxiliaryDefaultsToZero(t *testing.T) {
	m := New(time.Millisecond, nil)
	require.NoError(t, m.AddAuxiliary("x", KindF32Vec3, nil, 2, 2, 2))

	got, ok := m.Get("x")
	require.True(t, ok)
	assert.Equal(t, 8, got.Size)
	for _, v := range got.Data.Values() {
		assert.Equal(t, float32(0), v)
	}
}

func TestManager_AddAuxiliaryScalarRange(t *testing.T) {
	m := New(time.Millisecond, nil)
	require.NoError(t, m.AddAuxiliary("x", KindF32, &ScalarRange{Initial: 0.5, Min: 0, Max: 1}))

	got, ok := m.Get("x")
	require.True(t, ok)
	assert.Equal(t, float32(0.5), got.Data.Scalar())
}

func TestManager_AddAuxiliaryDuplicate(t *testing.T) {
	m := New(time.Millisecond, nil)
	require.NoError(t, m.AddAuxiliary("x", KindF32, nil))
	err := m.AddAuxiliary("x", KindF32, nil)
	require.Error(t, err)
	assert.IsType(t, &common.ExistsError{}, err)
}

func TestManager_SetAnimationSourcesReplaces(t *testing.T) {
	m := New(time.Millisecond, nil)
	m.SetAnimationSources("a1", []common.AuxiliaryId{"x", "y"})
	assert.Equal(t, []common.AuxiliaryId{"x", "y"}, m.AnimationSources("a1"))

	m.SetAnimationSources("a1", []common.AuxiliaryId{"z"})
	assert.Equal(t, []common.AuxiliaryId{"z"}, m.AnimationSources("a1"))
}

func TestManager_DeviceChannelDrainsOnRun(t *testing.T) {
	m := New(2*time.Millisecond, nil)
	require.NoError(t, m.AddAuxiliary("x", KindF32, nil))

	ch, err := m.OnDeviceAdded("x")
	require.NoError(t, err)

	go m.Run()
	defer m.Stop()

	ch <- NewF32(42)

	require.Eventually(t, func() bool {
		got, _ := m.Get("x")
		return got.Data.Scalar() == 42
	}, time.Second, 5*time.Millisecond)
}

func TestManager_DeviceChannelClosureDropsSlot(t *testing.T) {
	m := New(2*time.Millisecond, nil)
	require.NoError(t, m.AddAuxiliary("x", KindF32, nil))
	ch, err := m.OnDeviceAdded("x")
	require.NoError(t, err)

	go m.Run()
	defer m.Stop()

	close(ch)

	mImpl := m.(*manager)
	require.Eventually(t, func() bool {
		mImpl.mu.RLock()
		defer mImpl.mu.RUnlock()
		_, exists := mImpl.channels["x"]
		return !exists
	}, time.Second, 5*time.Millisecond, "expected closed channel to be dropped")
}
