package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/blinkenctl/common"
	"github.com/Carmen-Shannon/blinkenctl/engine/aggregator"
	"github.com/Carmen-Shannon/blinkenctl/engine/animation"
	"github.com/Carmen-Shannon/blinkenctl/engine/auxiliary"
)

func testTarget(id string) common.Target {
	return common.Target{Kind: common.TargetFixture, ID: id}
}

func TestPipeline_BeforeFrame_RejectsTargetlessAnimation(t *testing.T) {
	backend := newFakeBackend()
	p, err := New(backend, 8, common.NopLogger{})
	require.NoError(t, err)

	animID := common.AnimationId("anim-1")
	ctx := aggregator.PipelineContext{
		NumLEDs: map[common.Target]uint32{},
		Animations: map[common.AnimationId]animation.Animation{
			animID: {Id: animID, Target: testTarget("missing"), Manifest: animation.Manifest{Shader: "fn main() {}"}},
		},
	}

	err = p.BeforeFrame(ctx)
	require.NoError(t, err)

	pi := p.(*pipeline)
	assert.Empty(t, pi.entries, "animation targeting an unresolved fixture should not gain a GPU entry")
}

func TestPipeline_BeforeFrame_AddsAndRemovesShaders(t *testing.T) {
	backend := newFakeBackend()
	p, err := New(backend, 8, common.NopLogger{})
	require.NoError(t, err)
	pi := p.(*pipeline)

	target := testTarget("strip-1")
	animID := common.AnimationId("anim-1")
	ctx := aggregator.PipelineContext{
		NumLEDs: map[common.Target]uint32{target: 30},
		Animations: map[common.AnimationId]animation.Animation{
			animID: {Id: animID, Target: target, Manifest: animation.Manifest{Shader: "fn main() {}"}},
		},
	}

	require.NoError(t, p.BeforeFrame(ctx))
	require.Len(t, pi.entries, 1)
	entry := pi.entries[animID]
	assert.Equal(t, uint32(30), entry.numLEDs)
	assert.Equal(t, uint64(30*3*4), entry.resultSize)
	assert.Equal(t, uint32(4), entry.workGroupCount) // ceil(30/8)

	// Removing the animation from the next context releases its buffers.
	ctx2 := aggregator.PipelineContext{
		NumLEDs:    map[common.Target]uint32{target: 30},
		Animations: map[common.AnimationId]animation.Animation{},
	}
	require.NoError(t, p.BeforeFrame(ctx2))
	assert.Empty(t, pi.entries)
	assert.True(t, backend.released[entry.storageBuffer.(*fakeBuffer)])
	assert.True(t, backend.released[entry.stagingBuffer.(*fakeBuffer)])
	assert.True(t, backend.released[entry.positionsBuffer.(*fakeBuffer)])
}

func TestPipeline_BeforeFrame_ResizesAuxiliaryOnSizeChange(t *testing.T) {
	backend := newFakeBackend()
	p, err := New(backend, 8, common.NopLogger{})
	require.NoError(t, err)
	pi := p.(*pipeline)

	auxID := common.AuxiliaryId("aux-1")
	v1, err := auxiliary.NewF32Vec([]float32{1, 2, 3}, 3)
	require.NoError(t, err)

	ctx := aggregator.PipelineContext{
		NumLEDs:       map[common.Target]uint32{},
		Animations:    map[common.AnimationId]animation.Animation{},
		AuxiliaryData: map[common.AuxiliaryId]auxiliary.AuxiliaryData{auxID: {Data: v1, Size: 3}},
	}
	require.NoError(t, p.BeforeFrame(ctx))
	require.Contains(t, pi.auxiliaries, auxID)
	firstBuf := pi.auxiliaries[auxID].buffer

	v2, err := auxiliary.NewF32Vec([]float32{1, 2, 3, 4, 5}, 5)
	require.NoError(t, err)
	ctx2 := aggregator.PipelineContext{
		NumLEDs:       map[common.Target]uint32{},
		Animations:    map[common.AnimationId]animation.Animation{},
		AuxiliaryData: map[common.AuxiliaryId]auxiliary.AuxiliaryData{auxID: {Data: v2, Size: 5}},
	}
	require.NoError(t, p.BeforeFrame(ctx2))
	require.Contains(t, pi.auxiliaries, auxID)
	assert.NotSame(t, firstBuf.(*fakeBuffer), pi.auxiliaries[auxID].buffer.(*fakeBuffer))
	assert.Equal(t, uint64(5*4), pi.auxiliaries[auxID].byteSize)
	assert.True(t, backend.released[firstBuf.(*fakeBuffer)])
}

func TestPipeline_ComputeFrame_RequiresIdleAndContext(t *testing.T) {
	backend := newFakeBackend()
	p, err := New(backend, 8, common.NopLogger{})
	require.NoError(t, err)

	err = p.ComputeFrame(common.NewFrameData(0, 1, 60))
	require.Error(t, err)
	assert.IsType(t, &common.NoContextError{}, err)

	require.NoError(t, p.BeforeFrame(aggregator.PipelineContext{
		NumLEDs:    map[common.Target]uint32{},
		Animations: map[common.AnimationId]animation.Animation{},
	}))
	require.NoError(t, p.ComputeFrame(common.NewFrameData(0, 1, 60)))

	err = p.ComputeFrame(common.NewFrameData(1, 1, 60))
	require.Error(t, err)
	assert.IsType(t, &common.WrongStateError{}, err)
}

func TestPipeline_ComputeFrame_SubstitutesEmptyBufferForUnmappedAuxiliarySlot(t *testing.T) {
	backend := newFakeBackend()
	p, err := New(backend, 8, common.NopLogger{})
	require.NoError(t, err)
	pi := p.(*pipeline)

	target := testTarget("strip-1")
	animID := common.AnimationId("anim-1")
	ctx := aggregator.PipelineContext{
		NumLEDs: map[common.Target]uint32{target: 2},
		Animations: map[common.AnimationId]animation.Animation{
			animID: {
				Id:     animID,
				Target: target,
				Manifest: animation.Manifest{
					Shader:      "fn main() {}",
					Auxiliaries: []auxiliary.AuxiliaryDataTypeConsumer{auxiliary.KindF32},
				},
			},
		},
		LedPositions:           map[common.Target][]common.Coord{target: {common.Origin, common.Origin}},
		AnimationAuxiliaryData: map[common.AnimationId][]common.AuxiliaryId{}, // no mapping for this animation's slot 0
	}
	require.NoError(t, p.BeforeFrame(ctx))
	require.NoError(t, p.ComputeFrame(common.NewFrameData(0, 1, 60)))

	require.Len(t, backend.submitted, 1)
	require.Len(t, backend.submitted[0].dispatches, 1)
	auxGroup := backend.submitted[0].dispatches[0].groups[2].(*fakeBindGroup)
	require.Len(t, auxGroup.buffers, 1)
	assert.Same(t, pi.emptyBufs[auxiliary.KindF32].(*fakeBuffer), auxGroup.buffers[0].(*fakeBuffer))
}

func TestPipeline_ComputeFrame_SkipsAnimationWithoutPositions(t *testing.T) {
	backend := newFakeBackend()
	p, err := New(backend, 8, common.NopLogger{})
	require.NoError(t, err)

	target := testTarget("strip-1")
	animID := common.AnimationId("anim-1")
	ctx := aggregator.PipelineContext{
		NumLEDs: map[common.Target]uint32{target: 2},
		Animations: map[common.AnimationId]animation.Animation{
			animID: {Id: animID, Target: target, Manifest: animation.Manifest{Shader: "fn main() {}"}},
		},
		LedPositions: map[common.Target][]common.Coord{}, // no positions for target
	}
	require.NoError(t, p.BeforeFrame(ctx))
	require.NoError(t, p.ComputeFrame(common.NewFrameData(0, 1, 60)))

	out, err := p.ReadLEDStates()
	require.NoError(t, err)
	assert.NotContains(t, out.States, animID)
}

func TestPipeline_ReadLEDStates_PanicsOnShortBuffer(t *testing.T) {
	backend := newFakeBackend()
	p, err := New(backend, 8, common.NopLogger{})
	require.NoError(t, err)
	pi := p.(*pipeline)

	target := testTarget("strip-1")
	animID := common.AnimationId("anim-1")
	ctx := aggregator.PipelineContext{
		NumLEDs: map[common.Target]uint32{target: 2},
		Animations: map[common.AnimationId]animation.Animation{
			animID: {Id: animID, Target: target, Manifest: animation.Manifest{Shader: "fn main() {}"}},
		},
		LedPositions: map[common.Target][]common.Coord{target: {common.Origin, common.Origin}},
	}
	require.NoError(t, p.BeforeFrame(ctx))
	require.NoError(t, p.ComputeFrame(common.NewFrameData(0, 1, 60)))

	// Truncate the staging buffer to simulate a shader that wrote fewer LEDs
	// than its target declares.
	entry := pi.entries[animID]
	entry.stagingBuffer.(*fakeBuffer).data = entry.stagingBuffer.(*fakeBuffer).data[:12]

	assert.Panics(t, func() {
		_, _ = p.ReadLEDStates()
	})
}

func TestPipeline_ComputeFrame_ZeroesStorageBeforeDispatch(t *testing.T) {
	backend := newFakeBackend()
	p, err := New(backend, 8, common.NopLogger{})
	require.NoError(t, err)
	pi := p.(*pipeline)

	target := testTarget("strip-1")
	animID := common.AnimationId("anim-1")
	ctx := aggregator.PipelineContext{
		NumLEDs: map[common.Target]uint32{target: 1},
		Animations: map[common.AnimationId]animation.Animation{
			animID: {Id: animID, Target: target, Manifest: animation.Manifest{Shader: "fn main() {}"}},
		},
		LedPositions: map[common.Target][]common.Coord{target: {common.Origin}},
	}
	require.NoError(t, p.BeforeFrame(ctx))

	entry := pi.entries[animID]
	// Dirty the storage buffer before compute_frame runs, to confirm the
	// zero-buffer copy resets it.
	for i := range entry.storageBuffer.(*fakeBuffer).data {
		entry.storageBuffer.(*fakeBuffer).data[i] = 0xFF
	}

	require.NoError(t, p.ComputeFrame(common.NewFrameData(0, 1, 60)))
	out, err := p.ReadLEDStates()
	require.NoError(t, err)
	assert.Equal(t, []common.LED{{R: 0, G: 0, B: 0}}, out.States[animID])
}
