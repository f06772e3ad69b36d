package frameloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/blinkenctl/common"
	"github.com/Carmen-Shannon/blinkenctl/engine/aggregator"
	"github.com/Carmen-Shannon/blinkenctl/engine/gpu"
)

// fakePipeline is a minimal in-memory gpu.Pipeline double, recording calls
// so tests can assert on the Frame Loop's state sequence without any real
// GPU backend.
type fakePipeline struct {
	beforeFrameCalls int
	computeCalls     int
	pollCalls        int
	readCalls        int
	output           gpu.ComputeOutput
	beforeFrameErr   error
	computeErr       error
	readErr          error
}

func (f *fakePipeline) BeforeFrame(ctx aggregator.PipelineContext) error {
	f.beforeFrameCalls++
	return f.beforeFrameErr
}

func (f *fakePipeline) ComputeFrame(frame common.FrameData) error {
	f.computeCalls++
	return f.computeErr
}

func (f *fakePipeline) PollDevice() {
	f.pollCalls++
}

func (f *fakePipeline) ReadLEDStates() (gpu.ComputeOutput, error) {
	f.readCalls++
	return f.output, f.readErr
}

func TestFrameLoop_CompletesOneFullCycle(t *testing.T) {
	pipeline := &fakePipeline{output: gpu.ComputeOutput{States: map[common.AnimationId][]common.LED{
		"anim-1": {{R: 1, G: 2, B: 3}},
	}}}

	contextSink := make(chan aggregator.PipelineContext, 1)
	frameSink := make(chan common.FrameData, 1)
	output := make(chan gpu.ComputeOutput, 1)

	fl := New(pipeline, contextSink, frameSink, output, common.NopLogger{})

	contextSink <- aggregator.PipelineContext{}
	frameSink <- common.NewFrameData(0, 1, 60)

	done := make(chan struct{})
	go func() {
		fl.Run()
		close(done)
	}()

	select {
	case out := <-output:
		assert.Equal(t, pipeline.output, out)
	case <-time.After(time.Second):
		t.Fatal("frame loop did not produce output in time")
	}

	fl.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("frame loop did not exit after Stop")
	}

	assert.Equal(t, 1, pipeline.beforeFrameCalls)
	assert.Equal(t, 1, pipeline.computeCalls)
	assert.Equal(t, 1, pipeline.pollCalls)
	assert.Equal(t, 1, pipeline.readCalls)
}

func TestFrameLoop_StopExitsWithoutInput(t *testing.T) {
	pipeline := &fakePipeline{}
	contextSink := make(chan aggregator.PipelineContext)
	frameSink := make(chan common.FrameData)
	output := make(chan gpu.ComputeOutput, 1)

	fl := New(pipeline, contextSink, frameSink, output, common.NopLogger{})

	done := make(chan struct{})
	go func() {
		fl.Run()
		close(done)
	}()

	// Give Run a moment to block in BeforeFrame's dequeue, then stop it.
	time.Sleep(10 * time.Millisecond)
	fl.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("frame loop blocked on Stop with no input available")
	}

	require.Equal(t, StatePaused, fl.State())
	assert.Zero(t, pipeline.beforeFrameCalls)
}

func TestFrameLoop_LogsButContinuesOnPipelineErrors(t *testing.T) {
	pipeline := &fakePipeline{
		beforeFrameErr: common.NewWrongStateError("boom"),
		computeErr:     common.NewNoContextError("boom"),
		readErr:        assertError{},
	}

	contextSink := make(chan aggregator.PipelineContext, 1)
	frameSink := make(chan common.FrameData, 1)
	output := make(chan gpu.ComputeOutput, 1)

	fl := New(pipeline, contextSink, frameSink, output, common.NopLogger{})

	contextSink <- aggregator.PipelineContext{}
	frameSink <- common.NewFrameData(0, 1, 60)

	done := make(chan struct{})
	go func() {
		fl.Run()
		close(done)
	}()

	select {
	case <-output:
	case <-time.After(time.Second):
		t.Fatal("frame loop did not produce output despite pipeline errors")
	}

	fl.Stop()
	<-done
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
