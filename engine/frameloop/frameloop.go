// Package frameloop implements the Frame Loop (C7): the finite state
// machine that drives one frame end to end, from snapshot dequeue through
// GPU dispatch and read-back to handing the result to the Frame Resolver.
package frameloop

import (
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/blinkenctl/common"
	"github.com/Carmen-Shannon/blinkenctl/engine/aggregator"
	"github.com/Carmen-Shannon/blinkenctl/engine/gpu"
)

// State is one node of the Frame Loop's finite state machine.
type State int

const (
	StatePaused State = iota
	StateBeforeFrame
	StateCompute
	StateWaitForGPUIdle
	StateReadDataFromGPU
	StateOutputData
	StateFrameEnd
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "Paused"
	case StateBeforeFrame:
		return "BeforeFrame"
	case StateCompute:
		return "Compute"
	case StateWaitForGPUIdle:
		return "WaitForGPUIdle"
	case StateReadDataFromGPU:
		return "ReadDataFromGPU"
	case StateOutputData:
		return "OutputData"
	case StateFrameEnd:
		return "FrameEnd"
	default:
		return "Unknown"
	}
}

// FrameLoop is the Frame Loop (C7).
type FrameLoop interface {
	// Run drives the state machine until Stop is called or Exit is
	// commanded. Intended to run in its own goroutine. Blocks on snapshot
	// dequeue, frame-data dequeue, GPU idle wait, buffer-map await, and
	// output send, per state.
	Run()

	// Stop requests a clean exit: Run returns at the next state boundary, or
	// at once if it is parked on the snapshot, frame-data, or output
	// channel. A frame already in progress is not completed. Equivalent to
	// sending the Exit command.
	Stop()

	// State reports the loop's current state, for observability.
	State() State
}

type frameLoop struct {
	pipeline gpu.Pipeline
	log      common.Logger

	contextSink <-chan aggregator.PipelineContext
	frameSink   <-chan common.FrameData
	output      chan<- gpu.ComputeOutput

	state atomic.Value // State
	exit  chan struct{}
	once  sync.Once
}

// New builds a Frame Loop wiring the State Aggregator's context sink and
// the Time-Keeper's current-frame mailbox into pipeline, sending each
// frame's decoded result on output. output must be a bounded channel the
// Frame Resolver drains; sends here must not drop (§5 — the loop blocks
// rather than skip a frame's output).
func New(pipeline gpu.Pipeline, contextSink <-chan aggregator.PipelineContext, frameSink <-chan common.FrameData, output chan<- gpu.ComputeOutput, log common.Logger) FrameLoop {
	if log == nil {
		log = common.NopLogger{}
	}
	fl := &frameLoop{
		pipeline:    pipeline,
		log:         log,
		contextSink: contextSink,
		frameSink:   frameSink,
		output:      output,
		exit:        make(chan struct{}),
	}
	fl.state.Store(StatePaused)
	return fl
}

func (fl *frameLoop) State() State {
	return fl.state.Load().(State)
}

func (fl *frameLoop) setState(s State) {
	fl.state.Store(s)
}

func (fl *frameLoop) Stop() {
	fl.once.Do(func() { close(fl.exit) })
}

func (fl *frameLoop) exiting() bool {
	select {
	case <-fl.exit:
		return true
	default:
		return false
	}
}

// Run cycles BeforeFrame -> Compute -> WaitForGPUIdle -> ReadDataFromGPU ->
// OutputData -> FrameEnd -> BeforeFrame, checking the exit command between
// every state per §4.7.
func (fl *frameLoop) Run() {
	fl.setState(StateBeforeFrame)

	var currentFrame common.FrameData
	var output gpu.ComputeOutput

	for {
		if fl.exiting() {
			fl.setState(StatePaused)
			return
		}

		switch fl.State() {
		case StateBeforeFrame:
			select {
			case <-fl.exit:
				fl.setState(StatePaused)
				return
			case ctx := <-fl.contextSink:
				if err := fl.pipeline.BeforeFrame(ctx); err != nil {
					fl.log.Errorf("frame loop: before_frame: %v", err)
				}
				fl.setState(StateCompute)
			}

		case StateCompute:
			select {
			case <-fl.exit:
				fl.setState(StatePaused)
				return
			case frame := <-fl.frameSink:
				currentFrame = frame
				if err := fl.pipeline.ComputeFrame(currentFrame); err != nil {
					fl.log.Errorf("frame loop: compute_frame: %v", err)
				}
				fl.setState(StateWaitForGPUIdle)
			}

		case StateWaitForGPUIdle:
			fl.pipeline.PollDevice()
			fl.setState(StateReadDataFromGPU)

		case StateReadDataFromGPU:
			out, err := fl.pipeline.ReadLEDStates()
			if err != nil {
				fl.log.Errorf("frame loop: read_led_states: %v", err)
			}
			output = out
			fl.setState(StateOutputData)

		case StateOutputData:
			select {
			case <-fl.exit:
				fl.setState(StatePaused)
				return
			case fl.output <- output:
			}
			fl.setState(StateFrameEnd)

		case StateFrameEnd:
			fl.setState(StateBeforeFrame)
		}
	}
}
