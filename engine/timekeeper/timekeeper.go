// Package timekeeper implements the Time-Keeper (C1): the periodic clock
// that drives the rest of the pipeline at a fixed rational cadence.
package timekeeper

import (
	"sync"
	"time"

	"github.com/Carmen-Shannon/blinkenctl/common"
)

// TimeKeeper produces monotonically increasing FrameData ticks at a fixed
// numerator/denominator millisecond cadence, and fans them out to
// registered sinks.
type TimeKeeper interface {
	// RegisterCurrentFrameSink returns a bounded mailbox (capacity 1) that
	// receives the current frame's FrameData every tick. Sends to it block
	// — this is the pipeline's cadence gate.
	RegisterCurrentFrameSink() <-chan common.FrameData

	// RegisterNextFrameSink returns a capacity-1 broadcast channel that
	// receives the upcoming frame's FrameData every tick, best-effort: a
	// full channel is skipped rather than blocked on.
	RegisterNextFrameSink() <-chan common.FrameData

	// Run starts the tick loop and blocks until Stop is called. Intended
	// to be run in its own goroutine.
	Run()

	// Stop signals the tick loop to exit after its current tick. Safe to
	// call multiple times.
	Stop()
}

type timeKeeper struct {
	numerator   uint32
	denominator uint32

	targetInterval time.Duration
	latenessBudget time.Duration

	log common.Logger

	mu                 sync.Mutex
	currentFrameSinks  []chan common.FrameData
	nextFrameSinks     []chan common.FrameData
	currentFrame       uint32
	nextFrame          uint32
	cumulativeLateness time.Duration
	lastWarnAt         time.Time
	warnInterval       time.Duration

	quit     chan struct{}
	quitOnce sync.Once
}

// New builds a TimeKeeper for the given frame interval (numerator/
// denominator milliseconds) and frame_buffer_size (the lateness budget
// multiplier — lateness_budget = target_interval * frameBufferSize).
func New(numerator, denominator, frameBufferSize uint32, log common.Logger) TimeKeeper {
	if log == nil {
		log = common.NopLogger{}
	}
	interval := time.Duration(float64(numerator) / float64(denominator) * float64(time.Millisecond))
	return &timeKeeper{
		numerator:      numerator,
		denominator:    denominator,
		targetInterval: interval,
		latenessBudget: interval * time.Duration(frameBufferSize),
		log:            log,
		nextFrame:      1,
		warnInterval:   time.Second,
		quit:           make(chan struct{}),
	}
}

func (t *timeKeeper) RegisterCurrentFrameSink() <-chan common.FrameData {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan common.FrameData, 1)
	t.currentFrameSinks = append(t.currentFrameSinks, ch)
	return ch
}

func (t *timeKeeper) RegisterNextFrameSink() <-chan common.FrameData {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan common.FrameData, 1)
	t.nextFrameSinks = append(t.nextFrameSinks, ch)
	return ch
}

func (t *timeKeeper) Stop() {
	t.quitOnce.Do(func() {
		close(t.quit)
	})
}

func (t *timeKeeper) Run() {
	lastTick := time.Now()

	for {
		select {
		case <-t.quit:
			return
		default:
		}

		deadline := lastTick.Add(t.targetInterval)
		if wait := time.Until(deadline); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-t.quit:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		now := time.Now()
		elapsed := now.Sub(lastTick)
		lastTick = now
		t.accountLateness(elapsed)

		t.mu.Lock()
		current := t.nextFrame
		t.currentFrame = current
		t.nextFrame = current + 1
		currentData := common.NewFrameData(current, t.numerator, t.denominator)
		nextData := common.NewFrameData(t.nextFrame, t.numerator, t.denominator)
		currentSinks := append([]chan common.FrameData(nil), t.currentFrameSinks...)
		nextSinks := append([]chan common.FrameData(nil), t.nextFrameSinks...)
		t.mu.Unlock()

		for _, sink := range currentSinks {
			select {
			case sink <- currentData:
			case <-t.quit:
				return
			}
		}
		for _, sink := range nextSinks {
			select {
			case sink <- nextData:
			default:
			}
		}
	}
}

// accountLateness implements the saturating lateness accumulator, a
// debug-level log on every late tick, and the rate-limited "running late"
// warning once the lateness budget is exceeded.
func (t *timeKeeper) accountLateness(elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	excess := elapsed - t.targetInterval
	if excess > 0 {
		t.cumulativeLateness += excess
		t.log.Debugf("time-keeper: frame late by %s (target=%s actual=%s)", excess, t.targetInterval, elapsed)
	} else {
		t.cumulativeLateness += excess // excess is <= 0 here, subtracts the deficit
		if t.cumulativeLateness < 0 {
			t.cumulativeLateness = 0
		}
	}

	if t.cumulativeLateness >= t.latenessBudget {
		now := time.Now()
		if now.Sub(t.lastWarnAt) >= t.warnInterval {
			t.lastWarnAt = now
			t.log.Warnf("time-keeper running late: cumulative=%s budget=%s", t.cumulativeLateness, t.latenessBudget)
		}
	}
}
