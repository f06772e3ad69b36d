// Package aggregator implements the State Aggregator (C5): on each tick it
// joins the World Context, Animation Registry, and Auxiliary Data Manager
// into an immutable PipelineContext snapshot for the Frame Loop.
package aggregator

import (
	"sync"
	"time"

	"github.com/Carmen-Shannon/blinkenctl/common"
	"github.com/Carmen-Shannon/blinkenctl/engine/animation"
	"github.com/Carmen-Shannon/blinkenctl/engine/auxiliary"
	"github.com/Carmen-Shannon/blinkenctl/engine/world"
)

// PipelineContext is a self-contained, immutable frame snapshot: the only
// input the GPU Pipeline's before_frame/compute_frame need.
type PipelineContext struct {
	LedPositions           map[common.Target][]common.Coord
	NumLEDs                map[common.Target]uint32
	Animations             map[common.AnimationId]animation.Animation
	AuxiliaryData          map[common.AuxiliaryId]auxiliary.AuxiliaryData
	AnimationAuxiliaryData map[common.AnimationId][]common.AuxiliaryId
}

// Aggregator is the State Aggregator (C5).
type Aggregator interface {
	// RegisterSubscriber returns a bounded mailbox of the given size. Each
	// tick's snapshot is sent non-blocking: a full mailbox is skipped for
	// that tick rather than blocked on.
	RegisterSubscriber(bufferSize int) <-chan PipelineContext

	// Run starts the periodic snapshot loop and blocks until Stop is
	// called. Intended to run in its own goroutine.
	Run()

	// Stop signals the loop to exit after its current tick.
	Stop()
}

type aggregator struct {
	world      world.WorldContext
	animations animation.Registry
	aux        auxiliary.Manager

	interval time.Duration
	log      common.Logger

	mu          sync.Mutex
	subscribers []chan PipelineContext

	quit     chan struct{}
	quitOnce sync.Once
}

// New builds an Aggregator joining the given components, ticking at the
// given interval (typically the configured frame interval).
func New(w world.WorldContext, animations animation.Registry, aux auxiliary.Manager, interval time.Duration, log common.Logger) Aggregator {
	if log == nil {
		log = common.NopLogger{}
	}
	return &aggregator{
		world:      w,
		animations: animations,
		aux:        aux,
		interval:   interval,
		log:        log,
		quit:       make(chan struct{}),
	}
}

func (a *aggregator) RegisterSubscriber(bufferSize int) <-chan PipelineContext {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan PipelineContext, bufferSize)
	a.subscribers = append(a.subscribers, ch)
	return ch
}

func (a *aggregator) Stop() {
	a.quitOnce.Do(func() { close(a.quit) })
}

func (a *aggregator) Run() {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.quit:
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *aggregator) tick() {
	ctx := a.snapshot()

	a.mu.Lock()
	subs := append([]chan PipelineContext(nil), a.subscribers...)
	a.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- ctx:
		default:
			a.log.Debugf("state aggregator: subscriber mailbox full, skipping this tick")
		}
	}
}

// snapshot assembles one PipelineContext: animations whose target does not
// yet resolve in the world context are filtered out.
func (a *aggregator) snapshot() PipelineContext {
	state := a.world.State()

	all := a.animations.All()
	filtered := make(map[common.AnimationId]animation.Animation, len(all))
	for id, anim := range all {
		if _, ok := state.NumLEDs[anim.Target]; ok {
			filtered[id] = anim
		}
	}

	return PipelineContext{
		LedPositions:           state.LedPositions,
		NumLEDs:                state.NumLEDs,
		Animations:             filtered,
		AuxiliaryData:          a.aux.All(),
		AnimationAuxiliaryData: a.aux.AllAnimationSources(),
	}
}
