// Package resolver implements the Frame Resolver (C8): it turns each
// frame's ComputeOutput into per-fixture LEDFrame slices and routes them to
// the sink channels devices have registered.
package resolver

import (
	"sync"

	"github.com/Carmen-Shannon/blinkenctl/common"
	"github.com/Carmen-Shannon/blinkenctl/engine/animation"
	"github.com/Carmen-Shannon/blinkenctl/engine/gpu"
	"github.com/Carmen-Shannon/blinkenctl/engine/world"
)

// Resolver is the Frame Resolver (C8).
type Resolver interface {
	// RegisterFixtureSink creates (or replaces) the capacity-1 broadcast
	// sink a device consumes fixture's LEDFrames from.
	RegisterFixtureSink(fixture common.FixtureId) <-chan common.LEDFrame

	// RemoveFixtureSink drops fixture's sink, if any.
	RemoveFixtureSink(fixture common.FixtureId)

	// RouteFixtureToDevice records which device owns fixture, for
	// observability/lookup; the resolver itself only needs the fixture
	// sink map to deliver frames, but §4.8 names this routing map as part
	// of the resolver's state.
	RouteFixtureToDevice(fixture common.FixtureId, device common.DeviceId)
	UnrouteFixture(fixture common.FixtureId)
	DeviceForFixture(fixture common.FixtureId) (common.DeviceId, bool)

	// FixturesForDevice returns every fixture currently routed to device —
	// the reverse lookup a device-removal handler needs to tear down that
	// device's sinks/routing entries.
	FixturesForDevice(device common.DeviceId) []common.FixtureId

	// Run drains input, resolving and routing each ComputeOutput until Stop
	// is called.
	Run(input <-chan gpu.ComputeOutput)

	// Stop signals Run to exit after its current receive.
	Stop()
}

type resolver struct {
	animations animation.Registry
	world      world.WorldContext
	log        common.Logger

	mu      sync.RWMutex
	sinks   map[common.FixtureId]chan common.LEDFrame
	routing map[common.FixtureId]common.DeviceId

	quit     chan struct{}
	quitOnce sync.Once
}

// New builds a Resolver consulting animations and world to resolve each
// ComputeOutput entry's target into fixture chunks.
func New(animations animation.Registry, w world.WorldContext, log common.Logger) Resolver {
	if log == nil {
		log = common.NopLogger{}
	}
	return &resolver{
		animations: animations,
		world:      w,
		log:        log,
		sinks:      make(map[common.FixtureId]chan common.LEDFrame),
		routing:    make(map[common.FixtureId]common.DeviceId),
		quit:       make(chan struct{}),
	}
}

func (r *resolver) RegisterFixtureSink(fixture common.FixtureId) <-chan common.LEDFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan common.LEDFrame, 1)
	r.sinks[fixture] = ch
	return ch
}

func (r *resolver) RemoveFixtureSink(fixture common.FixtureId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, fixture)
}

func (r *resolver) RouteFixtureToDevice(fixture common.FixtureId, device common.DeviceId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routing[fixture] = device
}

func (r *resolver) UnrouteFixture(fixture common.FixtureId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routing, fixture)
}

func (r *resolver) DeviceForFixture(fixture common.FixtureId) (common.DeviceId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.routing[fixture]
	return d, ok
}

func (r *resolver) FixturesForDevice(device common.DeviceId) []common.FixtureId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var fixtures []common.FixtureId
	for fixture, d := range r.routing {
		if d == device {
			fixtures = append(fixtures, fixture)
		}
	}
	return fixtures
}

func (r *resolver) Stop() {
	r.quitOnce.Do(func() { close(r.quit) })
}

func (r *resolver) Run(input <-chan gpu.ComputeOutput) {
	for {
		select {
		case <-r.quit:
			return
		case out, ok := <-input:
			if !ok {
				return
			}
			r.resolve(out)
		}
	}
}

// resolve applies last-writer-wins per target within a single
// ComputeOutput: later animation entries targeting the same fixture
// overwrite earlier ones, since map iteration order over
// out.States is otherwise unspecified and §4.8 only guarantees ordering
// within distinct targets, never between them.
func (r *resolver) resolve(out gpu.ComputeOutput) {
	perFixture := make(map[common.FixtureId][]common.LED)

	for animID, leds := range out.States {
		anim, ok := r.animations.Get(animID)
		if !ok {
			r.log.Warnf("frame resolver: output for unknown animation %s, dropping", animID)
			continue
		}

		chunks, err := r.world.FixtureChunks(anim.Target)
		if err != nil {
			r.log.Warnf("frame resolver: animation %s target unresolved: %v", animID, err)
			continue
		}

		offset := 0
		for _, chunk := range chunks {
			n := int(chunk.LedCount)
			var slice []common.LED
			switch {
			case offset >= len(leds):
				slice = make([]common.LED, n)
			case offset+n > len(leds):
				slice = make([]common.LED, n)
				copy(slice, leds[offset:])
			default:
				slice = append([]common.LED(nil), leds[offset:offset+n]...)
			}
			perFixture[chunk.FixtureId] = slice
			offset += n
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for fixture, leds := range perFixture {
		sink, ok := r.sinks[fixture]
		if !ok {
			r.log.Warnf("frame resolver: no sink registered for fixture %s, dropping frame", fixture)
			continue
		}
		frame := common.LEDFrame{FixtureId: fixture, LEDs: leds}
		select {
		case sink <- frame:
		default:
			select {
			case <-sink:
			default:
			}
			select {
			case sink <- frame:
			default:
			}
		}
	}
}
