package auxiliary

import (
	"sync"
	"time"

	"github.com/Carmen-Shannon/blinkenctl/common"
)

// AuxiliaryData pairs a live value with its scalar count, per the wire
// model: size is always derivable from data, but kept alongside it since
// callers (notably the GPU pipeline) need it without re-deriving.
type AuxiliaryData struct {
	Data AuxiliaryDataType
	Size int
}

func newAuxiliaryData(d AuxiliaryDataType) AuxiliaryData {
	return AuxiliaryData{Data: d, Size: d.Size()}
}

// ScalarRange carries the optional initial/min/max parameters usable only
// when the declared consumer shape is F32.
type ScalarRange struct {
	Initial float32
	Min     float32
	Max     float32
}

// Manager is the Auxiliary Data Manager (C4): current values plus the
// per-animation ordered auxiliary source lists.
type Manager interface {
	// AddAuxiliary registers a new auxiliary stream with a default value
	// derived from consumer (optionally seeded by rng for F32 streams).
	// Fails with ExistsError on a duplicate id.
	AddAuxiliary(id common.AuxiliaryId, consumer AuxiliaryDataTypeConsumer, rng *ScalarRange, dims ...int) error

	// RemoveAuxiliary drops a registered auxiliary stream and any device
	// channel feeding it.
	RemoveAuxiliary(id common.AuxiliaryId) error

	// Get returns the current value for id.
	Get(id common.AuxiliaryId) (AuxiliaryData, bool)

	// All returns a snapshot copy of every auxiliary's current value.
	All() map[common.AuxiliaryId]AuxiliaryData

	// SetAnimationSources replaces the ordered auxiliary-id list feeding
	// animID. Position i in the list feeds the animation's auxiliary slot i.
	SetAnimationSources(animID common.AnimationId, auxIDs []common.AuxiliaryId)

	// AnimationSources returns the ordered list for animID, or nil.
	AnimationSources(animID common.AnimationId) []common.AuxiliaryId

	// AllAnimationSources returns a snapshot copy of the whole mapping.
	AllAnimationSources() map[common.AnimationId][]common.AuxiliaryId

	// OnDeviceAdded creates the bounded (capacity 1) broadcast channel for
	// an auxiliary-capable device and registers its receive side. Returns
	// the channel, to be handed to the device for sending updates. Fails
	// with ExistsError if id already has a channel.
	OnDeviceAdded(id common.AuxiliaryId) (chan AuxiliaryDataType, error)

	// OnDeviceRemoved drops the channel registered for id, if any.
	OnDeviceRemoved(id common.AuxiliaryId)

	// Run starts the periodic receive loop and blocks until Stop is
	// called. Intended to run in its own goroutine.
	Run()

	// Stop signals the receive loop to exit after its current tick.
	Stop()
}

type manager struct {
	mu       sync.RWMutex
	values   map[common.AuxiliaryId]AuxiliaryData
	channels map[common.AuxiliaryId]chan AuxiliaryDataType
	sources  map[common.AnimationId][]common.AuxiliaryId

	pollInterval time.Duration
	log          common.Logger

	quit     chan struct{}
	quitOnce sync.Once
}

// New builds an empty Manager. pollInterval governs how often the receive
// loop drains device channels; it should be well under the frame interval.
func New(pollInterval time.Duration, log common.Logger) Manager {
	if log == nil {
		log = common.NopLogger{}
	}
	if pollInterval <= 0 {
		pollInterval = time.Millisecond
	}
	return &manager{
		values:       make(map[common.AuxiliaryId]AuxiliaryData),
		channels:     make(map[common.AuxiliaryId]chan AuxiliaryDataType),
		sources:      make(map[common.AnimationId][]common.AuxiliaryId),
		pollInterval: pollInterval,
		log:          log,
		quit:         make(chan struct{}),
	}
}

func (m *manager) AddAuxiliary(id common.AuxiliaryId, consumer AuxiliaryDataTypeConsumer, rng *ScalarRange, dims ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.values[id]; exists {
		return common.NewExistsError("auxiliary", string(id))
	}

	var value AuxiliaryDataType
	if consumer == KindF32 && rng != nil {
		value = NewF32(rng.Initial)
	} else {
		value = ZeroValueFor(consumer, dims...)
	}
	m.values[id] = newAuxiliaryData(value)
	return nil
}

func (m *manager) RemoveAuxiliary(id common.AuxiliaryId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.values[id]; !exists {
		return common.NewDoesNotExistError("auxiliary", string(id))
	}
	delete(m.values, id)
	delete(m.channels, id)
	return nil
}

func (m *manager) Get(id common.AuxiliaryId) (AuxiliaryData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[id]
	return v, ok
}

func (m *manager) All() map[common.AuxiliaryId]AuxiliaryData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[common.AuxiliaryId]AuxiliaryData, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

func (m *manager) SetAnimationSources(animID common.AnimationId, auxIDs []common.AuxiliaryId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[animID] = append([]common.AuxiliaryId(nil), auxIDs...)
}

func (m *manager) AnimationSources(animID common.AnimationId) []common.AuxiliaryId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]common.AuxiliaryId(nil), m.sources[animID]...)
}

func (m *manager) AllAnimationSources() map[common.AnimationId][]common.AuxiliaryId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[common.AnimationId][]common.AuxiliaryId, len(m.sources))
	for k, v := range m.sources {
		out[k] = append([]common.AuxiliaryId(nil), v...)
	}
	return out
}

func (m *manager) OnDeviceAdded(id common.AuxiliaryId) (chan AuxiliaryDataType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[id]; exists {
		return nil, common.NewExistsError("auxiliary channel", string(id))
	}
	ch := make(chan AuxiliaryDataType, 1)
	m.channels[id] = ch
	return ch, nil
}

func (m *manager) OnDeviceRemoved(id common.AuxiliaryId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
}

func (m *manager) Stop() {
	m.quitOnce.Do(func() { close(m.quit) })
}

// Run drains every registered device channel on a fixed poll interval.
// Each read is non-blocking: an empty channel this tick is simply skipped.
// A closed channel is logged and its slot dropped.
func (m *manager) Run() {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			m.drainOnce()
		}
	}
}

func (m *manager) drainOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ch := range m.channels {
		select {
		case value, ok := <-ch:
			if !ok {
				m.log.Errorf("auxiliary channel %s closed, dropping", id)
				delete(m.channels, id)
				continue
			}
			m.values[id] = newAuxiliaryData(value)
		default:
		}
	}
}

// SendUpdate is the producer-side helper a device adapter uses to push a
// new value onto its capacity-1 channel. Since the channel never blocks,
// an unconsumed prior value is dropped and replaced — equivalent to the
// "Lagged(1)" case a true broadcast channel would report; logged here
// since the manager itself only observes the latest value, never the
// drop.
func SendUpdate(ch chan AuxiliaryDataType, value AuxiliaryDataType, log common.Logger, id common.AuxiliaryId) {
	if log == nil {
		log = common.NopLogger{}
	}
	select {
	case ch <- value:
		return
	default:
	}
	select {
	case <-ch:
		log.Warnf("auxiliary %s lagged: dropping an unconsumed frame", id)
	default:
	}
	select {
	case ch <- value:
	default:
	}
}
