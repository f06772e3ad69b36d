// Package animation implements the Animation Registry (C3): the map from
// AnimationId to shader manifest and target.
package animation

import (
	"sync"

	"github.com/Carmen-Shannon/blinkenctl/common"
	"github.com/Carmen-Shannon/blinkenctl/engine/auxiliary"
	"github.com/google/uuid"
)

// Manifest is a shader's text plus the ordered list of auxiliary shapes it
// declares.
type Manifest struct {
	Shader      string
	Auxiliaries []auxiliary.AuxiliaryDataTypeConsumer
}

// Animation binds a manifest to a logical target. Immutable after
// construction.
type Animation struct {
	Id       common.AnimationId
	Manifest Manifest
	Target   common.Target
}

// Registry is the append-only AnimationId -> Animation map.
type Registry interface {
	// Register mints a fresh AnimationId and stores the animation. Returns
	// the new id.
	Register(manifest Manifest, target common.Target) common.AnimationId

	// RegisterWithId stores the animation under a caller-supplied id — used
	// by startup-scene loading, which assigns ids from the scene file.
	// Fails with ExistsError if id is already registered.
	RegisterWithId(id common.AnimationId, manifest Manifest, target common.Target) error

	// Remove destroys a registered animation. Fails with DoesNotExistError
	// if id is unknown.
	Remove(id common.AnimationId) error

	// Get returns the animation for id, and whether it was found.
	Get(id common.AnimationId) (Animation, bool)

	// All returns a snapshot copy of every registered animation.
	All() map[common.AnimationId]Animation
}

type registry struct {
	mu         sync.RWMutex
	animations map[common.AnimationId]Animation
}

// New builds an empty Registry.
func New() Registry {
	return &registry{animations: make(map[common.AnimationId]Animation)}
}

func (r *registry) Register(manifest Manifest, target common.Target) common.AnimationId {
	id := common.AnimationId(uuid.NewString())
	// Collision with an existing uuid is astronomically unlikely; retry the
	// rare case rather than surface it to the caller.
	r.mu.Lock()
	for {
		if _, exists := r.animations[id]; !exists {
			break
		}
		id = common.AnimationId(uuid.NewString())
	}
	r.animations[id] = Animation{Id: id, Manifest: manifest, Target: target}
	r.mu.Unlock()
	return id
}

func (r *registry) RegisterWithId(id common.AnimationId, manifest Manifest, target common.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.animations[id]; exists {
		return common.NewExistsError("animation", string(id))
	}
	r.animations[id] = Animation{Id: id, Manifest: manifest, Target: target}
	return nil
}

func (r *registry) Remove(id common.AnimationId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.animations[id]; !exists {
		return common.NewDoesNotExistError("animation", string(id))
	}
	delete(r.animations, id)
	return nil
}

func (r *registry) Get(id common.AnimationId) (Animation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.animations[id]
	return a, ok
}

func (r *registry) All() map[common.AnimationId]Animation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[common.AnimationId]Animation, len(r.animations))
	for k, v := range r.animations {
		out[k] = v
	}
	return out
}
