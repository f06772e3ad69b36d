// Package world implements the World Context (C2): the read-mostly store
// of fixtures, installations, and groups, and the query surface the State
// Aggregator and Frame Resolver use to turn a logical target into LED
// counts, positions, and per-fixture chunks.
package world

import (
	"sync"

	"github.com/Carmen-Shannon/blinkenctl/common"
)

// Fixture is a single addressable LED run: a fixed LED count and a
// position per LED.
type Fixture struct {
	Id        common.FixtureId
	Positions []common.Coord
}

// Installation orders a list of fixtures.
type Installation struct {
	Id       common.InstallationId
	Fixtures []common.FixtureId
}

// Group orders a list of installations and/or other groups.
type Group struct {
	Id      common.GroupId
	Members []common.Target
}

// FixtureChunk describes one fixture's slice of a target's flat LED
// output.
type FixtureChunk struct {
	FixtureId common.FixtureId
	LedCount  uint32
}

// WorldContextState is a materialized, read-only snapshot of the three
// entity maps, keyed by logical target. Consumed by the State Aggregator;
// rebuilt whenever a mutation invalidates it.
type WorldContextState struct {
	NumLEDs       map[common.Target]uint32
	LedPositions  map[common.Target][]common.Coord
	FixtureChunks map[common.Target][]FixtureChunk
}

// WorldContext is the read-mostly store of fixtures, installations, and
// groups.
type WorldContext interface {
	AddFixture(id common.FixtureId, positions []common.Coord) error
	RemoveFixture(id common.FixtureId) error

	AddInstallation(id common.InstallationId, fixtures []common.FixtureId) error
	RemoveInstallation(id common.InstallationId) error

	AddGroup(id common.GroupId, members []common.Target) error
	RemoveGroup(id common.GroupId) error

	LedCount(target common.Target) (uint32, error)
	LedPositions(target common.Target) ([]common.Coord, error)
	FixtureChunks(target common.Target) ([]FixtureChunk, error)

	// State returns the cached WorldContextState, rebuilding it first if a
	// mutation has invalidated the cache since the last call.
	State() WorldContextState
}

type worldContext struct {
	mu            sync.RWMutex
	fixtures      map[common.FixtureId]Fixture
	installations map[common.InstallationId]Installation
	groups        map[common.GroupId]Group

	stateValid bool
	state      WorldContextState
}

// New builds an empty WorldContext.
func New() WorldContext {
	return &worldContext{
		fixtures:      make(map[common.FixtureId]Fixture),
		installations: make(map[common.InstallationId]Installation),
		groups:        make(map[common.GroupId]Group),
	}
}

func (w *worldContext) AddFixture(id common.FixtureId, positions []common.Coord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.fixtures[id]; ok {
		return common.NewExistsError("fixture", string(id))
	}
	w.fixtures[id] = Fixture{Id: id, Positions: positions}
	w.invalidate()
	return nil
}

func (w *worldContext) RemoveFixture(id common.FixtureId) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.fixtures[id]; !ok {
		return common.NewDoesNotExistError("fixture", string(id))
	}
	delete(w.fixtures, id)
	w.invalidate()
	return nil
}

func (w *worldContext) AddInstallation(id common.InstallationId, fixtures []common.FixtureId) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.installations[id]; ok {
		return common.NewExistsError("installation", string(id))
	}
	cp := append([]common.FixtureId(nil), fixtures...)
	w.installations[id] = Installation{Id: id, Fixtures: cp}
	w.invalidate()
	return nil
}

func (w *worldContext) RemoveInstallation(id common.InstallationId) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.installations[id]; !ok {
		return common.NewDoesNotExistError("installation", string(id))
	}
	delete(w.installations, id)
	w.invalidate()
	return nil
}

func (w *worldContext) AddGroup(id common.GroupId, members []common.Target) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.groups[id]; ok {
		return common.NewExistsError("group", string(id))
	}
	for _, m := range members {
		if m.Kind == common.TargetGroup && w.reachesGroup(common.GroupId(m.ID), id) {
			return common.NewCycleError(string(id))
		}
	}
	cp := append([]common.Target(nil), members...)
	w.groups[id] = Group{Id: id, Members: cp}
	w.invalidate()
	return nil
}

func (w *worldContext) RemoveGroup(id common.GroupId) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.groups[id]; !ok {
		return common.NewDoesNotExistError("group", string(id))
	}
	delete(w.groups, id)
	w.invalidate()
	return nil
}

// reachesGroup reports whether starting from group `from` (already
// registered), a walk over its transitive group members ever reaches
// `target`. Used to reject an AddGroup that would introduce a cycle before
// the new group is ever inserted.
func (w *worldContext) reachesGroup(from, target common.GroupId) bool {
	if from == target {
		return true
	}
	visited := make(map[common.GroupId]bool)
	var walk func(common.GroupId) bool
	walk = func(g common.GroupId) bool {
		if visited[g] {
			return false
		}
		visited[g] = true
		group, ok := w.groups[g]
		if !ok {
			return false
		}
		for _, m := range group.Members {
			if m.Kind != common.TargetGroup {
				continue
			}
			sub := common.GroupId(m.ID)
			if sub == target {
				return true
			}
			if walk(sub) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

func (w *worldContext) invalidate() {
	w.stateValid = false
}

func (w *worldContext) LedCount(target common.Target) (uint32, error) {
	chunks, err := w.FixtureChunks(target)
	if err != nil {
		return 0, err
	}
	var total uint32
	for _, c := range chunks {
		total += c.LedCount
	}
	return total, nil
}

func (w *worldContext) LedPositions(target common.Target) ([]common.Coord, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	positions, _, err := w.resolvePositions(target, make(map[common.Target]bool))
	return positions, err
}

func (w *worldContext) FixtureChunks(target common.Target) ([]FixtureChunk, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.resolveChunks(target, make(map[common.Target]bool))
}

func (w *worldContext) resolveChunks(target common.Target, seen map[common.Target]bool) ([]FixtureChunk, error) {
	if seen[target] {
		return nil, nil
	}
	seen[target] = true

	switch target.Kind {
	case common.TargetFixture:
		f, ok := w.fixtures[common.FixtureId(target.ID)]
		if !ok {
			return nil, common.NewTargetDoesNotExistError("", target.ID)
		}
		return []FixtureChunk{{FixtureId: f.Id, LedCount: uint32(len(f.Positions))}}, nil
	case common.TargetInstallation:
		inst, ok := w.installations[common.InstallationId(target.ID)]
		if !ok {
			return nil, common.NewTargetDoesNotExistError("", target.ID)
		}
		var chunks []FixtureChunk
		for _, fid := range inst.Fixtures {
			sub, err := w.resolveChunks(common.Target{Kind: common.TargetFixture, ID: string(fid)}, seen)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, sub...)
		}
		return chunks, nil
	case common.TargetGroup:
		grp, ok := w.groups[common.GroupId(target.ID)]
		if !ok {
			return nil, common.NewTargetDoesNotExistError("", target.ID)
		}
		var chunks []FixtureChunk
		for _, m := range grp.Members {
			sub, err := w.resolveChunks(m, seen)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, sub...)
		}
		return chunks, nil
	default:
		return nil, common.NewTargetDoesNotExistError("", target.ID)
	}
}

func (w *worldContext) resolvePositions(target common.Target, seen map[common.Target]bool) ([]common.Coord, bool, error) {
	if seen[target] {
		return nil, true, nil
	}
	seen[target] = true

	switch target.Kind {
	case common.TargetFixture:
		f, ok := w.fixtures[common.FixtureId(target.ID)]
		if !ok {
			return nil, false, common.NewTargetDoesNotExistError("", target.ID)
		}
		return append([]common.Coord(nil), f.Positions...), true, nil
	case common.TargetInstallation:
		inst, ok := w.installations[common.InstallationId(target.ID)]
		if !ok {
			return nil, false, common.NewTargetDoesNotExistError("", target.ID)
		}
		var positions []common.Coord
		for _, fid := range inst.Fixtures {
			sub, _, err := w.resolvePositions(common.Target{Kind: common.TargetFixture, ID: string(fid)}, seen)
			if err != nil {
				return nil, false, err
			}
			positions = append(positions, sub...)
		}
		return positions, true, nil
	case common.TargetGroup:
		grp, ok := w.groups[common.GroupId(target.ID)]
		if !ok {
			return nil, false, common.NewTargetDoesNotExistError("", target.ID)
		}
		var positions []common.Coord
		for _, m := range grp.Members {
			sub, _, err := w.resolvePositions(m, seen)
			if err != nil {
				return nil, false, err
			}
			positions = append(positions, sub...)
		}
		return positions, true, nil
	default:
		return nil, false, common.NewTargetDoesNotExistError("", target.ID)
	}
}

// State returns the cached snapshot, rebuilding it if invalidated. Rebuild
// walks every known fixture, installation, and group id once.
func (w *worldContext) State() WorldContextState {
	w.mu.Lock()
	if w.stateValid {
		s := w.state
		w.mu.Unlock()
		return s
	}

	numLEDs := make(map[common.Target]uint32)
	positions := make(map[common.Target][]common.Coord)
	chunks := make(map[common.Target][]FixtureChunk)

	var targets []common.Target
	for id := range w.fixtures {
		targets = append(targets, common.Target{Kind: common.TargetFixture, ID: string(id)})
	}
	for id := range w.installations {
		targets = append(targets, common.Target{Kind: common.TargetInstallation, ID: string(id)})
	}
	for id := range w.groups {
		targets = append(targets, common.Target{Kind: common.TargetGroup, ID: string(id)})
	}

	for _, target := range targets {
		c, err := w.resolveChunks(target, make(map[common.Target]bool))
		if err != nil {
			continue
		}
		chunks[target] = c
		var total uint32
		for _, ch := range c {
			total += ch.LedCount
		}
		numLEDs[target] = total

		p, _, err := w.resolvePositions(target, make(map[common.Target]bool))
		if err == nil {
			positions[target] = p
		}
	}

	w.state = WorldContextState{NumLEDs: numLEDs, LedPositions: positions, FixtureChunks: chunks}
	w.stateValid = true
	s := w.state
	w.mu.Unlock()
	return s
}
