package fog

import (
	"sort"
	"sync"

	"github.com/jediswimmer/ironcurtain/internal/model"
)

// maxFrozenPerViewer bounds the number of remembered out-of-view actors per
// viewer, oldest-sighting-first eviction (spec §4.3 "bounded by count").
const maxFrozenPerViewer = 200

// Memory holds, per viewer, the last-seen snapshot of every enemy actor that
// viewer has ever observed. Actors currently visible are refreshed on every
// Freeze call; actors that drop out of visibility keep their last snapshot
// until evicted for capacity.
//
// Shape follows the teacher's TTL-map-with-evictor pattern, adapted from a
// time-based to a count-based bound since frozen memory has no expiry of
// its own.
type Memory struct {
	mu     sync.Mutex
	frozen map[string]map[string]model.FrozenActor // viewerID -> actorID -> snapshot
}

// NewMemory constructs empty frozen-actor memory.
func NewMemory() *Memory {
	return &Memory{frozen: make(map[string]map[string]model.FrozenActor)}
}

// Freeze merges the viewer's currently-visible actor snapshots into memory,
// evicts down to the capacity bound, and returns every remembered actor that
// is not in the currently-visible set (the out-of-view "last known" actors).
func (m *Memory) Freeze(viewerID string, visible map[string]model.FrozenActor) []model.FrozenActor {
	m.mu.Lock()
	defer m.mu.Unlock()

	actors, ok := m.frozen[viewerID]
	if !ok {
		actors = make(map[string]model.FrozenActor)
		m.frozen[viewerID] = actors
	}
	for id, snap := range visible {
		actors[id] = snap
	}
	m.evictLocked(actors)

	var stale []model.FrozenActor
	for id, snap := range actors {
		if _, isVisible := visible[id]; isVisible {
			continue
		}
		stale = append(stale, snap)
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	return stale
}

// Forget drops all memory for a viewer (called on match teardown).
func (m *Memory) Forget(viewerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.frozen, viewerID)
}

// evictLocked trims actors to maxFrozenPerViewer, dropping the oldest
// sightings first. Caller must hold m.mu.
func (m *Memory) evictLocked(actors map[string]model.FrozenActor) {
	if len(actors) <= maxFrozenPerViewer {
		return
	}
	type aged struct {
		id   string
		tick int64
	}
	ordered := make([]aged, 0, len(actors))
	for id, snap := range actors {
		ordered = append(ordered, aged{id: id, tick: snap.LastSeenTick})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].tick < ordered[j].tick })
	toDrop := len(actors) - maxFrozenPerViewer
	for i := 0; i < toDrop; i++ {
		delete(actors, ordered[i].id)
	}
}
