// Package fog implements the per-agent, per-tick projection from an
// authoritative game state to a restricted fog-filtered view (spec §4.3).
//
// FilterFor is a pure function of state plus per-viewer memory: it never
// performs I/O and never errors except on the single programmer-visible
// invariant breach (an unknown viewer), matching the Fog Enforcer's role
// as a pure data transformer (spec §7).
package fog

import (
	"fmt"

	"github.com/jediswimmer/ironcurtain/internal/model"
)

// ErrUnknownViewer is returned when FilterFor is asked to project a state
// for a viewer who is not a participant in it. The arbiter must never
// trigger this in normal operation — it indicates a binding bug.
var ErrUnknownViewer = fmt.Errorf("fog: unknown viewer")

// Enforcer owns per-(match, viewer) frozen-actor memory and produces
// fog-filtered views. One Enforcer is created per active match.
type Enforcer struct {
	memory *Memory
}

// NewEnforcer creates a Fog Enforcer with empty memory.
func NewEnforcer() *Enforcer {
	return &Enforcer{memory: NewMemory()}
}

// FilterFor produces viewer's fog-filtered view of state and records the
// viewer's current visible-enemy snapshot for future frozen-actor lookups.
func (e *Enforcer) FilterFor(state model.AuthoritativeState, viewerID string) (model.FogView, error) {
	if !state.IsParticipant(viewerID) {
		return model.FogView{}, ErrUnknownViewer
	}
	econ, _ := state.EconomyFor(viewerID)

	view := model.FogView{
		Tick:     state.Tick,
		ViewerID: viewerID,
		Map:      state.Map,
		Own: model.OwnSide{
			Credits:        econ.Credits,
			PowerGenerated: econ.PowerGenerated,
			PowerConsumed:  econ.PowerConsumed,
			Visible:        econ.Visible,
			Explored:       econ.Explored,
		},
	}
	view.Own.ExplorationFraction = explorationFraction(econ.Explored, state.Map)

	for _, u := range state.Units {
		if u.OwnerID == viewerID {
			view.Own.Units = append(view.Own.Units, u)
		}
	}
	for _, s := range state.Structures {
		if s.OwnerID == viewerID {
			view.Own.Structures = append(view.Own.Structures, s)
		}
	}

	visibleEnemies := make(map[string]model.FrozenActor)

	for _, u := range state.Units {
		if u.OwnerID == viewerID {
			continue
		}
		if !econ.Visible.Contains(u.Position) {
			continue
		}
		view.EnemyUnits = append(view.EnemyUnits, model.EnemyUnit{
			ID:       u.ID,
			Type:     u.Type,
			OwnerID:  u.OwnerID,
			Position: u.Position,
			Health:   model.BucketHealth(u.Health, u.MaxHealth),
		})
		visibleEnemies[u.ID] = model.FrozenActor{
			ID: u.ID, Kind: "unit", Type: u.Type, OwnerID: u.OwnerID,
			Position: u.Position, Health: model.BucketHealth(u.Health, u.MaxHealth),
			LastSeenTick: state.Tick,
		}
	}
	for _, s := range state.Structures {
		if s.OwnerID == viewerID {
			continue
		}
		if !econ.Visible.Contains(s.Position) {
			continue
		}
		// Structure production queues are a strategic tell and are never
		// exposed for enemy structures (spec §4.3).
		view.EnemyStructures = append(view.EnemyStructures, model.EnemyStructure{
			ID:       s.ID,
			Type:     s.Type,
			OwnerID:  s.OwnerID,
			Position: s.Position,
			Health:   model.BucketHealth(s.Health, s.MaxHealth),
		})
		visibleEnemies[s.ID] = model.FrozenActor{
			ID: s.ID, Kind: "structure", Type: s.Type, OwnerID: s.OwnerID,
			Position: s.Position, Health: model.BucketHealth(s.Health, s.MaxHealth),
			LastSeenTick: state.Tick,
		}
	}

	view.FrozenActors = e.memory.Freeze(viewerID, visibleEnemies)

	return view, nil
}

// Forget releases a viewer's frozen-actor memory. Called by the match on
// completion (spec §4.3 "Cleanup").
func (e *Enforcer) Forget(viewerID string) {
	e.memory.Forget(viewerID)
}

func explorationFraction(explored model.CellSet, m model.MapMeta) float64 {
	total := m.Width * m.Height
	if total <= 0 {
		return 0
	}
	return float64(len(explored)) / float64(total)
}
