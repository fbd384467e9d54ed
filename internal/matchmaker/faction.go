package matchmaker

import (
	"math/rand"

	"github.com/jediswimmer/ironcurtain/internal/model"
)

// AssignFactions resolves the faction each participant plays, following the
// rule tree in spec §4.1. historyA is the first participant's faction
// history ring; only A's history is consulted when both preferences are
// ambiguous, per spec.
func AssignFactions(prefA, prefB model.Faction, historyA []model.Faction, rng *rand.Rand) (model.Faction, model.Faction) {
	switch {
	case prefA != model.FactionAny && prefB != model.FactionAny && prefA != prefB:
		return prefA, prefB
	case prefA != model.FactionAny && prefB == model.FactionAny:
		return prefA, prefA.Complement()
	case prefA == model.FactionAny && prefB != model.FactionAny:
		return prefB.Complement(), prefB
	default:
		a := pickFaction(historyA, rng)
		return a, a.Complement()
	}
}

// pickFaction consults a's history to decide which concrete faction to
// assign when preference alone does not settle it.
func pickFaction(history []model.Faction, rng *rand.Rand) model.Faction {
	agent := model.Agent{FactionHistory: history}
	if agent.LastNIdentical(3) {
		return history[len(history)-1].Complement()
	}
	if less, ok := agent.LessRepresented(); ok {
		return less
	}
	if rng.Intn(2) == 0 {
		return model.FactionA
	}
	return model.FactionB
}

// SelectMap chooses uniformly at random from the mode's map pool.
func SelectMap(pool []string, rng *rand.Rand) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[rng.Intn(len(pool))]
}
