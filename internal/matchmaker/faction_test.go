package matchmaker_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jediswimmer/ironcurtain/internal/matchmaker"
	"github.com/jediswimmer/ironcurtain/internal/model"
)

func TestAssignFactions_BothConcreteDiffer(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a, b := matchmaker.AssignFactions(model.FactionA, model.FactionB, nil, rng)
	assert.Equal(t, model.FactionA, a)
	assert.Equal(t, model.FactionB, b)
}

func TestAssignFactions_OneConcreteOtherGetsComplement(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a, b := matchmaker.AssignFactions(model.FactionB, model.FactionAny, nil, rng)
	assert.Equal(t, model.FactionB, a)
	assert.Equal(t, model.FactionA, b)

	a, b = matchmaker.AssignFactions(model.FactionAny, model.FactionA, nil, rng)
	assert.Equal(t, model.FactionB, a)
	assert.Equal(t, model.FactionA, b)
}

func TestAssignFactions_BothAnyConsultsHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	history := []model.Faction{model.FactionA, model.FactionA, model.FactionB}
	a, b := matchmaker.AssignFactions(model.FactionAny, model.FactionAny, history, rng)
	assert.Equal(t, model.FactionB, a, "less-represented side in history")
	assert.Equal(t, model.FactionA, b)
}

func TestAssignFactions_LastThreeIdenticalForcesComplement(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	history := []model.Faction{model.FactionB, model.FactionA, model.FactionA, model.FactionA}
	a, b := matchmaker.AssignFactions(model.FactionAny, model.FactionAny, history, rng)
	assert.Equal(t, model.FactionB, a)
	assert.Equal(t, model.FactionA, b)
}

func TestSelectMap_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := matchmaker.SelectMap([]string{"only-map"}, rng)
	assert.Equal(t, "only-map", m)
}
