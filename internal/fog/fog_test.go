package fog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jediswimmer/ironcurtain/internal/fog"
	"github.com/jediswimmer/ironcurtain/internal/model"
)

func twoPlayerState(tick int64, aVisible, bVisible model.CellSet) model.AuthoritativeState {
	return model.AuthoritativeState{
		Tick: tick,
		Map:  model.MapMeta{Name: "arena", Width: 10, Height: 10},
		Economies: []model.ParticipantEconomy{
			{AgentID: "agent-a", Credits: 500, Visible: aVisible, Explored: aVisible},
			{AgentID: "agent-b", Credits: 500, Visible: bVisible, Explored: bVisible},
		},
		Units: []model.Unit{
			{ID: "unit-a1", OwnerID: "agent-a", Position: model.Cell{X: 1, Y: 1}, Health: 100, MaxHealth: 100},
			{ID: "unit-b1", OwnerID: "agent-b", Position: model.Cell{X: 5, Y: 5}, Health: 40, MaxHealth: 100},
		},
		Structures: []model.Structure{
			{ID: "struct-b1", OwnerID: "agent-b", Position: model.Cell{X: 6, Y: 6}, Health: 300, MaxHealth: 300,
				BuildQueue: []model.BuildQueueEntry{{BuildType: "tank", Progress: 0.5}}},
		},
	}
}

func cellSet(cells ...model.Cell) model.CellSet {
	s := make(model.CellSet, len(cells))
	for _, c := range cells {
		s[c] = struct{}{}
	}
	return s
}

func TestFilterFor_UnknownViewer(t *testing.T) {
	e := fog.NewEnforcer()
	state := twoPlayerState(1, nil, nil)
	_, err := e.FilterFor(state, "agent-c")
	assert.ErrorIs(t, err, fog.ErrUnknownViewer)
}

func TestFilterFor_HidesUnseenEnemies(t *testing.T) {
	e := fog.NewEnforcer()
	aVisible := cellSet(model.Cell{X: 1, Y: 1})
	state := twoPlayerState(1, aVisible, nil)

	view, err := e.FilterFor(state, "agent-a")
	require.NoError(t, err)

	require.Len(t, view.Own.Units, 1)
	assert.Equal(t, "unit-a1", view.Own.Units[0].ID)
	assert.Empty(t, view.EnemyUnits, "enemy outside visible set must not appear")
	assert.Empty(t, view.FrozenActors, "never-seen enemy has no frozen memory")
}

func TestFilterFor_BucketsEnemyHealthAndStripsBuildQueue(t *testing.T) {
	e := fog.NewEnforcer()
	aVisible := cellSet(model.Cell{X: 5, Y: 5}, model.Cell{X: 6, Y: 6})
	state := twoPlayerState(1, aVisible, nil)

	view, err := e.FilterFor(state, "agent-a")
	require.NoError(t, err)

	require.Len(t, view.EnemyUnits, 1)
	assert.Equal(t, model.HealthBucket26To50, view.EnemyUnits[0].Health)

	require.Len(t, view.EnemyStructures, 1)
	assert.True(t, view.VisibleEnemyID("struct-b1"))
}

func TestFilterFor_FreezesActorOnceItLeavesVisibility(t *testing.T) {
	e := fog.NewEnforcer()
	visibleTick1 := cellSet(model.Cell{X: 5, Y: 5})
	state1 := twoPlayerState(1, visibleTick1, nil)

	view1, err := e.FilterFor(state1, "agent-a")
	require.NoError(t, err)
	require.Len(t, view1.EnemyUnits, 1)
	assert.Empty(t, view1.FrozenActors)

	state2 := twoPlayerState(2, nil, nil) // agent-a now sees nothing
	view2, err := e.FilterFor(state2, "agent-a")
	require.NoError(t, err)
	assert.Empty(t, view2.EnemyUnits)
	require.Len(t, view2.FrozenActors, 1)
	assert.Equal(t, "unit-b1", view2.FrozenActors[0].ID)
	assert.Equal(t, int64(1), view2.FrozenActors[0].LastSeenTick)
}

func TestFilterFor_Forget(t *testing.T) {
	e := fog.NewEnforcer()
	visible := cellSet(model.Cell{X: 5, Y: 5})
	state := twoPlayerState(1, visible, nil)
	_, err := e.FilterFor(state, "agent-a")
	require.NoError(t, err)

	e.Forget("agent-a")

	state2 := twoPlayerState(2, nil, nil)
	view, err := e.FilterFor(state2, "agent-a")
	require.NoError(t, err)
	assert.Empty(t, view.FrozenActors, "forgotten viewer has no stale memory")
}
