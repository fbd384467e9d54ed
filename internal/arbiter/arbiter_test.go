package arbiter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jediswimmer/ironcurtain/internal/arbiter"
	"github.com/jediswimmer/ironcurtain/internal/model"
	"github.com/jediswimmer/ironcurtain/internal/orders"
)

func TestManager_CreateIsImmediatelyReachable(t *testing.T) {
	sim := arbiter.NewFakeSimulator()
	mgr := arbiter.NewManager(sim, orders.ProfileCompetitive, orders.NewMemoryAPMCounter(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	match := mgr.Create(ctx, testPairing())
	got, ok := mgr.Get(match.ID())
	require.True(t, ok)
	assert.Same(t, match, got)
	assert.Len(t, mgr.Active(), 1)
}

func TestManager_EvictsAfterRetentionWindow(t *testing.T) {
	sim := arbiter.NewFakeSimulator()
	mgr := arbiter.NewManager(sim, orders.ProfileCompetitive, orders.NewMemoryAPMCounter(), nil, nil, nil)
	mgr.SetRetention(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pairing := testPairing()
	match := mgr.Create(ctx, pairing)
	time.Sleep(10 * time.Millisecond)

	match.HandleDisconnect(ctx, pairing.Participants[0].AgentID)

	require.Eventually(t, func() bool {
		return match.Status() == model.MatchCancelled
	}, time.Second, 5*time.Millisecond)

	_, stillThere := mgr.Get(match.ID())
	assert.True(t, stillThere, "still within retention window")

	require.Eventually(t, func() bool {
		_, ok := mgr.Get(match.ID())
		return !ok
	}, time.Second, 5*time.Millisecond, "evicted once retention elapses")
}

func TestManager_ShutdownCancelsInFlightMatches(t *testing.T) {
	sim := arbiter.NewFakeSimulator()
	mgr := arbiter.NewManager(sim, orders.ProfileCompetitive, orders.NewMemoryAPMCounter(), nil, nil, nil)

	match := mgr.Create(context.Background(), testPairing())
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, model.MatchConnecting, match.Status())

	mgr.Shutdown()

	// Cancel stops the Run loop without driving the match to a terminal
	// state; shutdown is an abrupt stop, not a resolution.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, model.MatchConnecting, match.Status())
	_, terminated := match.CompletedAt()
	assert.False(t, terminated)
}

func TestManager_DeliveryExhaustionEscalatesMatchToError(t *testing.T) {
	sim := arbiter.NewFakeSimulator()
	mgr := arbiter.NewManager(sim, orders.ProfileCompetitive, orders.NewMemoryAPMCounter(), nil, nil, nil)

	pairing := testPairing()
	match := mgr.Create(context.Background(), pairing)
	time.Sleep(10 * time.Millisecond)

	chA := arbiter.NewOutboundChannel(8)
	chB := arbiter.NewOutboundChannel(8)
	_, err := match.Identify("a1", chA)
	require.NoError(t, err)
	_, err = match.Identify("a2", chB)
	require.NoError(t, err)

	sim.PushState(stateFor(1, pairing.Participants[0], pairing.Participants[1]))
	require.Eventually(t, func() bool {
		return match.Status() == model.MatchRunning
	}, time.Second, 5*time.Millisecond)

	// Fail every delivery attempt the retrying simulator wrapper will make
	// (arbiter.MaxDeliveryRetries of them), so the retry budget exhausts
	// and SubmitOrders must escalate the match to the error state rather
	// than silently dropping the batch.
	sim.FailNextDeliveries(arbiter.MaxDeliveryRetries, errors.New("simulator unreachable"))

	batch := []model.Order{{Type: model.OrderMove, UnitIDs: []string{"u1"}, TargetCell: &model.Cell{X: 1, Y: 1}}}
	_, err = match.SubmitOrders(context.Background(), "a1", batch, nil)
	assert.Error(t, err)

	assert.Equal(t, model.MatchError, match.Status())
}
