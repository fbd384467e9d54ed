package matchmaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jediswimmer/ironcurtain/internal/matchmaker"
	"github.com/jediswimmer/ironcurtain/internal/model"
)

type fakeNotifier struct {
	matched  []model.Pairing
	timedOut int
}

func (f *fakeNotifier) NotifyMatchFound(p model.Pairing) { f.matched = append(f.matched, p) }
func (f *fakeNotifier) NotifyTimeout()                   { f.timedOut++ }

func newTestMatchmaker() *matchmaker.Matchmaker {
	cfg := matchmaker.DefaultConfig()
	cfg.MapPool = map[string][]string{"1v1": {"arena-1"}}
	return matchmaker.New(cfg, nil, nil)
}

func TestJoin_RejectsDuplicate(t *testing.T) {
	m := newTestMatchmaker()
	require.NoError(t, m.Join(&model.QueueEntry{AgentID: "a1", Mode: "1v1", JoinedAt: time.Now()}))
	err := m.Join(&model.QueueEntry{AgentID: "a1", Mode: "1v1", JoinedAt: time.Now()})
	assert.ErrorIs(t, err, matchmaker.ErrAlreadyQueued)
}

func TestLeave_RemovesEntry(t *testing.T) {
	m := newTestMatchmaker()
	require.NoError(t, m.Join(&model.QueueEntry{AgentID: "a1", Mode: "1v1", JoinedAt: time.Now()}))
	assert.True(t, m.Leave("a1"))
	assert.False(t, m.Leave("a1"))
}

func TestStatus_ReportsPosition(t *testing.T) {
	m := newTestMatchmaker()
	now := time.Now()
	require.NoError(t, m.Join(&model.QueueEntry{AgentID: "a1", Mode: "1v1", JoinedAt: now.Add(-10 * time.Second)}))
	require.NoError(t, m.Join(&model.QueueEntry{AgentID: "a2", Mode: "1v1", JoinedAt: now}))

	status, ok := m.Status("a2", now)
	require.True(t, ok)
	assert.Equal(t, "1v1", status.Mode)
	assert.Equal(t, 2, status.Position)
}

func TestTick_PairsCompatibleRatings(t *testing.T) {
	m := newTestMatchmaker()
	now := time.Now()
	notifierA := &fakeNotifier{}
	notifierB := &fakeNotifier{}
	require.NoError(t, m.Join(&model.QueueEntry{
		AgentID: "a1", Mode: "1v1", RatingSnapshot: 1000, JoinedAt: now, Notifier: notifierA,
	}))
	require.NoError(t, m.Join(&model.QueueEntry{
		AgentID: "a2", Mode: "1v1", RatingSnapshot: 1050, JoinedAt: now, Notifier: notifierB,
	}))

	outcomes := m.Tick(now)
	require.Len(t, outcomes, 1)
	require.Len(t, outcomes[0].Pairings, 1)

	pairing := outcomes[0].Pairings[0]
	assert.Equal(t, "arena-1", pairing.Map)
	assert.Len(t, notifierA.matched, 1)
	assert.Len(t, notifierB.matched, 1)

	_, stillQueued := m.Status("a1", now)
	assert.False(t, stillQueued, "paired entries are removed from the queue")
}

func TestTick_SkipsIncompatibleRatings(t *testing.T) {
	m := newTestMatchmaker()
	now := time.Now()
	require.NoError(t, m.Join(&model.QueueEntry{AgentID: "a1", Mode: "1v1", RatingSnapshot: 1000, JoinedAt: now}))
	require.NoError(t, m.Join(&model.QueueEntry{AgentID: "a2", Mode: "1v1", RatingSnapshot: 2000, JoinedAt: now}))

	outcomes := m.Tick(now)
	require.Len(t, outcomes, 1)
	assert.Empty(t, outcomes[0].Pairings)

	_, ok := m.Status("a1", now)
	assert.True(t, ok, "unmatched entries remain queued")
}

func TestTick_EvictsTimedOutEntries(t *testing.T) {
	m := newTestMatchmaker()
	now := time.Now()
	notifier := &fakeNotifier{}
	require.NoError(t, m.Join(&model.QueueEntry{
		AgentID: "a1", Mode: "1v1", RatingSnapshot: 1000,
		JoinedAt: now.Add(-10 * time.Minute), Notifier: notifier,
	}))

	outcomes := m.Tick(now)
	require.Len(t, outcomes, 1)
	assert.Len(t, outcomes[0].TimedOut, 1)
	assert.Equal(t, 1, notifier.timedOut)

	_, ok := m.Status("a1", now)
	assert.False(t, ok)
}

func TestTick_WidensToleranceOverTime(t *testing.T) {
	m := newTestMatchmaker()
	now := time.Now()
	require.NoError(t, m.Join(&model.QueueEntry{
		AgentID: "a1", Mode: "1v1", RatingSnapshot: 1000, JoinedAt: now.Add(-90 * time.Second),
	}))
	require.NoError(t, m.Join(&model.QueueEntry{
		AgentID: "a2", Mode: "1v1", RatingSnapshot: 1300, JoinedAt: now,
	}))

	// After 90s, a1's tolerance widens from 200 to 200 + 3*50 = 350, which
	// covers the 300-point gap that the initial 200 would not, so the two
	// pair on this tick.
	outcomes := m.Tick(now)
	require.Len(t, outcomes, 1)
	assert.Len(t, outcomes[0].Pairings, 1)
}

func TestGlobalStatus_FallbackHeuristic(t *testing.T) {
	m := newTestMatchmaker()
	require.NoError(t, m.Join(&model.QueueEntry{AgentID: "a1", Mode: "1v1", JoinedAt: time.Now()}))

	statuses := m.GlobalStatus()
	require.Len(t, statuses, 1)
	assert.Equal(t, "1v1", statuses[0].Mode)
	assert.Equal(t, 1, statuses[0].Depth)
	assert.Positive(t, statuses[0].EstimatedWait)
}
