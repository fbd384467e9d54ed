package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jediswimmer/ironcurtain/internal/arbiter"
	"github.com/jediswimmer/ironcurtain/internal/model"
	"github.com/jediswimmer/ironcurtain/internal/storage"
	"github.com/jediswimmer/ironcurtain/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		os.Exit(1)
	}
	testDB = db
	defer db.Close(context.Background())

	os.Exit(m.Run())
}

func uniqueAgentID(t *testing.T, prefix string) string {
	t.Helper()
	return prefix + "-" + time.Now().UTC().Format("150405.000000000")
}

func TestCreateAndGetAgent(t *testing.T) {
	ctx := context.Background()
	agent := model.NewAgent(uniqueAgentID(t, "agent"), "Test Agent")

	created, err := testDB.CreateAgent(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, created.ID)
	assert.Equal(t, 1000, created.Rating)

	got, err := testDB.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, got.ID)
	assert.Equal(t, agent.Name, got.Name)
	assert.Empty(t, got.FactionHistory)
}

func TestGetAgentNotFound(t *testing.T) {
	_, err := testDB.GetAgent(context.Background(), "no-such-agent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListAndCountAgents(t *testing.T) {
	ctx := context.Background()
	before, err := testDB.CountAgents(ctx)
	require.NoError(t, err)

	a1 := model.NewAgent(uniqueAgentID(t, "list-a"), "A")
	a2 := model.NewAgent(uniqueAgentID(t, "list-b"), "B")
	_, err = testDB.CreateAgent(ctx, a1)
	require.NoError(t, err)
	_, err = testDB.CreateAgent(ctx, a2)
	require.NoError(t, err)

	after, err := testDB.CountAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+2, after)

	agents, err := testDB.ListAgents(ctx, 1000, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(agents), 2)
}

func TestSaveResultUpdatesBothAgentsInOneTransaction(t *testing.T) {
	ctx := context.Background()
	a := model.NewAgent(uniqueAgentID(t, "winner"), "Winner")
	b := model.NewAgent(uniqueAgentID(t, "loser"), "Loser")
	_, err := testDB.CreateAgent(ctx, a)
	require.NoError(t, err)
	_, err = testDB.CreateAgent(ctx, b)
	require.NoError(t, err)

	matchID := uniqueAgentID(t, "match")
	result := model.MatchResult{
		MatchID:    matchID,
		Mode:       "1v1",
		Map:        "arena-01",
		WinnerID:   a.ID,
		LoserID:    b.ID,
		Status:     model.MatchCompleted,
		Reason:     "elimination",
		Duration:   5 * time.Minute,
		DeltaA:     16,
		DeltaB:     -16,
		AgentAID:   a.ID,
		AgentBID:   b.ID,
		FinishedAt: time.Now().UTC(),
	}
	updates := []arbiter.ParticipantUpdate{
		{AgentID: a.ID, Faction: model.FactionA, NewRating: a.Rating + 16, PeakRating: a.Rating + 16, NewStreak: 1, GamesPlayed: 1, Win: true},
		{AgentID: b.ID, Faction: model.FactionB, NewRating: b.Rating - 16, PeakRating: b.PeakRating, NewStreak: -1, GamesPlayed: 1, Loss: true},
	}

	require.NoError(t, testDB.SaveResult(ctx, result, updates))

	saved, err := testDB.GetMatchResult(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, saved.WinnerID)
	assert.Equal(t, b.ID, saved.LoserID)
	assert.Equal(t, model.MatchCompleted, saved.Status)
	assert.Equal(t, 5*time.Minute, saved.Duration)

	gotA, err := testDB.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Rating+16, gotA.Rating)
	assert.Equal(t, 1, gotA.Wins)
	assert.Equal(t, []model.Faction{model.FactionA}, gotA.FactionHistory)

	gotB, err := testDB.GetAgent(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Rating-16, gotB.Rating)
	assert.Equal(t, 1, gotB.Losses)
}

func TestGetMatchResultNotFound(t *testing.T) {
	_, err := testDB.GetMatchResult(context.Background(), "no-such-match")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveAndListQueueOutcomes(t *testing.T) {
	ctx := context.Background()
	agentID := uniqueAgentID(t, "queue-agent")

	matched := model.QueueOutcome{
		AgentID: agentID, Mode: "1v1", Waited: 2 * time.Second,
		Matched: true, OpponentID: "opp-1", RatingDiff: 20, At: time.Now().UTC(),
	}
	require.NoError(t, testDB.SaveQueueOutcome(ctx, matched))

	timedOut := model.QueueOutcome{
		AgentID: agentID, Mode: "1v1", Waited: 5 * time.Minute,
		Matched: false, At: time.Now().UTC().Add(time.Second),
	}
	require.NoError(t, testDB.SaveQueueOutcome(ctx, timedOut))

	outcomes, err := testDB.ListQueueOutcomes(ctx, agentID, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	// Most recent first.
	assert.False(t, outcomes[0].Matched)
	assert.True(t, outcomes[1].Matched)
	assert.Equal(t, "opp-1", outcomes[1].OpponentID)
}

func TestEstimatedWaitAveragesMatchedOutcomes(t *testing.T) {
	ctx := context.Background()
	mode := uniqueAgentID(t, "mode")

	for _, waited := range []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second} {
		require.NoError(t, testDB.SaveQueueOutcome(ctx, model.QueueOutcome{
			AgentID: uniqueAgentID(t, "wait-agent"), Mode: mode, Waited: waited, Matched: true, At: time.Now().UTC(),
		}))
	}

	avg, ok := testDB.EstimatedWait(mode, 0)
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, avg)
}

func TestEstimatedWaitNoHistory(t *testing.T) {
	_, ok := testDB.EstimatedWait(uniqueAgentID(t, "empty-mode"), 0)
	assert.False(t, ok)
}

func TestFactionHistoryProviderReturnsNilForUnknownAgent(t *testing.T) {
	assert.Nil(t, testDB.FactionHistory("no-such-agent"))
}
