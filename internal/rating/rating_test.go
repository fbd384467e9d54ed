package rating_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jediswimmer/ironcurtain/internal/rating"
)

func TestApplyWinLoss_EqualRatings(t *testing.T) {
	winner := rating.Outcome{GamesPlayed: 50, Rating: 1000, PeakRating: 1000}
	loser := rating.Outcome{GamesPlayed: 50, Rating: 1000, PeakRating: 1000}

	winnerUpdate, loserUpdate := rating.ApplyWinLoss(winner, loser)

	// Equal ratings: expected score 0.5 each, K=20 (games >= 30).
	assert.Equal(t, 10, winnerUpdate.Delta)
	assert.Equal(t, -10, loserUpdate.Delta)
	assert.Equal(t, 1010, winnerUpdate.NewRating)
	assert.Equal(t, 990, loserUpdate.NewRating)
	assert.Equal(t, 1010, winnerUpdate.NewPeakRating)
	assert.Equal(t, 1, winnerUpdate.NewStreak)
	assert.Equal(t, -1, loserUpdate.NewStreak)
}

func TestApplyWinLoss_KFactorByGamesPlayed(t *testing.T) {
	newPlayer := rating.Outcome{GamesPlayed: 5, Rating: 1000, PeakRating: 1000}
	opponent := rating.Outcome{GamesPlayed: 5, Rating: 1000, PeakRating: 1000}
	update, _ := rating.ApplyWinLoss(newPlayer, opponent)
	assert.Equal(t, 20, update.Delta, "K=40 at <10 games, even split expectation")
}

func TestApplyWinLoss_FloorsLoserRating(t *testing.T) {
	winner := rating.Outcome{GamesPlayed: 50, Rating: 105, PeakRating: 900}
	loser := rating.Outcome{GamesPlayed: 50, Rating: 105, PeakRating: 900}

	// Equal ratings, K=20: the loser's delta is -10, which would take 105
	// down to 95 without the floor.
	_, loserUpdate := rating.ApplyWinLoss(winner, loser)
	assert.Equal(t, rating.FloorRating, loserUpdate.NewRating)
}

func TestApplyWinLoss_StreakReversal(t *testing.T) {
	winner := rating.Outcome{GamesPlayed: 50, Rating: 1000, PeakRating: 1000, Streak: -3}
	loser := rating.Outcome{GamesPlayed: 50, Rating: 1000, PeakRating: 1000, Streak: 4}

	winnerUpdate, loserUpdate := rating.ApplyWinLoss(winner, loser)
	assert.Equal(t, 1, winnerUpdate.NewStreak, "losing streak broken by a win resets to +1")
	assert.Equal(t, -1, loserUpdate.NewStreak, "winning streak broken by a loss resets to -1")
}

func TestApplyWinLoss_StreakContinuation(t *testing.T) {
	winner := rating.Outcome{GamesPlayed: 50, Rating: 1000, PeakRating: 1000, Streak: 3}
	loser := rating.Outcome{GamesPlayed: 50, Rating: 1000, PeakRating: 1000, Streak: -2}

	winnerUpdate, loserUpdate := rating.ApplyWinLoss(winner, loser)
	assert.Equal(t, 4, winnerUpdate.NewStreak)
	assert.Equal(t, -3, loserUpdate.NewStreak)
}

func TestApplyDraw_ZeroSumAndStreakUnchanged(t *testing.T) {
	a := rating.Outcome{GamesPlayed: 50, Rating: 1000, PeakRating: 1000, Streak: 2}
	b := rating.Outcome{GamesPlayed: 50, Rating: 1000, PeakRating: 1000, Streak: -5}

	aUpdate, bUpdate := rating.ApplyDraw(a, b)
	assert.Equal(t, 0, aUpdate.Delta)
	assert.Equal(t, 0, bUpdate.Delta)
	assert.Equal(t, 2, aUpdate.NewStreak, "draw neither increments nor resets")
	assert.Equal(t, -5, bUpdate.NewStreak)
}

func TestApplyWinLoss_DeltaBoundedByOwnKFactor(t *testing.T) {
	winner := rating.Outcome{GamesPlayed: 15, Rating: 1200, PeakRating: 1200}
	loser := rating.Outcome{GamesPlayed: 40, Rating: 1100, PeakRating: 1150}

	winnerUpdate, loserUpdate := rating.ApplyWinLoss(winner, loser)
	// K differs between participants (32 vs 20), so deltas are not required
	// to be equal-and-opposite, only each individually bounded by its own
	// K-factor times the max possible score gap (1.0).
	assert.LessOrEqual(t, winnerUpdate.Delta, 32)
	assert.GreaterOrEqual(t, loserUpdate.Delta, -20)
}
