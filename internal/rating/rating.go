// Package rating implements the zero-sum Elo rating update applied on
// match completion (spec §4.5).
package rating

import "math"

// FloorRating is the minimum rating a loser's rating is clamped to after a
// match (spec §4.5).
const FloorRating = 100

// Outcome is one participant's result in a completed match.
type Outcome struct {
	// GamesPlayed is the participant's games-played count *before* this
	// match; it selects the K-factor.
	GamesPlayed int
	Rating      int
	PeakRating  int
	Streak      int
}

// Update is the delta to apply to one participant after the match.
type Update struct {
	NewRating     int
	Delta         int
	NewPeakRating int
	NewStreak     int
}

// kFactor resolves the K-factor table in spec §4.5: new players adjust
// faster than established ones.
func kFactor(gamesPlayed int) float64 {
	switch {
	case gamesPlayed < 10:
		return 40
	case gamesPlayed < 30:
		return 32
	default:
		return 20
	}
}

// expectedScore is the standard Elo expectation formula for a player rated
// r against an opponent rated opponent.
func expectedScore(r, opponent int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponent-r)/400))
}

// applyPair computes both participants' post-match ratings from their actual
// scores: (1, 0) for a decisive game (ApplyWinLoss), (0.5, 0.5) for a draw
// (ApplyDraw).
func applyPair(a, b Outcome, scoreA, scoreB float64) (Update, Update) {
	expA := expectedScore(a.Rating, b.Rating)
	expB := 1 - expA

	deltaA := int(math.Round(kFactor(a.GamesPlayed) * (scoreA - expA)))
	deltaB := int(math.Round(kFactor(b.GamesPlayed) * (scoreB - expB)))

	return buildUpdate(a, deltaA), buildUpdate(b, deltaB)
}

func buildUpdate(o Outcome, delta int) Update {
	newRating := o.Rating + delta
	if newRating < FloorRating {
		newRating = FloorRating
	}
	newPeak := o.PeakRating
	if newRating > newPeak {
		newPeak = newRating
	}
	return Update{NewRating: newRating, Delta: delta, NewPeakRating: newPeak}
}

// ApplyWinLoss computes the rating update for a decisive match. winner's
// streak increments (resetting to 1 from a non-positive streak); loser's
// streak decrements (resetting to -1 from a positive streak, a winning
// streak being broken). This mirrors the streak rule in spec §3.
func ApplyWinLoss(winner, loser Outcome) (winnerUpdate, loserUpdate Update) {
	winnerUpdate, loserUpdate = applyPair(winner, loser, 1, 0)
	winnerUpdate.NewStreak = nextStreak(winner.Streak, true)
	loserUpdate.NewStreak = nextStreak(loser.Streak, false)
	return winnerUpdate, loserUpdate
}

// ApplyDraw computes the rating update for a drawn match. A draw neither
// increments nor resets either participant's streak (spec §3).
func ApplyDraw(a, b Outcome) (aUpdate, bUpdate Update) {
	aUpdate, bUpdate = applyPair(a, b, 0.5, 0.5)
	aUpdate.NewStreak = a.Streak
	bUpdate.NewStreak = b.Streak
	return aUpdate, bUpdate
}

// nextStreak advances a win/loss streak counter: positive values count
// consecutive wins, negative values count consecutive losses.
func nextStreak(current int, won bool) int {
	if won {
		if current >= 0 {
			return current + 1
		}
		return 1
	}
	if current <= 0 {
		return current - 1
	}
	return -1
}
