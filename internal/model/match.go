package model

import "time"

// MatchStatus is one state in the Match Arbiter's state machine (spec §4.2).
type MatchStatus string

const (
	MatchPending    MatchStatus = "pending"
	MatchConnecting MatchStatus = "connecting"
	MatchRunning    MatchStatus = "running"
	MatchCompleted  MatchStatus = "completed"
	MatchCancelled  MatchStatus = "cancelled"
	MatchError      MatchStatus = "error"
)

// Terminal reports whether s is one of the match lifecycle's terminal states.
func (s MatchStatus) Terminal() bool {
	switch s {
	case MatchCompleted, MatchCancelled, MatchError:
		return true
	default:
		return false
	}
}

// MatchResult is the persisted outcome of a completed, cancelled, or errored
// match.
type MatchResult struct {
	MatchID    string
	Mode       string
	Map        string
	WinnerID   string // empty on draw or non-running termination
	LoserID    string
	Draw       bool
	Status     MatchStatus
	Reason     string
	Duration   time.Duration
	DeltaA     int
	DeltaB     int
	AgentAID   string
	AgentBID   string
	FinishedAt time.Time
}
