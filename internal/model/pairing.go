package model

import "time"

// Participant is one side of an immutable Pairing.
type Participant struct {
	AgentID        string
	Name           string
	Faction        Faction
	RatingSnapshot int
}

// Pairing is an immutable record emitted by the matchmaker selecting two
// queued agents, their assigned factions, and a map. Once emitted it is
// never mutated — the arbiter consumes it to create an arbiter.Match.
type Pairing struct {
	Mode        string
	Map         string
	Participants [2]Participant
	CreatedAt   time.Time
}

// Opponent returns the participant other than agentID, and false if
// agentID is not part of this pairing.
func (p Pairing) Opponent(agentID string) (Participant, bool) {
	for i, participant := range p.Participants {
		if participant.AgentID == agentID {
			return p.Participants[1-i], true
		}
	}
	return Participant{}, false
}
