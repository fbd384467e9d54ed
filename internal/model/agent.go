// Package model holds the core domain types shared by every subsystem:
// agent identity, queue entries, pairings, active matches, authoritative
// game state, fog-filtered views, and orders.
package model

import (
	"fmt"
	"time"
)

// Faction identifies one of the two sides an agent can play.
type Faction string

const (
	FactionA   Faction = "faction_a"
	FactionB   Faction = "faction_b"
	FactionAny Faction = "any"
)

// Complement returns the opposing concrete faction. Panics if called on
// FactionAny — callers must resolve "any" before asking for a complement.
func (f Faction) Complement() Faction {
	switch f {
	case FactionA:
		return FactionB
	case FactionB:
		return FactionA
	default:
		panic(fmt.Sprintf("model: Complement called on non-concrete faction %q", f))
	}
}

// factionHistorySize is the bounded length of an agent's faction-history ring.
const factionHistorySize = 10

// Agent is a durable identity record for an autonomous competitor.
// Counters mutate only on match completion (see internal/rating).
type Agent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	APIKeyHash     *string   `json:"-"` // Argon2id hash, checked by the identify handshake on the persistent channel.
	Rating         int       `json:"rating"`
	PeakRating     int       `json:"peak_rating"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	Draws          int       `json:"draws"`
	GamesPlayed    int       `json:"games_played"`
	Streak         int       `json:"streak"` // positive = win streak, negative = loss streak
	FactionHistory []Faction `json:"faction_history"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewAgent returns an Agent with the default starting rating and zeroed
// counters, ready for registration.
func NewAgent(id, name string) Agent {
	now := time.Now().UTC()
	const startingRating = 1000
	return Agent{
		ID:         id,
		Name:       name,
		Rating:     startingRating,
		PeakRating: startingRating,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// RecordFaction appends a played faction to the history ring, evicting the
// oldest entry once the ring exceeds factionHistorySize.
func (a *Agent) RecordFaction(f Faction) {
	a.FactionHistory = append(a.FactionHistory, f)
	if len(a.FactionHistory) > factionHistorySize {
		a.FactionHistory = a.FactionHistory[len(a.FactionHistory)-factionHistorySize:]
	}
}

// LastNIdentical reports whether the most recent n entries of the faction
// history are all the same concrete faction. Returns false if there is not
// yet enough history.
func (a *Agent) LastNIdentical(n int) bool {
	if len(a.FactionHistory) < n || n == 0 {
		return false
	}
	tail := a.FactionHistory[len(a.FactionHistory)-n:]
	first := tail[0]
	for _, f := range tail[1:] {
		if f != first {
			return false
		}
	}
	return true
}

// LessRepresented returns the concrete faction with fewer occurrences in the
// agent's history, and false in the second return if the counts are tied
// (callers should break ties randomly per spec §4.1).
func (a *Agent) LessRepresented() (Faction, bool) {
	var countA, countB int
	for _, f := range a.FactionHistory {
		switch f {
		case FactionA:
			countA++
		case FactionB:
			countB++
		}
	}
	if countA == countB {
		return "", false
	}
	if countA < countB {
		return FactionA, true
	}
	return FactionB, true
}

// ValidateAgentID checks that an agent ID conforms to the allowed format:
// 1-255 ASCII characters, alphanumeric, dots, hyphens, underscores.
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("model: agent_id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("model: agent_id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' {
			return fmt.Errorf("model: agent_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}

// ValidateFactionPreference checks that s is one of the recognized faction
// preference values.
func ValidateFactionPreference(s string) (Faction, error) {
	switch Faction(s) {
	case FactionA, FactionB, FactionAny:
		return Faction(s), nil
	default:
		return "", fmt.Errorf("model: unrecognized faction preference %q", s)
	}
}
