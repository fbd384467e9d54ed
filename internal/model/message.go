package model

import "time"

// ServerMessageType tags the server-to-channel wire messages (spec §6).
type ServerMessageType string

const (
	MsgIdentified      ServerMessageType = "identified"
	MsgStateUpdate     ServerMessageType = "state_update"
	MsgStateResponse   ServerMessageType = "state_response"
	MsgOrderViolations ServerMessageType = "order_violations"
	MsgChat            ServerMessageType = "chat"
	MsgGameStart       ServerMessageType = "game_start"
	MsgGameEnd         ServerMessageType = "game_end"
	MsgMatchCancelled  ServerMessageType = "match_cancelled"
)

// Never reports whether messages of this type must never be dropped by
// per-channel back-pressure (spec §5 "Back-pressure").
func (t ServerMessageType) Never() bool {
	switch t {
	case MsgGameStart, MsgGameEnd, MsgMatchCancelled, MsgOrderViolations:
		return true
	default:
		return false
	}
}

// ViolationSource names which pipeline stage produced an order_violations
// message (spec §6).
type ViolationSource string

const (
	SourceAPMLimiter     ViolationSource = "apm_limiter"
	SourceOrderValidator ViolationSource = "order_validator"
)

// ServerMessage is the single wire-message envelope sent to an agent or
// spectator channel. Only the fields relevant to Type are populated.
type ServerMessage struct {
	Type ServerMessageType `json:"type"`

	// identified
	MatchID  string         `json:"match_id,omitempty"`
	Map      string         `json:"map,omitempty"`
	Faction  Faction        `json:"faction,omitempty"`
	Opponent string         `json:"opponent,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`

	// state_update / state_response (agent channels get FogState; spectator
	// channels get FullState)
	FogState  *FogView            `json:"state,omitempty"`
	FullState *AuthoritativeState `json:"full_state,omitempty"`

	// order_violations
	Source     ViolationSource `json:"source,omitempty"`
	Violations []Violation     `json:"violations,omitempty"`

	// chat
	From    string `json:"from,omitempty"`
	Message string `json:"message,omitempty"`

	// game_end
	Result      *MatchResult  `json:"result,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	RatingDelta int           `json:"rating_delta,omitempty"`

	// game_end / match_cancelled
	Reason string `json:"reason,omitempty"`
}

// ClientMessageType tags the channel-to-server wire messages (spec §6).
type ClientMessageType string

const (
	ClientIdentify  ClientMessageType = "identify"
	ClientOrders    ClientMessageType = "orders"
	ClientGetState  ClientMessageType = "get_state"
	ClientChat      ClientMessageType = "chat"
	ClientSurrender ClientMessageType = "surrender"
)

// ClientMessage is the single wire-message envelope read from an agent
// channel. Only the fields relevant to Type are populated. It is never sent
// on a spectator channel — spectators never transmit beyond connecting.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`

	// identify
	AgentID string `json:"agent_id,omitempty"`
	APIKey  string `json:"api_key,omitempty"`

	// orders
	Orders []Order `json:"orders,omitempty"`

	// chat
	Message string `json:"message,omitempty"`
}
