package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error code constants for standard API error codes (spec §7 "Input
// malformed" surfaces as one of these on the HTTP surface).
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// RegisterAgentRequest is the request body for POST /v1/agents.
type RegisterAgentRequest struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	APIKey  string `json:"api_key"`
}

// JoinQueueRequest is the request body for POST /v1/queue (register-queue).
type JoinQueueRequest struct {
	AgentID     string `json:"agent_id"`
	Mode        string `json:"mode"`
	FactionPref string `json:"faction_pref,omitempty"`
}

// QueueStatusResponse answers query-queue for one agent.
type QueueStatusResponse struct {
	AgentID  string        `json:"agent_id"`
	Queued   bool          `json:"queued"`
	Mode     string        `json:"mode,omitempty"`
	Position int           `json:"position,omitempty"`
	Waited   time.Duration `json:"waited_ns,omitempty"`
}

// MatchSummary is one entry of list-active-matches.
type MatchSummary struct {
	MatchID      string   `json:"match_id"`
	Mode         string   `json:"mode"`
	Map          string   `json:"map"`
	Status       string   `json:"status"`
	Participants []string `json:"participants"`
}

// MatchDetailResponse answers query-match.
type MatchDetailResponse struct {
	MatchID      string       `json:"match_id"`
	Mode         string       `json:"mode"`
	Map          string       `json:"map"`
	Status       string       `json:"status"`
	Participants []string     `json:"participants"`
	Result       *MatchResult `json:"result,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
