package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jediswimmer/ironcurtain/internal/arbiter"
	"github.com/jediswimmer/ironcurtain/internal/auth"
	"github.com/jediswimmer/ironcurtain/internal/matchmaker"
	"github.com/jediswimmer/ironcurtain/internal/model"
	"github.com/jediswimmer/ironcurtain/internal/storage"
)

// Handlers implements the HTTP surface of spec §6: queue management and
// match listing. Persistent per-connection traffic (identify, orders,
// get_state, chat, surrender) is handled by websocket.go instead.
type Handlers struct {
	db         *storage.DB
	jwtMgr     *auth.JWTManager
	matchmaker *matchmaker.Matchmaker
	matches    *arbiter.Manager
	logger     *slog.Logger
	startedAt  time.Time
}

// NewHandlers constructs the HTTP handler set.
func NewHandlers(db *storage.DB, jwtMgr *auth.JWTManager, mm *matchmaker.Matchmaker, matches *arbiter.Manager, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		db:         db,
		jwtMgr:     jwtMgr,
		matchmaker: mm,
		matches:    matches,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("handler error", "op", op, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
}

// Health answers GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	pg := "ok"
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		pg = "unreachable"
	}
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:   status,
		Version:  "dev",
		Postgres: pg,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// RegisterAgent answers POST /v1/agents, registering a new agent identity
// and an optional API key for persistent-channel identification.
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterAgentRequest
	if err := decodeJSON(r, &req, 64*1024); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body")
		return
	}
	if err := model.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}

	agent := model.NewAgent(req.AgentID, req.Name)
	if req.APIKey != "" {
		hash, err := auth.HashAPIKey(req.APIKey)
		if err != nil {
			h.writeInternalError(w, r, "hash_api_key", err)
			return
		}
		agent.APIKeyHash = &hash
	}

	created, err := h.db.CreateAgent(r.Context(), agent)
	if err != nil {
		h.writeInternalError(w, r, "create_agent", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// JoinQueue answers POST /v1/queue (register-queue).
func (h *Handlers) JoinQueue(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	var req model.JoinQueueRequest
	if err := decodeJSON(r, &req, 16*1024); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body")
		return
	}
	if req.Mode == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "mode is required")
		return
	}
	faction := model.FactionAny
	if req.FactionPref != "" {
		f, err := model.ValidateFactionPreference(req.FactionPref)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		faction = f
	}

	agent, err := h.db.GetAgent(r.Context(), claims.AgentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown agent")
			return
		}
		h.writeInternalError(w, r, "get_agent", err)
		return
	}

	entry := &model.QueueEntry{
		AgentID:        agent.ID,
		Name:           agent.Name,
		Mode:           req.Mode,
		FactionPref:    faction,
		RatingSnapshot: agent.Rating,
		JoinedAt:       time.Now(),
		Notifier:       newQueueNotifier(h, agent.ID, req.Mode),
	}
	if err := h.matchmaker.Join(entry); err != nil {
		if errors.Is(err, matchmaker.ErrAlreadyQueued) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "agent already queued")
			return
		}
		h.writeInternalError(w, r, "matchmaker_join", err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, model.QueueStatusResponse{AgentID: agent.ID, Queued: true, Mode: req.Mode})
}

// LeaveQueue answers DELETE /v1/queue/{agent_id} (leave-queue).
func (h *Handlers) LeaveQueue(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	removed := h.matchmaker.Leave(agentID)
	if !removed {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "agent is not queued")
		return
	}
	writeJSON(w, r, http.StatusOK, model.QueueStatusResponse{AgentID: agentID, Queued: false})
}

// QueryQueue answers GET /v1/queue/{agent_id} (query-queue).
func (h *Handlers) QueryQueue(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	status, ok := h.matchmaker.Status(agentID, time.Now())
	if !ok {
		writeJSON(w, r, http.StatusOK, model.QueueStatusResponse{AgentID: agentID, Queued: false})
		return
	}
	writeJSON(w, r, http.StatusOK, model.QueueStatusResponse{
		AgentID: agentID, Queued: true, Mode: status.Mode, Position: status.Position, Waited: status.Waited,
	})
}

// GlobalQueueStatus answers GET /v1/queue (per-mode depth and estimated wait).
func (h *Handlers) GlobalQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.matchmaker.GlobalStatus())
}

// ListActiveMatches answers GET /v1/matches (list-active-matches).
func (h *Handlers) ListActiveMatches(w http.ResponseWriter, r *http.Request) {
	active := h.matches.Active()
	summaries := make([]model.MatchSummary, 0, len(active))
	for _, m := range active {
		summaries = append(summaries, matchSummary(m))
	}
	writeJSON(w, r, http.StatusOK, summaries)
}

// QueryMatch answers GET /v1/matches/{match_id} (query-match). It checks the
// in-memory arbiter manager first, falling back to the persisted result for
// a match already evicted past its retention window.
func (h *Handlers) QueryMatch(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("match_id")
	if m, ok := h.matches.Get(matchID); ok {
		pairing := m.Pairing()
		resp := model.MatchDetailResponse{
			MatchID:      m.ID(),
			Mode:         pairing.Mode,
			Map:          pairing.Map,
			Status:       string(m.Status()),
			Participants: participantIDs(m),
		}
		if result, ok := m.Result(); ok {
			resp.Result = &result
		}
		writeJSON(w, r, http.StatusOK, resp)
		return
	}

	result, err := h.db.GetMatchResult(r.Context(), matchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown match")
			return
		}
		h.writeInternalError(w, r, "get_match_result", err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.MatchDetailResponse{
		MatchID:      result.MatchID,
		Mode:         result.Mode,
		Map:          result.Map,
		Status:       string(result.Status),
		Participants: []string{result.AgentAID, result.AgentBID},
		Result:       &result,
	})
}

func matchSummary(m *arbiter.Match) model.MatchSummary {
	pairing := m.Pairing()
	return model.MatchSummary{
		MatchID:      m.ID(),
		Mode:         pairing.Mode,
		Map:          pairing.Map,
		Status:       string(m.Status()),
		Participants: participantIDs(m),
	}
}

func participantIDs(m *arbiter.Match) []string {
	pairing := m.Pairing()
	ids := make([]string, len(pairing.Participants))
	for i, p := range pairing.Participants {
		ids[i] = p.AgentID
	}
	return ids
}

// queueNotifier implements model.Notifier by persisting a queue outcome
// record and, on a match, provisioning it through the arbiter manager. It
// is the only notifier the server registers: queue joins arrive over HTTP,
// and nothing in this package pushes the pairing to the agent over a live
// connection (spec §9: the matchmaker never holds a raw network handle).
type queueNotifier struct {
	h       *Handlers
	agentID string
	mode    string
	joined  time.Time
}

func newQueueNotifier(h *Handlers, agentID, mode string) *queueNotifier {
	return &queueNotifier{h: h, agentID: agentID, mode: mode, joined: time.Now()}
}

func (n *queueNotifier) NotifyMatchFound(pairing model.Pairing) {
	opponent, _ := pairing.Opponent(n.agentID)
	outcome := model.QueueOutcome{
		AgentID: n.agentID, Mode: n.mode, Waited: time.Since(n.joined),
		Matched: true, OpponentID: opponent.AgentID, At: time.Now(),
	}
	if err := n.h.db.SaveQueueOutcome(context.Background(), outcome); err != nil {
		n.h.logger.Warn("save queue outcome failed", "agent_id", n.agentID, "error", err)
	}
	n.h.matches.Create(context.Background(), pairing)
}

func (n *queueNotifier) NotifyTimeout() {
	outcome := model.QueueOutcome{AgentID: n.agentID, Mode: n.mode, Waited: time.Since(n.joined), Matched: false, At: time.Now()}
	if err := n.h.db.SaveQueueOutcome(context.Background(), outcome); err != nil {
		n.h.logger.Warn("save queue outcome failed", "agent_id", n.agentID, "error", err)
	}
}
