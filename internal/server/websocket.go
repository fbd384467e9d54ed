package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jediswimmer/ironcurtain/internal/arbiter"
	"github.com/jediswimmer/ironcurtain/internal/auth"
	"github.com/jediswimmer/ironcurtain/internal/model"
)

// Close codes for the persistent channel (spec §6 "EXTERNAL INTERFACES").
const (
	closeNormal            = 1000
	closeMatchError        = 1011
	closeInvalidCredential = 4001
	closeNonParticipant    = 4003
	closeUnknownRoute      = 4004
	closeSpectatorCapacity = 4029
)

// closeCodeForStatus picks the close frame code a terminal match should use:
// 1011-equivalent for a match that ended in the error state (spec §7
// "Terminal match"), closeNormal for a clean completion or cancellation.
func closeCodeForStatus(status model.MatchStatus) int {
	if status == model.MatchError {
		return closeMatchError
	}
	return closeNormal
}

// maxSpectatorsPerMatch bounds how many read-only subscribers one match
// accepts before new connections are refused with closeSpectatorCapacity.
const maxSpectatorsPerMatch = 32

// identifyTimeout bounds how long a freshly-upgraded agent connection has
// to send its mandatory first identify message before the server gives up.
const identifyTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// closeWithCode sends a close frame carrying code and reason, then lets the
// caller tear down the underlying connection.
func closeWithCode(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(2 * time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

// AgentWebSocket upgrades GET /ws/match/{match_id} into the persistent
// agent channel described in spec §6: the first inbound message must be an
// identify carrying either a bearer-equivalent api_key or an already
// trusted agent_id, after which orders/get_state/chat/surrender are routed
// to the match's arbiter.Match.
func (h *Handlers) AgentWebSocket(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("match_id")
	match, ok := h.matches.Get(matchID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "match_id", matchID)
		return
	}
	defer conn.Close()

	if !ok {
		closeWithCode(conn, closeUnknownRoute, "unknown match")
		return
	}

	agentID, err := h.identify(conn, match)
	if err != nil {
		closeWithCode(conn, closeInvalidCredential, err.Error())
		return
	}

	channel := arbiter.NewOutboundChannel(arbiter.DefaultChannelDepth)
	identifiedMsg, err := match.Identify(agentID, channel)
	if err != nil {
		closeWithCode(conn, closeNonParticipant, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.pumpOutbound(ctx, conn, channel, match)
	h.sendClientMessage(conn, identifiedMsg)

	h.readAgentLoop(ctx, conn, match, agentID)
	match.HandleDisconnect(context.Background(), agentID)
	channel.Close()
}

// identify reads and validates the mandatory first message of an agent
// connection, returning the authenticated agent id.
func (h *Handlers) identify(conn *websocket.Conn, match *arbiter.Match) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(identifyTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var msg model.ClientMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return "", errors.New("expected identify as first message")
	}
	if msg.Type != model.ClientIdentify || msg.AgentID == "" {
		return "", errors.New("first message must be identify with agent_id")
	}

	agent, err := h.db.GetAgent(context.Background(), msg.AgentID)
	if err != nil {
		auth.DummyVerify()
		return "", errors.New("unknown agent")
	}
	if agent.APIKeyHash != nil {
		if msg.APIKey == "" {
			auth.DummyVerify()
			return "", errors.New("api_key required")
		}
		ok, err := auth.VerifyAPIKey(msg.APIKey, *agent.APIKeyHash)
		if err != nil || !ok {
			return "", errors.New("invalid api_key")
		}
	}
	return agent.ID, nil
}

// readAgentLoop processes every subsequent inbound message on an identified
// agent connection until the connection drops or the match terminates.
func (h *Handlers) readAgentLoop(ctx context.Context, conn *websocket.Conn, match *arbiter.Match, agentID string) {
	for {
		var msg model.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case model.ClientOrders:
			now := time.Now()
			arrivals := make([]time.Time, len(msg.Orders))
			for i := range arrivals {
				arrivals[i] = now
			}
			if _, err := match.SubmitOrders(ctx, agentID, msg.Orders, arrivals); err != nil {
				h.logger.Debug("submit orders rejected", "agent_id", agentID, "match_id", match.ID(), "error", err)
			}
		case model.ClientGetState:
			view, err := match.RequestState(agentID)
			if err == nil {
				h.sendClientMessage(conn, model.ServerMessage{Type: model.MsgStateResponse, FogState: &view})
			}
		case model.ClientChat:
			_ = match.Chat(agentID, msg.Message)
		case model.ClientSurrender:
			_ = match.Surrender(ctx, agentID)
			return
		default:
			h.logger.Debug("unrecognized client message type", "type", msg.Type, "agent_id", agentID)
		}
	}
}

// SpectatorWebSocket upgrades GET /ws/match/{match_id}/spectate into a
// read-only subscriber connection: it never reads application messages
// beyond the initial handshake, it only relays server broadcasts.
func (h *Handlers) SpectatorWebSocket(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("match_id")
	match, ok := h.matches.Get(matchID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "match_id", matchID)
		return
	}
	defer conn.Close()

	if !ok {
		closeWithCode(conn, closeUnknownRoute, "unknown match")
		return
	}
	if match.SpectatorCount() >= maxSpectatorsPerMatch {
		closeWithCode(conn, closeSpectatorCapacity, "spectator capacity reached")
		return
	}

	connID := r.RemoteAddr + "-" + time.Now().String()
	channel := arbiter.NewOutboundChannel(arbiter.DefaultChannelDepth)
	match.AddSpectator(connID, channel)
	defer match.RemoveSpectator(connID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.pumpOutbound(ctx, conn, channel, match)

	// Spectators never send application messages; this loop only detects
	// the connection closing so the deferred cleanup above runs.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pumpOutbound relays every message enqueued on channel to conn until the
// channel closes or ctx is cancelled. The close code reflects how match
// terminated: a 1011-equivalent for the error state, closeNormal otherwise.
func (h *Handlers) pumpOutbound(ctx context.Context, conn *websocket.Conn, channel *arbiter.OutboundChannel, match *arbiter.Match) {
	for {
		msg, ok := channel.Recv(ctx)
		if !ok {
			closeWithCode(conn, closeCodeForStatus(match.Status()), "match ended")
			return
		}
		h.sendClientMessage(conn, msg)
	}
}

func (h *Handlers) sendClientMessage(conn *websocket.Conn, msg model.ServerMessage) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("websocket write failed", "error", err)
	}
}
