// Package simulator provides the arbiter.Simulator implementation that
// talks to the real game engine over a websocket connection (spec §1: the
// simulator itself is out of scope — this package only owns the wire
// client that reaches it).
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jediswimmer/ironcurtain/internal/arbiter"
	"github.com/jediswimmer/ironcurtain/internal/model"
)

// messageType tags the wire envelope exchanged with the external engine.
// This is a private protocol between arbiterd and the engine process, not
// the agent-facing protocol in internal/model/message.go.
type messageType string

const (
	msgProvision messageType = "provision"
	msgOrders    messageType = "orders"
	msgRelease   messageType = "release"
	msgState     messageType = "state"
	msgOutcome   messageType = "outcome"
)

type envelope struct {
	Type     messageType           `json:"type"`
	MatchID  string                `json:"match_id,omitempty"`
	Mode     string                `json:"mode,omitempty"`
	Map      string                `json:"map,omitempty"`
	Agents   []wireParticipant     `json:"agents,omitempty"`
	Orders   []model.Order         `json:"orders,omitempty"`
	State    *wireState            `json:"state,omitempty"`
	WinnerID string                `json:"winner_id,omitempty"`
	Draw     bool                  `json:"draw,omitempty"`
	Reason   string                `json:"reason,omitempty"`
}

type wireParticipant struct {
	AgentID string       `json:"agent_id"`
	Faction model.Faction `json:"faction"`
}

// wireState mirrors model.AuthoritativeState but carries the economy
// snapshot explicitly — AuthoritativeState.Economies is tagged json:"-"
// because it's never sent to agents, but the engine connection needs it.
type wireState struct {
	Tick       int64                  `json:"tick"`
	Economies  []wireEconomy          `json:"economies"`
	Units      []model.Unit           `json:"units"`
	Structures []model.Structure      `json:"structures"`
	Deposits   []model.ResourceDeposit `json:"deposits"`
	Map        model.MapMeta          `json:"map"`
}

type wireEconomy struct {
	AgentID        string       `json:"agent_id"`
	Credits        int          `json:"credits"`
	PowerGenerated int          `json:"power_generated"`
	PowerConsumed  int          `json:"power_consumed"`
	Visible        []model.Cell `json:"visible"`
	Explored       []model.Cell `json:"explored"`
}

func toModelState(w wireState) model.AuthoritativeState {
	econs := make([]model.ParticipantEconomy, len(w.Economies))
	for i, e := range w.Economies {
		econs[i] = model.ParticipantEconomy{
			AgentID:        e.AgentID,
			Credits:        e.Credits,
			PowerGenerated: e.PowerGenerated,
			PowerConsumed:  e.PowerConsumed,
			Visible:        toCellSet(e.Visible),
			Explored:       toCellSet(e.Explored),
		}
	}
	return model.AuthoritativeState{
		Tick:       w.Tick,
		Economies:  econs,
		Units:      w.Units,
		Structures: w.Structures,
		Deposits:   w.Deposits,
		Map:        w.Map,
	}
}

func toCellSet(cells []model.Cell) model.CellSet {
	set := make(model.CellSet, len(cells))
	for _, c := range cells {
		set[c] = struct{}{}
	}
	return set
}

// WebSocketSimulator dials the configured engine endpoint once per match
// and multiplexes state/outcome frames into the channels arbiter.Match
// reads from. One connection per match id; DeliverOrders and Release
// operate on whichever connection Provision opened.
//
// Grounded on the teacher's server.Broker connection-retry shape
// (internal/server/broker.go) for dial backoff, and on gorilla/websocket
// (already a dependency via internal/server/websocket.go) for the wire
// transport itself.
type WebSocketSimulator struct {
	dialURL string // base ws:// or wss:// URL; match id is appended as a path segment
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// New constructs a WebSocketSimulator that dials dialURL+"/"+matchID for
// each provisioned match, with timeout applied to every request/response
// round trip.
func New(dialURL string, timeout time.Duration, logger *slog.Logger) *WebSocketSimulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketSimulator{
		dialURL: dialURL,
		timeout: timeout,
		logger:  logger,
		conns:   make(map[string]*websocket.Conn),
	}
}

func (s *WebSocketSimulator) Provision(ctx context.Context, spec arbiter.MatchSpec) (arbiter.StateStream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s", s.dialURL, spec.MatchID)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return arbiter.StateStream{}, fmt.Errorf("simulator: dial %s: %w", spec.MatchID, err)
	}

	agents := make([]wireParticipant, len(spec.Participants))
	for i, p := range spec.Participants {
		agents[i] = wireParticipant{AgentID: p.AgentID, Faction: p.Faction}
	}
	req := envelope{Type: msgProvision, MatchID: spec.MatchID, Mode: spec.Mode, Map: spec.Map, Agents: agents}
	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return arbiter.StateStream{}, fmt.Errorf("simulator: provision %s: %w", spec.MatchID, err)
	}

	s.mu.Lock()
	s.conns[spec.MatchID] = conn
	s.mu.Unlock()

	states := make(chan model.AuthoritativeState, 16)
	outcomes := make(chan arbiter.OutcomeEvent, 1)
	go s.readLoop(spec.MatchID, conn, states, outcomes)

	return arbiter.StateStream{States: states, Outcomes: outcomes}, nil
}

// readLoop decodes every frame the engine sends for one match until the
// connection drops, closing both channels on exit so arbiter.Match treats
// it as a lost simulator connection.
func (s *WebSocketSimulator) readLoop(matchID string, conn *websocket.Conn, states chan<- model.AuthoritativeState, outcomes chan<- arbiter.OutcomeEvent) {
	defer close(states)
	defer close(outcomes)

	for {
		var msg envelope
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Debug("simulator: read loop ended", "match_id", matchID, "error", err)
			return
		}
		switch msg.Type {
		case msgState:
			if msg.State != nil {
				states <- toModelState(*msg.State)
			}
		case msgOutcome:
			outcomes <- arbiter.OutcomeEvent{WinnerID: msg.WinnerID, Draw: msg.Draw, Reason: msg.Reason}
		default:
			s.logger.Warn("simulator: unexpected frame type", "match_id", matchID, "type", msg.Type)
		}
	}
}

func (s *WebSocketSimulator) DeliverOrders(ctx context.Context, matchID string, orders []model.Order) error {
	conn, ok := s.connFor(matchID)
	if !ok {
		return fmt.Errorf("simulator: no connection for match %s", matchID)
	}
	deadline, _ := ctx.Deadline()
	if deadline.IsZero() {
		deadline = time.Now().Add(s.timeout)
	}
	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteJSON(envelope{Type: msgOrders, MatchID: matchID, Orders: orders})
}

func (s *WebSocketSimulator) Release(_ context.Context, matchID string) error {
	conn, ok := s.connFor(matchID)
	if !ok {
		return nil
	}
	_ = conn.WriteJSON(envelope{Type: msgRelease, MatchID: matchID})
	err := conn.Close()

	s.mu.Lock()
	delete(s.conns, matchID)
	s.mu.Unlock()
	return err
}

func (s *WebSocketSimulator) connFor(matchID string) (*websocket.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[matchID]
	return conn, ok
}

var _ arbiter.Simulator = (*WebSocketSimulator)(nil)
