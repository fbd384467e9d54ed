package arbiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jediswimmer/ironcurtain/internal/fog"
	"github.com/jediswimmer/ironcurtain/internal/model"
	"github.com/jediswimmer/ironcurtain/internal/orders"
	"github.com/jediswimmer/ironcurtain/internal/rating"
)

var (
	ErrUnknownParticipant = errors.New("arbiter: agent is not part of this match")
	ErrAlreadyIdentified  = errors.New("arbiter: channel already identified")
	ErrNotRunning         = errors.New("arbiter: match is not running")
	ErrNoState            = errors.New("arbiter: no authoritative state observed yet")
)

// ConnectingTimeout bounds how long a match waits in the connecting state
// for both participants to identify before it is cancelled (spec §4.2).
const ConnectingTimeout = 60 * time.Second

// DefaultRetention is how long a completed, cancelled, or errored match is
// kept in memory to serve late status reads before eviction (spec §4.2).
const DefaultRetention = 30 * time.Second

const chatMaxLength = 240

// RatingSource supplies a participant's current rating state immediately
// before a completed match updates it (spec §4.5). Implemented by
// internal/storage in production.
type RatingSource interface {
	RatingOutcome(ctx context.Context, agentID string) (rating.Outcome, error)
}

// ParticipantUpdate is one agent's new rating state and played faction,
// to be persisted alongside the match result.
type ParticipantUpdate struct {
	AgentID     string
	Faction     model.Faction
	NewRating   int
	PeakRating  int
	NewStreak   int
	GamesPlayed int
	Win         bool
	Loss        bool
	Draw        bool
}

// ResultStore persists a match's terminal result and, for a completed
// match, every participant's updated rating state as one logical
// transaction — both agents' rating, counters, streak, and faction history
// updated, or neither (spec §5). updates is empty for a cancelled or
// errored match. Implemented by internal/storage in production.
type ResultStore interface {
	SaveResult(ctx context.Context, result model.MatchResult, updates []ParticipantUpdate) error
}

// participantConn is one identified-or-not participant-side channel.
type participantConn struct {
	participant model.Participant
	channel     *OutboundChannel
	identified  bool
}

// Match owns the state machine for one paired game from provisioning to
// termination (spec §4.2). It multiplexes the simulator's state stream to
// participant and spectator channels, routes participant orders through
// the Order Pipeline, and routes authoritative state through the Fog
// Enforcer.
type Match struct {
	id      string
	pairing model.Pairing
	profile orders.Profile

	sim      Simulator
	pipeline *orders.Pipeline
	enforcer *fog.Enforcer

	ratings   RatingSource
	results   ResultStore
	retention time.Duration

	mu           sync.Mutex
	status       model.MatchStatus
	participants map[string]*participantConn
	spectators   map[string]*OutboundChannel
	lastState    *model.AuthoritativeState
	createdAt    time.Time
	startedAt    time.Time
	completedAt  time.Time
	result       *model.MatchResult

	cancel       context.CancelFunc
	terminal     chan struct{}
	terminalOnce sync.Once
}

// NewMatch constructs a Match in the pending state. Run must be called to
// provision the simulator and begin multiplexing state.
func NewMatch(id string, pairing model.Pairing, profile orders.Profile, sim Simulator, apm orders.APMCounter, ratings RatingSource, results ResultStore) *Match {
	participants := make(map[string]*participantConn, len(pairing.Participants))
	for _, p := range pairing.Participants {
		participants[p.AgentID] = &participantConn{participant: p}
	}
	return &Match{
		id:           id,
		pairing:      pairing,
		profile:      profile,
		sim:          sim,
		pipeline:     orders.NewPipeline(orders.NewRateLimiter(apm), orders.NewValidator()),
		enforcer:     fog.NewEnforcer(),
		ratings:      ratings,
		results:      results,
		retention:    DefaultRetention,
		status:       model.MatchPending,
		participants: participants,
		spectators:   make(map[string]*OutboundChannel),
		createdAt:    pairing.CreatedAt,
		terminal:     make(chan struct{}),
	}
}

// closeTerminal signals Run's select loop that a terminal state was reached
// from outside the loop (e.g. Surrender or HandleDisconnect).
func (m *Match) closeTerminal() {
	m.terminalOnce.Do(func() { close(m.terminal) })
}

// ID returns the match identifier.
func (m *Match) ID() string { return m.id }

// Pairing returns the matchmaker pairing this match was created from. The
// pairing is immutable for the lifetime of the match, so this needs no
// locking.
func (m *Match) Pairing() model.Pairing { return m.pairing }

// Status returns the match's current lifecycle state.
func (m *Match) Status() model.MatchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Result returns the persisted terminal result, if the match has reached
// one of the terminal states.
func (m *Match) Result() (model.MatchResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return model.MatchResult{}, false
	}
	return *m.result, true
}

// Run provisions the simulator and begins pumping its state stream until
// ctx is cancelled or the match reaches a terminal state. It is meant to
// be started on its own goroutine by the match manager.
func (m *Match) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	spec := MatchSpec{
		MatchID:      m.id,
		Mode:         m.pairing.Mode,
		Map:          m.pairing.Map,
		Participants: m.pairing.Participants,
	}
	stream, err := m.sim.Provision(ctx, spec)
	if err != nil {
		m.fail(ctx, fmt.Sprintf("provisioning failed: %v", err))
		return
	}
	m.mu.Lock()
	m.status = model.MatchConnecting
	m.mu.Unlock()

	timeout := time.NewTimer(ConnectingTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.terminal:
			return
		case <-timeout.C:
			if m.Status() == model.MatchConnecting {
				m.cancelMatch(ctx, "connecting timed out")
			}
			return
		case state, ok := <-stream.States:
			if !ok {
				if !m.Status().Terminal() {
					m.fail(ctx, "simulator connection lost")
				}
				return
			}
			if m.Status() == model.MatchConnecting && m.bothIdentified() {
				m.mu.Lock()
				m.status = model.MatchRunning
				m.startedAt = time.Now()
				m.mu.Unlock()
				m.broadcastGameStart()
			}
			m.onState(state)
			if m.Status().Terminal() {
				return
			}
		case outcome, ok := <-stream.Outcomes:
			if !ok {
				if !m.Status().Terminal() {
					m.fail(ctx, "simulator connection lost")
				}
				return
			}
			m.onOutcome(ctx, outcome)
			return
		}
	}
}

func (m *Match) bothIdentified() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pc := range m.participants {
		if !pc.identified {
			return false
		}
	}
	return true
}

// Identify binds channel to agentID and returns the match metadata response.
// It does not change the match status: Run moves a connecting match to
// running on the first state that arrives after both participants have
// identified.
func (m *Match) Identify(agentID string, channel *OutboundChannel) (model.ServerMessage, error) {
	m.mu.Lock()
	pc, ok := m.participants[agentID]
	if !ok {
		m.mu.Unlock()
		return model.ServerMessage{}, ErrUnknownParticipant
	}
	if pc.identified {
		m.mu.Unlock()
		return model.ServerMessage{}, ErrAlreadyIdentified
	}
	pc.channel = channel
	pc.identified = true
	opponent, _ := m.pairing.Opponent(agentID)
	msg := model.ServerMessage{
		Type:     model.MsgIdentified,
		MatchID:  m.id,
		Map:      m.pairing.Map,
		Faction:  pc.participant.Faction,
		Opponent: opponent.AgentID,
	}
	m.mu.Unlock()
	return msg, nil
}

// AddSpectator registers a read-only subscriber keyed by connID.
func (m *Match) AddSpectator(connID string, channel *OutboundChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spectators[connID] = channel
}

// RemoveSpectator drops a spectator subscription.
func (m *Match) RemoveSpectator(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.spectators, connID)
}

// SpectatorCount reports how many spectators currently hold a subscription.
func (m *Match) SpectatorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spectators)
}

// SubmitOrders runs a participant's order batch through the Order Pipeline
// and, when any orders survive, forwards them to the simulator.
func (m *Match) SubmitOrders(ctx context.Context, agentID string, batch []model.Order, arrivals []time.Time) (orders.PipelineResult, error) {
	if m.Status() != model.MatchRunning {
		return orders.PipelineResult{}, ErrNotRunning
	}
	m.mu.Lock()
	pc, ok := m.participants[agentID]
	state := m.lastState
	m.mu.Unlock()
	if !ok {
		return orders.PipelineResult{}, ErrUnknownParticipant
	}
	if state == nil {
		return orders.PipelineResult{}, ErrNoState
	}
	view, err := m.enforcer.FilterFor(*state, agentID)
	if err != nil {
		return orders.PipelineResult{}, err
	}

	result, err := m.pipeline.Process(ctx, agentID, batch, m.profile, view, time.Now(), arrivals)
	if err != nil {
		return orders.PipelineResult{}, err
	}
	if len(result.RateViolations) > 0 {
		pc.channel.Send(model.ServerMessage{
			Type:       model.MsgOrderViolations,
			Source:     model.SourceAPMLimiter,
			Violations: result.RateViolations,
		})
	}
	if len(result.ValidViolations) > 0 {
		pc.channel.Send(model.ServerMessage{
			Type:       model.MsgOrderViolations,
			Source:     model.SourceOrderValidator,
			Violations: result.ValidViolations,
		})
	}
	if len(result.Accepted) > 0 {
		if err := m.sim.DeliverOrders(ctx, m.id, result.Accepted); err != nil {
			m.fail(ctx, fmt.Sprintf("order delivery failed: %v", err))
			return result, err
		}
	}
	return result, nil
}

// RequestState returns the latest Fog Enforcer projection for agentID.
func (m *Match) RequestState(agentID string) (model.FogView, error) {
	m.mu.Lock()
	_, ok := m.participants[agentID]
	state := m.lastState
	m.mu.Unlock()
	if !ok {
		return model.FogView{}, ErrUnknownParticipant
	}
	if state == nil {
		return model.FogView{}, ErrNoState
	}
	return m.enforcer.FilterFor(*state, agentID)
}

// Chat normalizes text and broadcasts it to every participant and spectator
// channel.
func (m *Match) Chat(agentID, text string) error {
	m.mu.Lock()
	_, ok := m.participants[agentID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownParticipant
	}
	m.broadcastAll(model.ServerMessage{
		Type:    model.MsgChat,
		From:    agentID,
		Message: normalizeChat(text),
	})
	return nil
}

// normalizeChat strips control characters (including newlines and ESC),
// trims surrounding whitespace, and caps length at chatMaxLength bytes
// (spec §4.2). It does not detect or rewrite injection patterns in the
// remaining text.
func normalizeChat(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	out = strings.ReplaceAll(out, "\x1b", "")
	if len(out) > chatMaxLength {
		out = out[:chatMaxLength]
	}
	return out
}

// Surrender immediately resolves the match against agentID.
func (m *Match) Surrender(ctx context.Context, agentID string) error {
	if m.Status() != model.MatchRunning {
		return ErrNotRunning
	}
	opponent, ok := m.pairing.Opponent(agentID)
	if !ok {
		return ErrUnknownParticipant
	}
	m.complete(ctx, opponent.AgentID, false, "surrender")
	return nil
}

// HandleDisconnect applies the disconnect semantics of spec §4.2: a
// participant drop during running forfeits them; a drop during connecting
// cancels the match.
func (m *Match) HandleDisconnect(ctx context.Context, agentID string) {
	switch m.Status() {
	case model.MatchRunning:
		if opponent, ok := m.pairing.Opponent(agentID); ok {
			m.complete(ctx, opponent.AgentID, false, "disconnect")
		}
	case model.MatchConnecting, model.MatchPending:
		m.cancelMatch(ctx, "participant disconnected before match start")
	}
}

func (m *Match) onState(state model.AuthoritativeState) {
	start := time.Now()
	defer func() { recordStateDispatch(start) }()

	m.mu.Lock()
	m.lastState = &state
	participants := make([]*participantConn, 0, len(m.participants))
	for _, pc := range m.participants {
		participants = append(participants, pc)
	}
	spectators := make([]*OutboundChannel, 0, len(m.spectators))
	for _, ch := range m.spectators {
		spectators = append(spectators, ch)
	}
	m.mu.Unlock()

	for _, pc := range participants {
		if !pc.identified || pc.channel == nil {
			continue
		}
		view, err := m.enforcer.FilterFor(state, pc.participant.AgentID)
		if err != nil {
			continue
		}
		pc.channel.Send(model.ServerMessage{Type: model.MsgStateUpdate, FogState: &view})
	}
	for _, ch := range spectators {
		full := state
		ch.Send(model.ServerMessage{Type: model.MsgStateUpdate, FullState: &full})
	}
}

func (m *Match) onOutcome(ctx context.Context, outcome OutcomeEvent) {
	if m.Status() != model.MatchRunning {
		return
	}
	if outcome.Draw {
		m.completeDraw(ctx, outcome.Reason)
		return
	}
	m.complete(ctx, outcome.WinnerID, false, outcome.Reason)
}

// complete resolves the match with a single winner.
func (m *Match) complete(ctx context.Context, winnerID string, _ bool, reason string) {
	loser, _ := m.pairing.Opponent(winnerID)
	m.finish(ctx, winnerID, loser.AgentID, false, reason)
}

func (m *Match) completeDraw(ctx context.Context, reason string) {
	a := m.pairing.Participants[0].AgentID
	b := m.pairing.Participants[1].AgentID
	m.finish(ctx, a, b, true, reason)
}

// finish is the single resolution path shared by surrender, disconnect
// forfeit, and simulator outcome events.
func (m *Match) finish(ctx context.Context, winnerID, loserID string, draw bool, reason string) {
	m.mu.Lock()
	if m.status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.status = model.MatchCompleted
	duration := time.Since(m.startedAt)
	m.completedAt = time.Now()
	m.mu.Unlock()
	m.closeTerminal()

	winnerUpdate, loserUpdate := m.computeRatingUpdates(ctx, winnerID, loserID, draw)

	resultWinner, resultLoser := winnerID, loserID
	if draw {
		resultWinner, resultLoser = "", ""
	}
	result := model.MatchResult{
		MatchID:    m.id,
		Mode:       m.pairing.Mode,
		Map:        m.pairing.Map,
		WinnerID:   resultWinner,
		LoserID:    resultLoser,
		Draw:       draw,
		Status:     model.MatchCompleted,
		Reason:     reason,
		Duration:   duration,
		DeltaA:     winnerUpdate.Delta,
		DeltaB:     loserUpdate.Delta,
		AgentAID:   winnerID,
		AgentBID:   loserID,
		FinishedAt: m.completedAt,
	}
	m.mu.Lock()
	m.result = &result
	m.mu.Unlock()

	updates := m.participantUpdates(winnerID, loserID, draw, winnerUpdate, loserUpdate)
	if m.results != nil {
		// Both agents' rating, counters, streak, and faction history update
		// together or not at all (spec §5) — the store is responsible for
		// wrapping updates in a single transaction.
		_ = m.results.SaveResult(ctx, result, updates)
	}
	m.releaseSimulator(ctx)

	m.sendGameEnd(winnerID, winnerUpdate.Delta, duration, reason, draw)
	m.sendGameEnd(loserID, loserUpdate.Delta, duration, reason, draw)
	m.closeChannels()
	m.enforcer.Forget(winnerID)
	m.enforcer.Forget(loserID)
}

func (m *Match) computeRatingUpdates(ctx context.Context, winnerID, loserID string, draw bool) (rating.Update, rating.Update) {
	if m.ratings == nil {
		return rating.Update{}, rating.Update{}
	}
	winnerOutcome, err := m.ratings.RatingOutcome(ctx, winnerID)
	if err != nil {
		return rating.Update{}, rating.Update{}
	}
	loserOutcome, err := m.ratings.RatingOutcome(ctx, loserID)
	if err != nil {
		return rating.Update{}, rating.Update{}
	}
	if draw {
		return rating.ApplyDraw(winnerOutcome, loserOutcome)
	}
	return rating.ApplyWinLoss(winnerOutcome, loserOutcome)
}

// participantUpdates builds the per-agent rating-and-faction update records
// persisted alongside the result. winnerID is the non-losing side even for a
// draw (no win/loss flag set in that case).
func (m *Match) participantUpdates(winnerID, loserID string, draw bool, winnerUpdate, loserUpdate rating.Update) []ParticipantUpdate {
	winnerFaction, _ := m.factionFor(winnerID)
	loserFaction, _ := m.factionFor(loserID)
	return []ParticipantUpdate{
		{
			AgentID:     winnerID,
			Faction:     winnerFaction,
			NewRating:   winnerUpdate.NewRating,
			PeakRating:  winnerUpdate.NewPeakRating,
			NewStreak:   winnerUpdate.NewStreak,
			GamesPlayed: 1,
			Win:         !draw,
			Draw:        draw,
		},
		{
			AgentID:     loserID,
			Faction:     loserFaction,
			NewRating:   loserUpdate.NewRating,
			PeakRating:  loserUpdate.NewPeakRating,
			NewStreak:   loserUpdate.NewStreak,
			GamesPlayed: 1,
			Loss:        !draw,
			Draw:        draw,
		},
	}
}

func (m *Match) factionFor(agentID string) (model.Faction, bool) {
	for _, p := range m.pairing.Participants {
		if p.AgentID == agentID {
			return p.Faction, true
		}
	}
	return "", false
}

func (m *Match) sendGameEnd(agentID string, delta int, duration time.Duration, reason string, draw bool) {
	m.mu.Lock()
	pc, ok := m.participants[agentID]
	result := m.result
	m.mu.Unlock()
	if !ok || pc.channel == nil || result == nil {
		return
	}
	pc.channel.Send(model.ServerMessage{
		Type:        model.MsgGameEnd,
		Result:      result,
		Duration:    duration,
		RatingDelta: delta,
		Reason:      reason,
	})
}

func (m *Match) cancelMatch(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.status = model.MatchCancelled
	m.completedAt = time.Now()
	m.mu.Unlock()
	m.closeTerminal()

	result := model.MatchResult{
		MatchID:    m.id,
		Mode:       m.pairing.Mode,
		Map:        m.pairing.Map,
		Status:     model.MatchCancelled,
		Reason:     reason,
		FinishedAt: m.completedAt,
	}
	m.mu.Lock()
	m.result = &result
	m.mu.Unlock()

	if m.results != nil {
		_ = m.results.SaveResult(ctx, result, nil)
	}
	m.releaseSimulator(ctx)
	m.broadcastAll(model.ServerMessage{Type: model.MsgMatchCancelled, Reason: reason})
	m.closeChannels()
}

func (m *Match) fail(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.status = model.MatchError
	m.completedAt = time.Now()
	m.mu.Unlock()
	m.closeTerminal()

	result := model.MatchResult{
		MatchID:    m.id,
		Mode:       m.pairing.Mode,
		Map:        m.pairing.Map,
		Status:     model.MatchError,
		Reason:     reason,
		FinishedAt: m.completedAt,
	}
	m.mu.Lock()
	m.result = &result
	m.mu.Unlock()

	if m.results != nil {
		_ = m.results.SaveResult(ctx, result, nil)
	}
	m.releaseSimulator(ctx)
	m.broadcastAll(model.ServerMessage{Type: model.MsgMatchCancelled, Reason: reason})
	m.closeChannels()
}

func (m *Match) releaseSimulator(_ context.Context) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
	defer cancel()
	_ = m.sim.Release(releaseCtx, m.id)
}

func (m *Match) broadcastGameStart() {
	m.broadcastAll(model.ServerMessage{Type: model.MsgGameStart, MatchID: m.id, Map: m.pairing.Map})
}

func (m *Match) broadcastAll(msg model.ServerMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pc := range m.participants {
		if pc.channel != nil {
			pc.channel.Send(msg)
		}
	}
	for _, ch := range m.spectators {
		ch.Send(msg)
	}
}

func (m *Match) closeChannels() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pc := range m.participants {
		if pc.channel != nil {
			pc.channel.Close()
		}
	}
	for _, ch := range m.spectators {
		ch.Close()
	}
}

// CompletedAt returns when the match reached a terminal state, and false if
// it has not yet terminated.
func (m *Match) CompletedAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.status.Terminal() {
		return time.Time{}, false
	}
	return m.completedAt, true
}

// Retention returns how long past CompletedAt this match should be kept in
// memory before the manager evicts it.
func (m *Match) Retention() time.Duration { return m.retention }

// Cancel stops the match's Run loop if it is still in flight. Used by the
// manager during process shutdown.
func (m *Match) Cancel() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
