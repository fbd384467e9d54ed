package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jediswimmer/ironcurtain/internal/model"
	"github.com/jediswimmer/ironcurtain/internal/orders"
)

// maxProvisionAttempts bounds retries of a lost simulator connection before
// a match is surrendered to the error state (spec §4.2 "Failure semantics").
const maxProvisionAttempts = 5

// deliveryRetryBackoff separates order-delivery retry attempts. Delivery
// retries are bounded by MaxDeliveryRetries rather than exponential backoff:
// a match in running needs the next order batch delivered promptly, not
// after a multi-second provisioning-style ramp.
const deliveryRetryBackoff = 250 * time.Millisecond

// Manager owns every in-flight Match: it provisions one on pairing, keeps
// it reachable by id for status queries, and evicts it once its retention
// window after termination elapses (spec §4.2 "remove from memory after
// retention window").
//
// Grounded on the teacher's Broker: a background-goroutine-per-resource
// owner with a mutex-guarded registry, the same connection-retry shape as
// Broker.listenWithRetry adapted from a fixed channel list to one
// per-match simulator connection.
type Manager struct {
	sim       Simulator
	profile   orders.Profile
	apm       orders.APMCounter
	ratings   RatingSource
	results   ResultStore
	retention time.Duration
	logger    *slog.Logger

	mu      sync.RWMutex
	matches map[string]*Match
}

// NewManager constructs a match manager. ratings and results may be nil in
// tests that don't exercise persistence or rating. apm backs the order
// pipeline's rolling actions-per-minute check shared across every match this
// manager creates; pass orders.NewMemoryAPMCounter() when no Redis is
// configured.
func NewManager(sim Simulator, profile orders.Profile, apm orders.APMCounter, ratings RatingSource, results ResultStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sim:       sim,
		profile:   profile,
		apm:       apm,
		ratings:   ratings,
		results:   results,
		retention: DefaultRetention,
		logger:    logger,
		matches:   make(map[string]*Match),
	}
}

// Create provisions a new Match from a matchmaker Pairing and starts its
// state machine on a background goroutine. The returned Match is reachable
// via Get/List immediately, in the pending state.
func (mgr *Manager) Create(ctx context.Context, pairing model.Pairing) *Match {
	id := uuid.NewString()
	sim := &retryingSimulator{inner: mgr.sim, logger: mgr.logger, maxAttempts: maxProvisionAttempts}
	match := NewMatch(id, pairing, mgr.profile, sim, mgr.apm, mgr.ratings, mgr.results)
	match.retention = mgr.retention

	mgr.mu.Lock()
	mgr.matches[id] = match
	mgr.mu.Unlock()

	go mgr.run(ctx, match)
	return match
}

func (mgr *Manager) run(ctx context.Context, match *Match) {
	match.Run(ctx)
	mgr.scheduleEviction(match)
}

func (mgr *Manager) scheduleEviction(match *Match) {
	completedAt, ok := match.CompletedAt()
	if !ok {
		// Run returned without reaching a terminal state (ctx cancelled
		// during shutdown); leave the entry for an operator to inspect.
		return
	}
	delay := match.Retention() - time.Since(completedAt)
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		mgr.mu.Lock()
		delete(mgr.matches, match.ID())
		mgr.mu.Unlock()
	})
}

// SetRetention overrides the post-termination retention window applied to
// matches created after this call (default DefaultRetention).
func (mgr *Manager) SetRetention(d time.Duration) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.retention = d
}

// Get returns the match with the given id, if it is still in memory.
func (mgr *Manager) Get(id string) (*Match, bool) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	m, ok := mgr.matches[id]
	return m, ok
}

// List returns every match currently in memory, running or within its
// post-termination retention window.
func (mgr *Manager) List() []*Match {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	out := make([]*Match, 0, len(mgr.matches))
	for _, m := range mgr.matches {
		out = append(out, m)
	}
	return out
}

// Shutdown cancels every in-flight match's Run loop. It does not wait for
// them to finish; callers pair it with their own shutdown timeout.
func (mgr *Manager) Shutdown() {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	for _, m := range mgr.matches {
		m.Cancel()
	}
}

// Active returns every match not yet in a terminal state.
func (mgr *Manager) Active() []*Match {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	out := make([]*Match, 0, len(mgr.matches))
	for _, m := range mgr.matches {
		if !m.Status().Terminal() {
			out = append(out, m)
		}
	}
	return out
}

// retryingSimulator wraps a Simulator, retrying a failed Provision call
// with exponential backoff before giving up. Grounded on the teacher's
// Broker.listenWithRetry.
type retryingSimulator struct {
	inner       Simulator
	logger      *slog.Logger
	maxAttempts int
}

func (r *retryingSimulator) Provision(ctx context.Context, spec MatchSpec) (StateStream, error) {
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		stream, err := r.inner.Provision(ctx, spec)
		if err == nil {
			recordSimulatorCall("provision", start, attempt)
			return stream, nil
		}
		lastErr = err
		backoff := time.Duration(1<<attempt) * time.Second
		r.logger.Warn("arbiter: simulator provision failed, retrying",
			"match_id", spec.MatchID, "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			recordSimulatorCall("provision", start, attempt)
			return StateStream{}, ctx.Err()
		}
	}
	recordSimulatorCall("provision", start, r.maxAttempts-1)
	return StateStream{}, fmt.Errorf("arbiter: provision %s failed after %d attempts: %w", spec.MatchID, r.maxAttempts, lastErr)
}

// DeliverOrders makes up to MaxDeliveryRetries delivery attempts in total,
// with a short fixed backoff between them, before giving up, so a transient simulator hiccup
// during running doesn't immediately escalate the match to error (spec §4.2
// "Failure semantics", spec §7 "Transient"). Each attempt is bounded by
// DeliveryTimeout.
func (r *retryingSimulator) DeliverOrders(ctx context.Context, matchID string, orders []model.Order) error {
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < MaxDeliveryRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, DeliveryTimeout)
		err := r.inner.DeliverOrders(attemptCtx, matchID, orders)
		cancel()
		if err == nil {
			recordSimulatorCall("deliver_orders", start, attempt)
			return nil
		}
		lastErr = err
		if attempt == MaxDeliveryRetries-1 {
			break
		}
		backoff := deliveryRetryBackoff
		r.logger.Warn("arbiter: order delivery failed, retrying",
			"match_id", matchID, "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			recordSimulatorCall("deliver_orders", start, attempt)
			return ctx.Err()
		}
	}
	recordSimulatorCall("deliver_orders", start, MaxDeliveryRetries-1)
	return fmt.Errorf("arbiter: deliver orders to %s failed after %d attempts: %w", matchID, MaxDeliveryRetries, lastErr)
}

func (r *retryingSimulator) Release(ctx context.Context, matchID string) error {
	start := time.Now()
	err := r.inner.Release(ctx, matchID)
	recordSimulatorCall("release", start, 0)
	return err
}
