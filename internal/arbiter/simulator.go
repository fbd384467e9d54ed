// Package arbiter owns the state machine of a single match from pairing to
// termination, multiplexes network channels to the simulator, and routes
// authoritative state through the Fog Enforcer and orders through the
// Order Pipeline (spec §4.2).
package arbiter

import (
	"context"
	"sync"
	"time"

	"github.com/jediswimmer/ironcurtain/internal/model"
)

// MatchSpec is everything the simulator needs to provision one match.
type MatchSpec struct {
	MatchID      string
	Mode         string
	Map          string
	Participants [2]model.Participant
}

// OutcomeEvent is a terminal signal from the simulator: the game ended on
// its own terms (as opposed to surrender, disconnect, or a server-side
// forced stop).
type OutcomeEvent struct {
	WinnerID string // empty on draw
	Draw     bool
	Reason   string
}

// StateStream is what a simulator connection looks like to the arbiter:
// a channel of authoritative states in strictly increasing tick order, and
// a channel of terminal outcome events. Either channel closing signals the
// simulator connection was lost.
type StateStream struct {
	States   <-chan model.AuthoritativeState
	Outcomes <-chan OutcomeEvent
}

// Simulator is the abstract external game engine interface (spec §6
// "Outbound to simulator"). Implementations own their own transport;
// the arbiter never blocks on simulator I/O while holding a match-scope
// lock.
type Simulator interface {
	Provision(ctx context.Context, spec MatchSpec) (StateStream, error)
	DeliverOrders(ctx context.Context, matchID string, orders []model.Order) error
	Release(ctx context.Context, matchID string) error
}

// DeliveryTimeout is the recommended per-request timeout for simulator
// calls (spec §5).
const DeliveryTimeout = 5 * time.Second

// MaxDeliveryRetries bounds the total attempts (first try included) of an
// order delivery before the match is escalated to the error state (spec §7
// "Transient" errors).
const MaxDeliveryRetries = 3

// FakeSimulator is an in-memory Simulator used by match/arbiter tests. It
// hands callers the write end of the channels it returns, so a test can
// drive tick-by-tick state and outcome events directly.
type FakeSimulator struct {
	states   chan model.AuthoritativeState
	outcomes chan OutcomeEvent
	orders   chan deliveredBatch

	mu              sync.Mutex
	deliverFailures int
	deliverErr      error
	released        bool
}

type deliveredBatch struct {
	matchID string
	orders  []model.Order
}

// NewFakeSimulator constructs a FakeSimulator with buffered channels wide
// enough for a handful of ticks without the test needing a reader goroutine
// running ahead of time.
func NewFakeSimulator() *FakeSimulator {
	return &FakeSimulator{
		states:   make(chan model.AuthoritativeState, 16),
		outcomes: make(chan OutcomeEvent, 4),
		orders:   make(chan deliveredBatch, 16),
	}
}

func (f *FakeSimulator) Provision(_ context.Context, _ MatchSpec) (StateStream, error) {
	return StateStream{States: f.states, Outcomes: f.outcomes}, nil
}

func (f *FakeSimulator) DeliverOrders(_ context.Context, matchID string, orders []model.Order) error {
	f.mu.Lock()
	if f.deliverFailures > 0 {
		f.deliverFailures--
		err := f.deliverErr
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	f.orders <- deliveredBatch{matchID: matchID, orders: orders}
	return nil
}

// FailNextDeliveries makes the next n calls to DeliverOrders return err
// before delivery resumes succeeding, so tests can exercise retryingSimulator
// without a real simulator connection.
func (f *FakeSimulator) FailNextDeliveries(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliverFailures = n
	f.deliverErr = err
}

func (f *FakeSimulator) Release(_ context.Context, _ string) error {
	f.released = true
	return nil
}

// PushState feeds a new authoritative state to the match under test.
func (f *FakeSimulator) PushState(s model.AuthoritativeState) { f.states <- s }

// PushOutcome feeds a terminal outcome event.
func (f *FakeSimulator) PushOutcome(o OutcomeEvent) { f.outcomes <- o }

// Delivered drains and returns the next batch handed to DeliverOrders, or
// false if none has arrived.
func (f *FakeSimulator) Delivered() ([]model.Order, bool) {
	select {
	case b := <-f.orders:
		return b.orders, true
	default:
		return nil, false
	}
}

// Released reports whether Release has been called.
func (f *FakeSimulator) Released() bool { return f.released }
