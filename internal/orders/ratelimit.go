// Package orders implements the Order Pipeline: rate-limit then validate
// every order batch an agent submits for one match (spec §4.4).
package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jediswimmer/ironcurtain/internal/model"
)

// ErrUnknownProfile is returned when a batch names a profile outside the
// three recognized ones.
var ErrUnknownProfile = fmt.Errorf("orders: unknown rate-limit profile")

// APMCounter is the backing store for the rolling actions-per-minute check.
// A call records the attempt only when it allows it, mirroring the
// teacher's Redis sliding-window semantics: rejected attempts are not
// counted against the window.
type APMCounter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Counters accumulates per-agent totals across the lifetime of a match.
type Counters struct {
	Total      int
	Accepted   int
	Rejected   int
	ByCategory map[model.ViolationCategory]int
}

func newCounters() *Counters {
	return &Counters{ByCategory: make(map[model.ViolationCategory]int)}
}

func (c *Counters) record(v model.Violation) {
	c.Rejected++
	c.ByCategory[v.Category]++
}

// SuspicionThreshold is the default monotone threshold past which an
// agent's accumulated violation count is reported as suspicious (spec
// §4.4.2). It is read-only: the core never acts on it automatically.
const SuspicionThreshold = 50

// Suspicious reports whether c's total violation count has crossed the
// suspicion threshold.
func (c *Counters) Suspicious() bool {
	return c.Rejected >= SuspicionThreshold
}

// RateLimitResult is the outcome of processing one batch through the
// limiter stage.
type RateLimitResult struct {
	Allowed    []model.Order
	Rejected   []model.Order
	Violations []model.Violation
}

// RateLimiter enforces the three named profiles' caps over per-agent order
// batches (spec §4.4.1).
type RateLimiter struct {
	apm APMCounter

	mu       sync.Mutex
	counters map[string]*Counters
}

// NewRateLimiter constructs a limiter backed by the given APM counter.
func NewRateLimiter(apm APMCounter) *RateLimiter {
	return &RateLimiter{apm: apm, counters: make(map[string]*Counters)}
}

// CountersFor returns the running counters for agentID, creating them if
// this is the first batch seen from that agent.
func (l *RateLimiter) CountersFor(agentID string) *Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[agentID]
	if !ok {
		c = newCounters()
		l.counters[agentID] = c
	}
	return c
}

// Process evaluates one order batch against profile's caps, in the fixed
// order the spec mandates: units-per-command, then orders-per-tick, then
// per-order submission spacing, then rolling APM. allowed preserves
// submission order.
//
// arrivals, if non-nil, must be parallel to orders and gives each order's
// individual receipt time for the min-spacing check; when nil the orders
// carry no individual receipt times and the min-spacing check is skipped.
func (l *RateLimiter) Process(ctx context.Context, agentID string, orders []model.Order, profile Profile, batchTime time.Time, arrivals []time.Time) (RateLimitResult, error) {
	limits, ok := Resolve(profile)
	if !ok {
		return RateLimitResult{}, ErrUnknownProfile
	}
	counters := l.CountersFor(agentID)
	counters.Total += len(orders)

	result := RateLimitResult{}

	type candidate struct {
		order   model.Order
		index   int
		arrival time.Time
	}
	var survivors []candidate

	// Cap 1: units-per-command.
	for i, o := range orders {
		if limits.MaxUnitsPerCommand > 0 && len(o.UnitIDs) > limits.MaxUnitsPerCommand {
			v := model.Violation{
				OrderIndex: i, Category: model.ViolationUnitsPerCommand, Severity: model.SeverityLow,
				Reason: fmt.Sprintf("unit list length %d exceeds profile cap %d", len(o.UnitIDs), limits.MaxUnitsPerCommand),
			}
			result.Rejected = append(result.Rejected, o)
			result.Violations = append(result.Violations, v)
			counters.record(v)
			continue
		}
		arrival := batchTime
		if arrivals != nil && i < len(arrivals) {
			arrival = arrivals[i]
		}
		survivors = append(survivors, candidate{order: o, index: i, arrival: arrival})
	}

	// Cap 2: orders-per-tick, counted over survivors of cap 1 in
	// submission order.
	var afterTickCap []candidate
	for pos, cand := range survivors {
		if pos >= limits.MaxOrdersPerTick {
			v := model.Violation{
				OrderIndex: cand.index, Category: model.ViolationMaxOrdersPerTick, Severity: model.SeverityLow,
				Reason: fmt.Sprintf("batch position %d exceeds per-tick cap %d", pos, limits.MaxOrdersPerTick),
			}
			result.Rejected = append(result.Rejected, cand.order)
			result.Violations = append(result.Violations, v)
			counters.record(v)
			continue
		}
		afterTickCap = append(afterTickCap, cand)
	}

	// Cap 3: minimum inter-order spacing within the batch (spec Open
	// Question, resolved strict: see SPEC_FULL.md §C).
	var afterSpacing []candidate
	var lastAccepted time.Time
	haveLast := false
	for _, cand := range afterTickCap {
		if limits.MinSpacing > 0 && arrivals != nil && haveLast && cand.arrival.Sub(lastAccepted) < limits.MinSpacing {
			v := model.Violation{
				OrderIndex: cand.index, Category: model.ViolationMinSpacing, Severity: model.SeverityLow,
				Reason: fmt.Sprintf("arrived %s after previous order, below %s minimum", cand.arrival.Sub(lastAccepted), limits.MinSpacing),
			}
			result.Rejected = append(result.Rejected, cand.order)
			result.Violations = append(result.Violations, v)
			counters.record(v)
			continue
		}
		lastAccepted = cand.arrival
		haveLast = true
		afterSpacing = append(afterSpacing, cand)
	}

	// Cap 4: rolling actions-per-minute window.
	for _, cand := range afterSpacing {
		allowed, err := l.apm.Allow(ctx, agentID, limits.MaxAPM, time.Minute)
		if err != nil {
			return RateLimitResult{}, fmt.Errorf("orders: apm check: %w", err)
		}
		if !allowed {
			v := model.Violation{
				OrderIndex: cand.index, Category: model.ViolationAPM, Severity: model.SeverityLow,
				Reason: fmt.Sprintf("exceeds %d orders/60s", limits.MaxAPM),
			}
			result.Rejected = append(result.Rejected, cand.order)
			result.Violations = append(result.Violations, v)
			counters.record(v)
			continue
		}
		result.Allowed = append(result.Allowed, cand.order)
		counters.Accepted++
	}

	return result, nil
}
