package arbiter

import (
	"context"
	"sync"

	"github.com/jediswimmer/ironcurtain/internal/model"
)

// DefaultChannelDepth bounds how many undelivered messages an
// OutboundChannel holds before applying back-pressure (spec §5).
const DefaultChannelDepth = 64

// OutboundChannel delivers server messages to one connected agent or
// spectator, applying the back-pressure policy from spec §5: once full, a
// newly-queued droppable message (state_update, state_response, chat)
// evicts the oldest droppable entry to make room; game_start, game_end,
// match_cancelled, and order_violations are never dropped and never evict
// anything themselves.
//
// Grounded on the teacher's Broker (per-subscriber buffered channel,
// drop-on-full), adapted from a single uniform channel to a two-class
// queue since this domain distinguishes droppable from non-droppable
// message types.
type OutboundChannel struct {
	mu     sync.Mutex
	queue  []model.ServerMessage
	maxLen int
	closed bool

	ready chan struct{} // signaled (non-blocking) when the queue gains an entry
	done  chan struct{} // closed when Close is called
}

// NewOutboundChannel constructs a channel with the given capacity.
func NewOutboundChannel(maxLen int) *OutboundChannel {
	return &OutboundChannel{
		maxLen: maxLen,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Send enqueues msg, applying the drop-oldest policy when full.
func (c *OutboundChannel) Send(msg model.ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if len(c.queue) >= c.maxLen {
		if !msg.Type.Never() && !c.evictOldestDroppableLocked() {
			return // no room and this message is itself droppable: drop it
		}
	}
	c.queue = append(c.queue, msg)
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *OutboundChannel) evictOldestDroppableLocked() bool {
	for i, m := range c.queue {
		if !m.Type.Never() {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Recv blocks until a message is available, the channel is closed, or ctx
// is cancelled. The boolean result is false in the latter two cases.
func (c *OutboundChannel) Recv(ctx context.Context) (model.ServerMessage, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, true
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return model.ServerMessage{}, false
		}

		select {
		case <-c.ready:
		case <-c.done:
		case <-ctx.Done():
			return model.ServerMessage{}, false
		}
	}
}

// Close marks the channel closed; pending messages may still be drained by
// a subsequent Recv, but no new Send will be accepted.
func (c *OutboundChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
