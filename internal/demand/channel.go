// Package demand connects the response side of a relay to its request side
// through a single-slot channel: one chunk is requested from the producer,
// forwarded to the consumer, and the next one is requested only after the
// consumer has finished with it.
package demand

import (
	"fmt"
	"sync"

	"http-relay-go/internal/content"
)

// State is the state of a Channel.
type State int

// Channel states.
const (
	Idle State = iota
	AwaitingChunk
	Closed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingChunk:
		return "awaiting-chunk"
	case Closed:
		return "closed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == Closed || s == Aborted }

// Target is the request side a Channel forwards into.
type Target interface {
	Offer(c *content.Chunk) bool
	Close() error
	Abort(err error)
}

// Option configures a Channel.
type Option func(*Channel)

// WithAbortHook registers fn to run once when the channel aborts. It runs
// outside the channel lock, with the abort cause.
func WithAbortHook(fn func(err error)) Option {
	return func(c *Channel) { c.onAbort = fn }
}

// WithForwardHook registers fn to run for every chunk forwarded to the
// target, before it is offered.
func WithForwardHook(fn func(c *content.Chunk)) Option {
	return func(c *Channel) { c.onForward = fn }
}

// Channel is the single-slot hand-off between the response and request
// sides of a relay. All state changes happen under one lock; the demand
// function, the target and the hooks are always called outside it.
type Channel struct {
	target    Target
	onAbort   func(err error)
	onForward func(c *content.Chunk)

	mu           sync.Mutex
	state        State
	demand       content.DemandFunc
	ready        bool
	inflight     *content.Chunk
	upstreamDone bool
	failure      error
}

// New returns an Idle channel forwarding into target.
func New(target Target, opts ...Option) *Channel {
	c := &Channel{target: target}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the abort cause, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// InFlight reports whether a forwarded chunk is waiting for the consumer.
func (c *Channel) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

// Attach sets the producer's demand function. If the consumer signaled
// readiness before the producer attached, the first chunk is requested now.
func (c *Channel) Attach(demand content.DemandFunc) {
	c.mu.Lock()
	c.demand = demand
	fire := c.ready && c.state == Idle && c.inflight == nil
	if fire {
		c.ready = false
		c.state = AwaitingChunk
	}
	c.mu.Unlock()

	if fire {
		demand(1)
	}
}

// Demand requests one chunk from the producer. It is called when the
// consumer becomes ready to receive content. Demanding while a chunk is
// already requested or in flight is a protocol violation; demanding on a
// terminal channel is ignored.
func (c *Channel) Demand() error {
	c.mu.Lock()
	switch {
	case c.state.Terminal():
		c.mu.Unlock()
		return nil
	case c.state == AwaitingChunk || c.inflight != nil:
		c.mu.Unlock()
		return &content.ProtocolViolationError{Op: "demand", Reason: "demand already outstanding"}
	case c.demand == nil:
		c.ready = true
		c.mu.Unlock()
		return nil
	}
	c.state = AwaitingChunk
	demand := c.demand
	c.mu.Unlock()

	demand(1)
	return nil
}

// Deliver forwards a chunk from the producer into the target. A chunk
// delivered without outstanding demand aborts the channel with a
// ProtocolViolationError. Chunks delivered to a terminal channel are failed.
func (c *Channel) Deliver(chunk *content.Chunk) error {
	c.mu.Lock()
	if c.state.Terminal() {
		err := c.failure
		c.mu.Unlock()
		if err == nil {
			err = content.ErrSourceClosed
		}
		chunk.Fail(err)
		return err
	}
	if c.state != AwaitingChunk {
		c.mu.Unlock()
		violation := &content.ProtocolViolationError{Op: "deliver", Reason: "chunk delivered without demand"}
		chunk.Fail(violation)
		c.Abort(violation)
		return violation
	}
	c.state = Idle
	c.inflight = chunk
	c.mu.Unlock()

	fwd := content.NewChunk(chunk.Bytes(), chunk.Last(), content.CallbackFuncs{
		Success: c.forwarded,
		Failure: c.rejected,
	})
	if c.onForward != nil {
		c.onForward(chunk)
	}
	c.target.Offer(fwd)
	return nil
}

// forwarded runs when the consumer has sent the forwarded chunk.
func (c *Channel) forwarded() {
	c.mu.Lock()
	chunk := c.inflight
	c.inflight = nil
	if chunk == nil {
		c.mu.Unlock()
		return
	}
	var closeTarget, demandNext bool
	switch {
	case c.state.Terminal():
	case c.upstreamDone:
		c.state = Closed
		closeTarget = true
	default:
		c.state = AwaitingChunk
		demandNext = true
	}
	demand := c.demand
	c.mu.Unlock()

	chunk.Succeed()
	if closeTarget {
		_ = c.target.Close()
	}
	if demandNext {
		demand(1)
	}
}

// rejected runs when the consumer failed to send the forwarded chunk.
func (c *Channel) rejected(err error) {
	c.mu.Lock()
	chunk := c.inflight
	c.inflight = nil
	c.mu.Unlock()

	if chunk != nil {
		chunk.Fail(err)
	}
	c.Abort(&content.ConsumerError{Err: err})
}

// Complete records that the producer has no more content. The target is
// closed now, or after the in-flight chunk completes.
func (c *Channel) Complete() {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.upstreamDone = true
	if c.inflight != nil {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	c.mu.Unlock()

	_ = c.target.Close()
}

// Abort moves the channel to Aborted, aborts the target with err and runs
// the abort hook. It returns false if the channel was already terminal.
func (c *Channel) Abort(err error) bool {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return false
	}
	c.state = Aborted
	c.failure = err
	c.mu.Unlock()

	c.target.Abort(err)
	if c.onAbort != nil {
		c.onAbort(err)
	}
	return true
}
