// Package content implements the chunked content protocol shared by
// request sources and response sinks: chunks with single-fire completion,
// pooled buffers, demand-driven sinks and pull-based sources.
package content

import (
	"go.uber.org/atomic"
)

// Callback receives the completion signal of a Chunk.
type Callback interface {
	Succeeded()
	Failed(err error)
}

// CallbackFuncs adapts a pair of functions to Callback. Nil fields are skipped.
type CallbackFuncs struct {
	Success func()
	Failure func(err error)
}

// Succeeded implements Callback.
func (f CallbackFuncs) Succeeded() {
	if f.Success != nil {
		f.Success()
	}
}

// Failed implements Callback.
func (f CallbackFuncs) Failed(err error) {
	if f.Failure != nil {
		f.Failure(err)
	}
}

// Noop is a Callback that does nothing.
var Noop Callback = CallbackFuncs{}

// Chunk is an immutable view of bytes handed from a producer to exactly one
// consumer. The producer owns the bytes until the consumer calls Succeed or
// Fail; the consumer must not retain Bytes past that call.
type Chunk struct {
	data []byte
	last bool
	cb   Callback
	done atomic.Bool
}

// NewChunk returns a chunk over data whose completion is reported to cb.
func NewChunk(data []byte, last bool, cb Callback) *Chunk {
	if cb == nil {
		cb = Noop
	}
	return &Chunk{data: data, last: last, cb: cb}
}

// Bytes returns the chunk content.
func (c *Chunk) Bytes() []byte { return c.data }

// Len returns the number of bytes in the chunk.
func (c *Chunk) Len() int { return len(c.data) }

// Last reports whether this is the final chunk of its stream.
func (c *Chunk) Last() bool { return c.last }

// Done reports whether the completion has been signaled.
func (c *Chunk) Done() bool { return c.done.Load() }

// Succeed signals that the consumer is finished with the chunk.
// It panics if the completion was already signaled.
func (c *Chunk) Succeed() {
	c.fire("succeed")
	c.cb.Succeeded()
}

// Fail signals that the consumer could not process the chunk.
// It panics if the completion was already signaled.
func (c *Chunk) Fail(err error) {
	c.fire("fail")
	c.cb.Failed(err)
}

func (c *Chunk) fire(op string) {
	if !c.done.CompareAndSwap(false, true) {
		panic(&ProtocolViolationError{Op: "chunk " + op, Reason: "completion already signaled"})
	}
}
