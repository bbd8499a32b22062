// Package exchange defines the surface of the HTTP runtime that the relay
// sits on: dispatching requests with streamed content, lifecycle events and
// abort.
package exchange

import (
	"context"

	"http-relay-go/internal/content"
	"http-relay-go/internal/model"
)

// Event is a request lifecycle event.
type Event int

// Lifecycle events.
const (
	// EventQueued fires when the exchange is handed to the runtime.
	EventQueued Event = iota
	// EventCommit fires once the request headers have been sent.
	EventCommit
	// EventContentSent fires once the whole request body has been sent.
	EventContentSent
)

func (e Event) String() string {
	switch e {
	case EventQueued:
		return "queued"
	case EventCommit:
		return "commit"
	case EventContentSent:
		return "content-sent"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of an exchange sent with Send.
type Result struct {
	Response *model.Response
	Err      error
}

// Failed reports whether the exchange failed.
func (r Result) Failed() bool { return r.Err != nil }

// Listener receives the terminal Result of an exchange exactly once.
type Listener func(Result)

// Exchange is one request/response pair dispatched against the runtime.
// An exchange is sent at most once, with either Send or Stream.
type Exchange interface {
	// Listen registers fn for ev. Hooks must be registered before sending
	// and must not block.
	Listen(ev Event, fn func())

	// Send dispatches the request with its body pulled from src (nil for no
	// body) and reports the outcome to l. The response body is discarded.
	Send(src content.Source, l Listener)

	// Stream dispatches the request without a body and streams the response
	// body through sink.
	Stream(sink content.Sink)

	// Abort fails the exchange with cause. It returns false if the exchange
	// was already aborted.
	Abort(cause error) bool
}

// Runtime creates exchanges. The context bounds the exchange's lifetime.
type Runtime interface {
	NewExchange(ctx context.Context, req *model.Request) (Exchange, error)
}
