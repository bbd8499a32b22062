package relay

import (
	"errors"
	"fmt"
	"time"
)

// ErrCanceled is the cause given to both exchanges when a relay is canceled.
var ErrCanceled = errors.New("relay canceled")

var errDownstreamIncomplete = errors.New("downstream completed before the relayed content was closed")

// Result is the outcome of a relay, reported once both exchanges are over.
type Result struct {
	ID               string
	Err              error
	UpstreamStatus   int
	DownstreamStatus int
	Chunks           int64
	Bytes            int64
	Checksum         uint64
	Duration         time.Duration
}

// Succeeded reports whether both exchanges completed at the transport level.
// Status codes are not considered; see CheckStatus.
func (r Result) Succeeded() bool { return r.Err == nil }

// Outcome returns a bounded label for the result.
func (r Result) Outcome() string {
	switch {
	case r.Err == nil:
		return "succeeded"
	case errors.Is(r.Err, ErrCanceled):
		return "canceled"
	default:
		return "failed"
	}
}

// StatusError reports a non-2xx status on one side of a relay.
type StatusError struct {
	Side       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.Side, e.StatusCode)
}

// CheckStatus applies the common policy of treating any non-2xx status as
// a failure. It returns the transport failure if there was one.
func CheckStatus(r Result) error {
	if r.Err != nil {
		return r.Err
	}
	if r.UpstreamStatus < 200 || r.UpstreamStatus > 299 {
		return &StatusError{Side: "upstream", StatusCode: r.UpstreamStatus}
	}
	if r.DownstreamStatus < 200 || r.DownstreamStatus > 299 {
		return &StatusError{Side: "downstream", StatusCode: r.DownstreamStatus}
	}
	return nil
}
