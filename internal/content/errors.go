package content

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceClosed is the failure given to chunks offered to a closed source.
	ErrSourceClosed = errors.New("content: source closed")

	// ErrContentTooLarge is returned by BufferingSink when the response
	// exceeds its limit.
	ErrContentTooLarge = errors.New("content: buffering limit exceeded")

	// ErrReaderClosed fails chunks delivered to a ReaderSink after Close.
	ErrReaderClosed = errors.New("content: reader closed")
)

// ProducerError reports that the response side of a relay failed before
// completing.
type ProducerError struct {
	Err error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("producer failed: %v", e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

// ConsumerError reports that the request side of a relay failed to send
// the content handed to it.
type ConsumerError struct {
	Err error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("consumer failed: %v", e.Err)
}

func (e *ConsumerError) Unwrap() error { return e.Err }

// ProtocolViolationError reports misuse of the demand protocol, such as
// delivering a chunk nobody asked for or completing a chunk twice. It is an
// internal defect and must never be retried.
type ProtocolViolationError struct {
	Op     string
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("demand protocol violation in %s: %s", e.Op, e.Reason)
}

// IsProtocolViolation reports whether err carries a ProtocolViolationError.
func IsProtocolViolation(err error) bool {
	var pv *ProtocolViolationError
	return errors.As(err, &pv)
}

// Retryable reports whether a failed relay may be retried as a whole.
// Transport failures on either side are retryable; protocol violations
// never are.
func Retryable(err error) bool {
	if err == nil || IsProtocolViolation(err) {
		return false
	}
	var pe *ProducerError
	var ce *ConsumerError
	return errors.As(err, &pe) || errors.As(err, &ce)
}
