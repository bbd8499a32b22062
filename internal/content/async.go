package content

import (
	"sync"
)

// AsyncSource is a Source fed by Offer from another goroutine. Chunks are
// handed to Advance in offer order; Close ends the content once all
// queued chunks have been taken.
type AsyncSource struct {
	mu          sync.Mutex
	queue       []*Chunk
	closed      bool
	finished    bool
	failure     error
	available   func()
	length      int64
	contentType string
}

// NewAsyncSource returns an open source of unknown length.
func NewAsyncSource() *AsyncSource {
	return &AsyncSource{length: -1}
}

// SetContentType sets the media type reported to the exchange. It must be
// called before the source is sent.
func (s *AsyncSource) SetContentType(ct string) {
	s.mu.Lock()
	s.contentType = ct
	s.mu.Unlock()
}

// SetLength sets the total length reported to the exchange. It must be
// called before the source is sent.
func (s *AsyncSource) SetLength(n int64) {
	s.mu.Lock()
	s.length = n
	s.mu.Unlock()
}

// ContentType implements Source.
func (s *AsyncSource) ContentType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentType
}

// Length implements Source.
func (s *AsyncSource) Length() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// OnAvailable implements Source.
func (s *AsyncSource) OnAvailable(fn func()) {
	s.mu.Lock()
	s.available = fn
	s.mu.Unlock()
}

// Offer queues c for the exchange. If the source is closed or aborted the
// chunk is failed immediately and Offer returns false.
func (s *AsyncSource) Offer(c *Chunk) bool {
	s.mu.Lock()
	if s.failure != nil {
		err := s.failure
		s.mu.Unlock()
		c.Fail(err)
		return false
	}
	if s.closed {
		s.mu.Unlock()
		c.Fail(ErrSourceClosed)
		return false
	}
	s.queue = append(s.queue, c)
	fn := s.available
	s.mu.Unlock()

	notify(fn)
	return true
}

// Advance implements Source.
func (s *AsyncSource) Advance() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return Result{Kind: Aborted, Err: s.failure}
	}
	if len(s.queue) > 0 {
		c := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		return Result{Kind: Delivered, Chunk: c}
	}
	if s.closed {
		s.finished = true
		return Result{Kind: EndOfContent}
	}
	return Result{Kind: Pending}
}

// Close ends the content after the queued chunks. Closing more than once,
// or after an abort, does nothing.
func (s *AsyncSource) Close() error {
	s.mu.Lock()
	if s.closed || s.failure != nil {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	fn := s.available
	s.mu.Unlock()

	notify(fn)
	return nil
}

// Abort implements Source. It is a no-op once EndOfContent has been
// returned or the source is already aborted.
func (s *AsyncSource) Abort(err error) {
	s.mu.Lock()
	if s.failure != nil || s.finished {
		s.mu.Unlock()
		return
	}
	s.failure = err
	queued := s.queue
	s.queue = nil
	fn := s.available
	s.mu.Unlock()

	for _, c := range queued {
		c.Fail(err)
	}
	notify(fn)
}

// Queued returns the number of chunks offered but not yet taken.
func (s *AsyncSource) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Closed reports whether Close has been called.
func (s *AsyncSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}
