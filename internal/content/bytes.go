package content

import (
	"sync"
)

// BytesSource is a Source over an in-memory payload, delivered as a single
// last chunk.
type BytesSource struct {
	mu          sync.Mutex
	data        []byte
	contentType string
	sent        bool
	failure     error
}

// NewBytesSource returns a source over data. The slice must not be
// modified while the source is in use.
func NewBytesSource(contentType string, data []byte) *BytesSource {
	return &BytesSource{data: data, contentType: contentType}
}

// NewStringSource returns a source over s.
func NewStringSource(contentType, s string) *BytesSource {
	return NewBytesSource(contentType, []byte(s))
}

// Advance implements Source.
func (s *BytesSource) Advance() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return Result{Kind: Aborted, Err: s.failure}
	}
	if !s.sent {
		s.sent = true
		return Result{Kind: Delivered, Chunk: NewChunk(s.data, true, Noop)}
	}
	return Result{Kind: EndOfContent}
}

// OnAvailable implements Source. The content is always available.
func (s *BytesSource) OnAvailable(func()) {}

// Length implements Source.
func (s *BytesSource) Length() int64 { return int64(len(s.data)) }

// ContentType implements Source.
func (s *BytesSource) ContentType() string { return s.contentType }

// Abort implements Source.
func (s *BytesSource) Abort(err error) {
	s.mu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()
}
