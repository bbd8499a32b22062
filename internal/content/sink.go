package content

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"http-relay-go/internal/model"
)

// DemandFunc grants permission to deliver n more chunks.
type DemandFunc func(n int64)

// Sink consumes response content pushed by an exchange. Content arrives
// only against demand: nothing is delivered until OnBeforeContent (or a
// later OnContent) calls demand, and a sink that stops demanding stalls
// the response.
type Sink interface {
	// OnBeforeContent is called once, after the response head arrives.
	OnBeforeContent(resp *model.Response, demand DemandFunc)

	// OnContent is called once per delivered chunk. The sink must complete
	// the chunk and call demand again if it wants more.
	OnContent(resp *model.Response, demand DemandFunc, chunk *Chunk)

	// OnSuccess is called once when all content was delivered and every
	// chunk has completed. resp is never nil.
	OnSuccess(resp *model.Response)

	// OnFailure is called once when the exchange fails. resp is nil if the
	// failure happened before a response head arrived.
	OnFailure(resp *model.Response, err error)
}

// BufferingSink accumulates a whole response body in memory, up to a
// limit, and reports it through a completion function.
type BufferingSink struct {
	max  int64
	done func(resp *model.Response, body []byte, err error)

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewBufferingSink returns a sink that buffers at most max bytes.
func NewBufferingSink(max int64, done func(resp *model.Response, body []byte, err error)) *BufferingSink {
	return &BufferingSink{max: max, done: done}
}

// OnBeforeContent implements Sink.
func (s *BufferingSink) OnBeforeContent(_ *model.Response, demand DemandFunc) {
	demand(1)
}

// OnContent implements Sink.
func (s *BufferingSink) OnContent(_ *model.Response, demand DemandFunc, chunk *Chunk) {
	s.mu.Lock()
	if int64(s.buf.Len()+chunk.Len()) > s.max {
		s.mu.Unlock()
		chunk.Fail(fmt.Errorf("%w: limit is %d bytes", ErrContentTooLarge, s.max))
		return
	}
	s.buf.Write(chunk.Bytes())
	s.mu.Unlock()

	chunk.Succeed()
	demand(1)
}

// OnSuccess implements Sink.
func (s *BufferingSink) OnSuccess(resp *model.Response) {
	s.mu.Lock()
	body := bytes.Clone(s.buf.Bytes())
	s.mu.Unlock()
	s.done(resp, body, nil)
}

// OnFailure implements Sink.
func (s *BufferingSink) OnFailure(resp *model.Response, err error) {
	s.done(resp, nil, err)
}

// ReaderSink exposes response content as a blocking io.ReadCloser. A Read
// that finds no buffered content demands one chunk and waits for it, so
// Read and Close must never be called from a content callback. The body
// must be read to EOF or closed, otherwise the exchange never finishes.
type ReaderSink struct {
	head     chan struct{}
	headOnce sync.Once

	mu     sync.Mutex
	cond   *sync.Cond
	resp   *model.Response
	demand DemandFunc
	chunk  *Chunk
	off    int
	asked  bool
	eof    bool
	err    error
	closed bool
}

// NewReaderSink returns a sink whose content is read through Read.
func NewReaderSink() *ReaderSink {
	s := &ReaderSink{head: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Response waits for the response head. If the exchange failed before a
// head arrived it returns that failure.
func (s *ReaderSink) Response(ctx context.Context) (*model.Response, error) {
	select {
	case <-s.head:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resp == nil {
		return nil, s.err
	}
	return s.resp, nil
}

// OnBeforeContent implements Sink. No content is demanded until Read.
func (s *ReaderSink) OnBeforeContent(resp *model.Response, demand DemandFunc) {
	s.mu.Lock()
	s.resp = resp
	s.demand = demand
	// Closed before the head arrived: pull one chunk so it can be refused.
	drain := s.closed
	s.asked = drain
	s.mu.Unlock()

	s.headOnce.Do(func() { close(s.head) })
	s.cond.Broadcast()
	if drain {
		demand(1)
	}
}

// OnContent implements Sink.
func (s *ReaderSink) OnContent(_ *model.Response, demand DemandFunc, chunk *Chunk) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		chunk.Fail(ErrReaderClosed)
		return
	}
	s.chunk, s.off = chunk, 0
	s.demand, s.asked = demand, false
	s.mu.Unlock()
	s.cond.Broadcast()
}

// OnSuccess implements Sink.
func (s *ReaderSink) OnSuccess(resp *model.Response) {
	s.mu.Lock()
	s.eof = true
	if s.resp == nil {
		s.resp = resp
	}
	s.mu.Unlock()
	s.headOnce.Do(func() { close(s.head) })
	s.cond.Broadcast()
}

// OnFailure implements Sink.
func (s *ReaderSink) OnFailure(resp *model.Response, err error) {
	s.mu.Lock()
	s.err = err
	if s.resp == nil {
		s.resp = resp
	}
	s.mu.Unlock()
	s.headOnce.Do(func() { close(s.head) })
	s.cond.Broadcast()
}

// Read implements io.Reader.
func (s *ReaderSink) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		switch {
		case s.closed:
			return 0, ErrReaderClosed
		case s.chunk != nil:
			c := s.chunk
			n := copy(p, c.Bytes()[s.off:])
			s.off += n
			if s.off == c.Len() {
				s.chunk = nil
				if c.Last() {
					s.eof = true
				}
				s.mu.Unlock()
				c.Succeed()
				s.mu.Lock()
			}
			if n > 0 {
				return n, nil
			}
		case s.err != nil:
			return 0, s.err
		case s.eof:
			return 0, io.EOF
		case s.demand != nil && !s.asked:
			s.asked = true
			demand := s.demand
			s.mu.Unlock()
			demand(1)
			s.mu.Lock()
		default:
			s.cond.Wait()
		}
	}
}

// Close implements io.Closer. A chunk still buffered is failed, and if the
// content has not ended one more chunk is demanded so the exchange can
// refuse it and finish.
func (s *ReaderSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	held := s.chunk
	s.chunk = nil
	var demand DemandFunc
	if held == nil && !s.eof && s.err == nil && !s.asked {
		demand = s.demand
		s.asked = true
	}
	s.mu.Unlock()
	s.cond.Broadcast()

	if held != nil {
		held.Fail(ErrReaderClosed)
	}
	if demand != nil {
		demand(1)
	}
	return nil
}
