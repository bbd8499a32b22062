package client

import (
	"context"
	"io"
	"sync"

	"http-relay-go/internal/content"
)

// sourceReader exposes a content.Source as a request body. A chunk is
// completed once the transport comes back for more after copying it.
type sourceReader struct {
	ctx   context.Context
	src   content.Source
	avail chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	cur    *content.Chunk
	off    int
	eof    bool
	closed bool
}

func newSourceReader(ctx context.Context, src content.Source) *sourceReader {
	r := &sourceReader{
		ctx:   ctx,
		src:   src,
		avail: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	src.OnAvailable(r.signal)
	return r
}

func (r *sourceReader) signal() {
	select {
	case r.avail <- struct{}{}:
	default:
	}
}

func (r *sourceReader) Read(p []byte) (int, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return 0, errBodyClosed
		}
		if r.eof {
			r.mu.Unlock()
			return 0, io.EOF
		}
		if r.cur != nil {
			if r.off < r.cur.Len() {
				n := copy(p, r.cur.Bytes()[r.off:])
				r.off += n
				r.mu.Unlock()
				return n, nil
			}
			sent := r.cur
			r.cur = nil
			r.mu.Unlock()
			sent.Succeed()
			continue
		}

		res := r.src.Advance()
		switch res.Kind {
		case content.Delivered:
			r.cur, r.off = res.Chunk, 0
			r.mu.Unlock()
			continue
		case content.EndOfContent:
			r.eof = true
			r.mu.Unlock()
			return 0, io.EOF
		case content.Aborted:
			r.mu.Unlock()
			return 0, res.Err
		}
		r.mu.Unlock()

		select {
		case <-r.avail:
		case <-r.done:
		case <-r.ctx.Done():
			return 0, context.Cause(r.ctx)
		}
	}
}

// Close is called by the transport. The chunk being copied, if any, is
// failed later by finish with the exchange's real outcome.
func (r *sourceReader) Close() error {
	r.mu.Lock()
	r.markClosed()
	r.mu.Unlock()
	return nil
}

// finish settles the reader once the exchange is over. It fails the chunk
// being copied and aborts the source unless the whole content was read,
// and reports whether it was.
func (r *sourceReader) finish(err error) bool {
	r.mu.Lock()
	r.markClosed()
	cur := r.cur
	r.cur = nil
	eof := r.eof
	r.mu.Unlock()

	if cur != nil {
		cur.Fail(err)
	}
	if !eof {
		r.src.Abort(err)
	}
	return eof
}

func (r *sourceReader) markClosed() {
	if !r.closed {
		r.closed = true
		close(r.done)
	}
}
