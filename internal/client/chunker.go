package client

import (
	"io"

	"http-relay-go/internal/content"
)

// chunker splits a response body into pooled buffers. With a known length
// the final chunk is the one that reaches it. Otherwise the chunker reads
// one buffer ahead so that the last data chunk, not an extra empty one,
// carries last.
type chunker struct {
	body   io.Reader
	pool   *content.Pool
	length int64
	read   int64

	ahead     *content.Buffer
	aheadN    int
	aheadLast bool
}

func newChunker(body io.Reader, pool *content.Pool, length int64) *chunker {
	return &chunker{body: body, pool: pool, length: length}
}

// next returns the next buffer, the number of valid bytes in it and
// whether it is the final chunk. The caller owns the returned buffer.
func (c *chunker) next() (*content.Buffer, int, bool, error) {
	if c.ahead != nil && c.aheadLast {
		buf, n := c.take()
		return buf, n, true, nil
	}

	for {
		buf := c.pool.Get()
		n, err := c.body.Read(buf.Bytes())
		c.read += int64(n)
		if err != nil && err != io.EOF {
			buf.Release()
			return nil, 0, false, err
		}
		eof := err == io.EOF || (c.length >= 0 && c.read >= c.length)
		if n == 0 && !eof {
			buf.Release()
			continue
		}

		if c.length >= 0 {
			return buf, n, eof, nil
		}

		switch {
		case c.ahead == nil && eof:
			return buf, n, true, nil
		case c.ahead == nil:
			c.ahead, c.aheadN = buf, n
		case n == 0:
			buf.Release()
			prev, pn := c.take()
			return prev, pn, true, nil
		default:
			prev, pn := c.take()
			c.ahead, c.aheadN, c.aheadLast = buf, n, eof
			return prev, pn, false, nil
		}
	}
}

func (c *chunker) take() (*content.Buffer, int) {
	buf, n := c.ahead, c.aheadN
	c.ahead, c.aheadN, c.aheadLast = nil, 0, false
	return buf, n
}

// release returns a buffer read ahead but never handed out.
func (c *chunker) release() {
	if c.ahead != nil {
		c.ahead.Release()
		c.ahead = nil
	}
}
