package content

import (
	"github.com/valyala/bytebufferpool"
	"go.uber.org/atomic"
)

// DefaultChunkSize is the read size used when a pool is created with size <= 0.
const DefaultChunkSize = 16 * 1024

// Pool hands out fixed-size read buffers.
type Pool struct {
	size int
	bp   bytebufferpool.Pool
}

// NewPool returns a pool of buffers of the given size.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Pool{size: size}
}

// Size returns the length of buffers returned by Get.
func (p *Pool) Size() int { return p.size }

// Get returns a buffer owned by the caller until Release.
func (p *Pool) Get() *Buffer {
	bb := p.bp.Get()
	if cap(bb.B) < p.size {
		bb.B = make([]byte, p.size)
	} else {
		bb.B = bb.B[:p.size]
	}
	return &Buffer{pool: p, bb: bb}
}

// Buffer is an owned handle to pooled memory. It becomes invalid once
// released; using or releasing it again panics.
type Buffer struct {
	pool     *Pool
	bb       *bytebufferpool.ByteBuffer
	released atomic.Bool
}

// Bytes returns the buffer memory.
func (b *Buffer) Bytes() []byte {
	if b.released.Load() {
		panic(&ProtocolViolationError{Op: "buffer bytes", Reason: "buffer used after release"})
	}
	return b.bb.B
}

// Release returns the memory to its pool.
func (b *Buffer) Release() {
	if !b.released.CompareAndSwap(false, true) {
		panic(&ProtocolViolationError{Op: "buffer release", Reason: "buffer released twice"})
	}
	bb := b.bb
	b.bb = nil
	b.pool.bp.Put(bb)
}

// Released reports whether the buffer has been returned to its pool.
func (b *Buffer) Released() bool { return b.released.Load() }
