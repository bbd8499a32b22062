package content

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	succeeded int
	failed    []error
}

func (r *recorder) Succeeded() { r.succeeded++ }
func (r *recorder) Failed(err error) { r.failed = append(r.failed, err) }

func TestChunk_SucceedOnce(t *testing.T) {
	rec := &recorder{}
	c := NewChunk([]byte("abc"), false, rec)

	assert.Equal(t, []byte("abc"), c.Bytes())
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Last())
	assert.False(t, c.Done())

	c.Succeed()
	assert.True(t, c.Done())
	assert.Equal(t, 1, rec.succeeded)
	assert.Empty(t, rec.failed)
}

func TestChunk_SecondCompletionPanics(t *testing.T) {
	tests := []struct {
		name   string
		first  func(c *Chunk)
		second func(c *Chunk)
	}{
		{"succeed twice", (*Chunk).Succeed, (*Chunk).Succeed},
		{"fail after succeed", (*Chunk).Succeed, func(c *Chunk) { c.Fail(errors.New("late")) }},
		{"succeed after fail", func(c *Chunk) { c.Fail(errors.New("x")) }, (*Chunk).Succeed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			c := NewChunk(nil, true, rec)
			tt.first(c)

			var recovered any
			func() {
				defer func() { recovered = recover() }()
				tt.second(c)
			}()

			require.NotNil(t, recovered)
			pv, ok := recovered.(*ProtocolViolationError)
			require.True(t, ok, "panic value %T", recovered)
			assert.Contains(t, pv.Reason, "already signaled")
			assert.Equal(t, 1, rec.succeeded+len(rec.failed))
		})
	}
}

func TestChunk_NilCallback(t *testing.T) {
	c := NewChunk([]byte("x"), true, nil)
	assert.NotPanics(t, c.Succeed)
}

func TestCallbackFuncs_NilFields(t *testing.T) {
	var cb Callback = CallbackFuncs{}
	assert.NotPanics(t, func() {
		cb.Succeeded()
		cb.Failed(errors.New("x"))
	})
}

func TestPool_BufferOwnership(t *testing.T) {
	p := NewPool(8)
	assert.Equal(t, 8, p.Size())

	b := p.Get()
	assert.Len(t, b.Bytes(), 8)
	assert.False(t, b.Released())

	b.Release()
	assert.True(t, b.Released())

	assert.PanicsWithValue(t,
		&ProtocolViolationError{Op: "buffer release", Reason: "buffer released twice"},
		b.Release)
	assert.Panics(t, func() { _ = b.Bytes() })
}

func TestPool_DefaultSize(t *testing.T) {
	assert.Equal(t, DefaultChunkSize, NewPool(0).Size())
	assert.Equal(t, DefaultChunkSize, NewPool(-1).Size())
}

func TestErrors_Classification(t *testing.T) {
	base := errors.New("connection reset")
	pv := &ProtocolViolationError{Op: "deliver", Reason: "no demand"}

	tests := []struct {
		name      string
		err       error
		retryable bool
		violation bool
	}{
		{"nil", nil, false, false},
		{"plain", base, false, false},
		{"producer", &ProducerError{Err: base}, true, false},
		{"consumer", &ConsumerError{Err: base}, true, false},
		{"violation", pv, false, true},
		{"wrapped violation", &ConsumerError{Err: pv}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, Retryable(tt.err))
			assert.Equal(t, tt.violation, IsProtocolViolation(tt.err))
		})
	}
}

func TestErrors_Unwrap(t *testing.T) {
	base := errors.New("boom")
	assert.ErrorIs(t, &ProducerError{Err: base}, base)
	assert.ErrorIs(t, &ConsumerError{Err: base}, base)
	assert.Equal(t, "producer failed: boom", (&ProducerError{Err: base}).Error())
}
