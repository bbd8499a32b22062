package content

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"http-relay-go/internal/model"
)

// drain pulls src the way an exchange does and returns the chunk contents
// and the terminal result.
func drain(t *testing.T, src Source) ([]string, Result) {
	t.Helper()
	avail := make(chan struct{}, 1)
	src.OnAvailable(func() {
		select {
		case avail <- struct{}{}:
		default:
		}
	})

	var got []string
	for {
		r := src.Advance()
		switch r.Kind {
		case Delivered:
			got = append(got, string(r.Chunk.Bytes()))
			r.Chunk.Succeed()
		case Pending:
			select {
			case <-avail:
			case <-time.After(5 * time.Second):
				t.Fatal("source stalled")
			}
		default:
			return got, r
		}
	}
}

type closeTracker struct {
	io.Reader
	closed chan struct{}
}

func newCloseTracker(r io.Reader) *closeTracker {
	return &closeTracker{Reader: r, closed: make(chan struct{})}
}

func (c *closeTracker) Close() error {
	close(c.closed)
	return nil
}

func (c *closeTracker) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("reader was not closed")
	}
}

func TestReaderSource_ChunksReader(t *testing.T) {
	r := newCloseTracker(strings.NewReader("abcdefghij"))
	s := NewReaderSource("text/plain", r, 4)
	assert.Equal(t, int64(-1), s.Length())
	assert.Equal(t, "text/plain", s.ContentType())

	got, end := drain(t, s)
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, got)
	assert.Equal(t, EndOfContent, end.Kind)
	r.waitClosed(t)
}

func TestReaderSource_ReadErrorAborts(t *testing.T) {
	boom := errors.New("disk gone")
	s := NewReaderSource("", io.MultiReader(strings.NewReader("ab"), iotest.ErrReader(boom)), 4)

	got, end := drain(t, s)
	assert.Equal(t, []string{"ab"}, got)
	require.Equal(t, Aborted, end.Kind)
	assert.ErrorIs(t, end.Err, boom)
}

func TestReaderSource_AbortBeforeAdvance(t *testing.T) {
	r := newCloseTracker(strings.NewReader("never read"))
	s := NewReaderSource("", r, 4)
	cause := errors.New("exchange failed")

	s.Abort(cause)
	r.waitClosed(t)

	res := s.Advance()
	assert.Equal(t, Aborted, res.Kind)
	assert.ErrorIs(t, res.Err, cause)
}

func TestReaderSource_FailedChunkStopsReading(t *testing.T) {
	r := newCloseTracker(strings.NewReader("abcdefgh"))
	s := NewReaderSource("", r, 4)
	avail := make(chan struct{}, 1)
	s.OnAvailable(func() {
		select {
		case avail <- struct{}{}:
		default:
		}
	})

	res := s.Advance()
	for res.Kind == Pending {
		<-avail
		res = s.Advance()
	}
	require.Equal(t, Delivered, res.Kind)
	res.Chunk.Fail(errors.New("write failed"))

	r.waitClosed(t)
	assert.Zero(t, s.Queued())
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"relay":"file"}`), 0o600))

	s, err := NewFileSource(path, "", 5)
	require.NoError(t, err)
	assert.Equal(t, "application/json", s.ContentType())
	assert.Equal(t, int64(16), s.Length())

	got, end := drain(t, s)
	assert.Equal(t, `{"relay":"file"}`, strings.Join(got, ""))
	assert.Equal(t, EndOfContent, end.Kind)
}

func TestFileSource_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileSource(filepath.Join(dir, "missing.bin"), "", 0)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = NewFileSource(dir, "", 0)
	assert.Error(t, err)
}

func TestFileSource_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	s, err := NewFileSource(path, "text/plain", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Length())
	assert.Equal(t, "text/plain", s.ContentType())
}

// feeder plays the exchange side of a ReaderSink: every demand delivers the
// next part synchronously.
type feeder struct {
	sink    *ReaderSink
	parts   []string
	demands int
	acked   int
	failed  []error
}

func (f *feeder) demand(n int64) {
	i := f.demands
	f.demands++
	if i >= len(f.parts) {
		return
	}
	f.sink.OnContent(nil, f.demand, NewChunk([]byte(f.parts[i]), i == len(f.parts)-1, CallbackFuncs{
		Success: func() { f.acked++ },
		Failure: func(err error) { f.failed = append(f.failed, err) },
	}))
}

func TestReaderSink_ReadsOneChunkPerDemand(t *testing.T) {
	s := NewReaderSink()
	f := &feeder{sink: s, parts: []string{"hello ", "reader ", "sink"}}
	resp := &model.Response{StatusCode: 200, ContentLength: -1}

	s.OnBeforeContent(resp, f.demand)
	assert.Zero(t, f.demands, "nothing is demanded before Read")

	got, err := s.Response(context.Background())
	require.NoError(t, err)
	assert.Same(t, resp, got)

	buf := make([]byte, 3)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf[:n]))
	assert.Equal(t, 1, f.demands)
	assert.Zero(t, f.acked, "a partly read chunk stays held")

	rest, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "lo reader sink", string(rest))
	assert.Equal(t, 3, f.demands)
	assert.Equal(t, 3, f.acked)
	assert.Empty(t, f.failed)

	s.OnSuccess(resp)
	n, err = s.Read(buf)
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
	require.NoError(t, s.Close())
}

func TestReaderSink_CloseFailsHeldChunk(t *testing.T) {
	s := NewReaderSink()
	f := &feeder{sink: s, parts: []string{"abcdef", "ghi"}}
	s.OnBeforeContent(&model.Response{StatusCode: 200}, f.demand)

	buf := make([]byte, 2)
	_, err := s.Read(buf)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Len(t, f.failed, 1)
	assert.ErrorIs(t, f.failed[0], ErrReaderClosed)

	_, err = s.Read(buf)
	assert.ErrorIs(t, err, ErrReaderClosed)
}

func TestReaderSink_CloseDemandsSoTheExchangeCanFinish(t *testing.T) {
	s := NewReaderSink()
	f := &feeder{sink: s, parts: []string{"abc", "def"}}

	require.NoError(t, s.Close())
	s.OnBeforeContent(&model.Response{StatusCode: 200}, f.demand)

	assert.Equal(t, 1, f.demands)
	require.Len(t, f.failed, 1)
	assert.ErrorIs(t, f.failed[0], ErrReaderClosed)
	assert.Zero(t, f.acked)
}

func TestReaderSink_FailureBeforeHead(t *testing.T) {
	s := NewReaderSink()
	cause := errors.New("connection refused")
	s.OnFailure(nil, cause)

	resp, err := s.Response(context.Background())
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, cause)

	_, err = s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, cause)
}

func TestReaderSink_ResponseHonorsContext(t *testing.T) {
	s := NewReaderSink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Response(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
