package relay

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"http-relay-go/internal/content"
	"http-relay-go/internal/exchange"
	"http-relay-go/internal/model"
)

// fakeRuntime hands out fakeExchanges that tests drive by hand. Callbacks
// run synchronously on the test goroutine.
type fakeRuntime struct {
	mu        sync.Mutex
	exchanges []*fakeExchange
	newErr    error
}

func (rt *fakeRuntime) NewExchange(_ context.Context, req *model.Request) (exchange.Exchange, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.newErr != nil {
		return nil, rt.newErr
	}
	ex := &fakeExchange{req: req, hooks: make(map[exchange.Event][]func())}
	rt.exchanges = append(rt.exchanges, ex)
	return ex, nil
}

type fakeExchange struct {
	req *model.Request

	mu       sync.Mutex
	hooks    map[exchange.Event][]func()
	finished bool
	abortErr error

	// Stream side.
	sink     content.Sink
	resp     *model.Response
	demand   int64
	granted  int64
	acked    int
	rejected []error

	// Send side.
	src      content.Source
	listener exchange.Listener
	current  *content.Chunk
	received []string
}

func (f *fakeExchange) Listen(ev exchange.Event, fn func()) {
	f.mu.Lock()
	f.hooks[ev] = append(f.hooks[ev], fn)
	f.mu.Unlock()
}

func (f *fakeExchange) Send(src content.Source, l exchange.Listener) {
	f.mu.Lock()
	f.src = src
	f.listener = l
	f.mu.Unlock()
}

func (f *fakeExchange) Stream(sink content.Sink) {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
}

// Abort reports the failure synchronously, the way a runtime does once the
// exchange is torn down.
func (f *fakeExchange) Abort(cause error) bool {
	f.mu.Lock()
	if f.finished {
		f.mu.Unlock()
		return false
	}
	f.finished = true
	f.abortErr = cause
	sink, resp := f.sink, f.resp
	src, l, cur := f.src, f.listener, f.current
	f.current = nil
	f.mu.Unlock()

	if cur != nil {
		cur.Fail(cause)
	}
	if src != nil {
		src.Abort(cause)
	}
	if sink != nil {
		sink.OnFailure(resp, cause)
	}
	if l != nil {
		l(exchange.Result{Err: cause})
	}
	return true
}

func (f *fakeExchange) fire(ev exchange.Event) {
	f.mu.Lock()
	hooks := f.hooks[ev]
	f.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (f *fakeExchange) aborted() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.abortErr
}

// Stream side helpers.

func (f *fakeExchange) demandFunc(n int64) {
	f.mu.Lock()
	f.demand += n
	f.granted += n
	f.mu.Unlock()
}

func (f *fakeExchange) outstanding() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.demand
}

func (f *fakeExchange) head(t *testing.T, status int, contentType string, length int64) {
	t.Helper()
	resp := &model.Response{StatusCode: status, Header: http.Header{}, ContentLength: length}
	if contentType != "" {
		resp.Header.Set("Content-Type", contentType)
	}
	if length >= 0 {
		resp.Header.Set("Content-Length", strconv.FormatInt(length, 10))
	}

	f.mu.Lock()
	require.NotNil(t, f.sink, "exchange was not streamed")
	f.resp = resp
	sink := f.sink
	f.mu.Unlock()

	sink.OnBeforeContent(resp, f.demandFunc)
}

// push delivers a chunk whether or not demand is outstanding.
func (f *fakeExchange) push(data []byte, last bool) {
	f.mu.Lock()
	if f.demand > 0 {
		f.demand--
	}
	sink, resp := f.sink, f.resp
	f.mu.Unlock()

	sink.OnContent(resp, f.demandFunc, content.NewChunk(data, last, content.CallbackFuncs{
		Success: func() {
			f.mu.Lock()
			f.acked++
			f.mu.Unlock()
		},
		Failure: func(err error) {
			f.mu.Lock()
			f.rejected = append(f.rejected, err)
			f.mu.Unlock()
		},
	}))
}

func (f *fakeExchange) succeed() {
	f.mu.Lock()
	f.finished = true
	sink, resp := f.sink, f.resp
	f.mu.Unlock()
	sink.OnSuccess(resp)
}

func (f *fakeExchange) fail(err error) {
	f.mu.Lock()
	f.finished = true
	sink, resp := f.sink, f.resp
	f.mu.Unlock()
	sink.OnFailure(resp, err)
}

// Send side helpers.

func (f *fakeExchange) source(t *testing.T) content.Source {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotNil(t, f.src, "exchange was not sent")
	return f.src
}

func (f *fakeExchange) sent() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.src != nil
}

// pull advances the source and holds a delivered chunk until ack.
func (f *fakeExchange) pull(t *testing.T) content.Result {
	t.Helper()
	r := f.source(t).Advance()
	if r.Kind == content.Delivered {
		f.mu.Lock()
		f.current = r.Chunk
		f.received = append(f.received, string(r.Chunk.Bytes()))
		f.mu.Unlock()
	}
	return r
}

func (f *fakeExchange) ack() {
	f.mu.Lock()
	c := f.current
	f.current = nil
	f.mu.Unlock()
	c.Succeed()
}

func (f *fakeExchange) reject(err error) {
	f.mu.Lock()
	c := f.current
	f.current = nil
	f.mu.Unlock()
	c.Fail(err)
}

func (f *fakeExchange) finish(status int) {
	f.mu.Lock()
	f.finished = true
	l := f.listener
	f.mu.Unlock()
	l(exchange.Result{Response: &model.Response{StatusCode: status, Header: http.Header{}}})
}

func (f *fakeExchange) failSend(err error) {
	f.mu.Lock()
	f.finished = true
	l := f.listener
	f.mu.Unlock()
	l(exchange.Result{Err: err})
}

var errReset = errors.New("connection reset by peer")

func newTestRelay(t *testing.T, opts ...Option) (*Relay, *fakeExchange, *fakeExchange) {
	t.Helper()
	rt := &fakeRuntime{}
	r, err := New(context.Background(), rt,
		&model.Request{Method: http.MethodGet, URL: "http://source.test/blob"},
		&model.Request{Method: http.MethodPut, URL: "http://sink.test/blob"},
		opts...,
	)
	require.NoError(t, err)
	require.Len(t, rt.exchanges, 2)
	return r, rt.exchanges[0], rt.exchanges[1]
}

func completed(t *testing.T, r *Relay) Result {
	t.Helper()
	select {
	case <-r.Done():
	default:
		t.Fatal("relay has not completed")
	}
	res, ok := r.Result()
	require.True(t, ok)
	return res
}
