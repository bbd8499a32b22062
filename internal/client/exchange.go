package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"sync"

	"go.uber.org/atomic"

	"http-relay-go/internal/content"
	"http-relay-go/internal/exchange"
	"http-relay-go/internal/model"
)

// Exchange is a single HTTP request/response pair. Each exchange runs on
// its own goroutine once sent; Stream blocks that goroutine, never the
// caller, while waiting for demand.
type Exchange struct {
	client *Client
	req    *model.Request
	method string
	ctx    context.Context
	cancel context.CancelCauseFunc
	logger *slog.Logger

	sent      atomic.Bool
	aborted   atomic.Bool
	committed atomic.Bool

	mu    sync.Mutex
	hooks map[exchange.Event][]func()
}

var _ exchange.Exchange = (*Exchange)(nil)

// Listen implements exchange.Exchange.
func (e *Exchange) Listen(ev exchange.Event, fn func()) {
	e.mu.Lock()
	e.hooks[ev] = append(e.hooks[ev], fn)
	e.mu.Unlock()
}

func (e *Exchange) fire(ev exchange.Event) {
	e.mu.Lock()
	fns := append([]func(){}, e.hooks[ev]...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Abort implements exchange.Exchange.
func (e *Exchange) Abort(cause error) bool {
	if !e.aborted.CompareAndSwap(false, true) {
		return false
	}
	e.logger.Debug("exchange aborted", "err", cause)
	e.cancel(cause)
	return true
}

// cause prefers the abort cause over the transport's rendering of it.
func (e *Exchange) cause(err error) error {
	if e.ctx.Err() != nil {
		if c := context.Cause(e.ctx); c != nil {
			return c
		}
	}
	return err
}

func (e *Exchange) newHTTPRequest(body io.Reader) (*http.Request, error) {
	trace := &httptrace.ClientTrace{
		WroteHeaders: func() {
			if e.committed.CompareAndSwap(false, true) {
				e.fire(exchange.EventCommit)
			}
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				e.fire(exchange.EventContentSent)
			}
		},
	}
	ctx := httptrace.WithClientTrace(e.ctx, trace)

	req, err := http.NewRequestWithContext(ctx, e.method, e.req.URL, body)
	if err != nil {
		return nil, err
	}
	if e.req.Header != nil {
		req.Header = e.req.Header.Clone()
	}
	return req, nil
}

// Send implements exchange.Exchange.
func (e *Exchange) Send(src content.Source, l exchange.Listener) {
	if !e.sent.CompareAndSwap(false, true) {
		l(exchange.Result{Err: ErrAlreadySent})
		return
	}
	e.fire(exchange.EventQueued)
	go e.send(src, l)
}

func (e *Exchange) send(src content.Source, l exchange.Listener) {
	defer e.cancel(nil)

	var body *sourceReader
	var reader io.Reader
	if src != nil && src.Length() != 0 {
		body = newSourceReader(e.ctx, src)
		reader = body
	}

	req, err := e.newHTTPRequest(reader)
	if err != nil {
		if src != nil {
			src.Abort(err)
		}
		l(exchange.Result{Err: err})
		return
	}
	if src != nil {
		if n := src.Length(); n > 0 {
			req.ContentLength = n
		}
		if ct := src.ContentType(); ct != "" && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", ct)
		}
	}

	resp, err := e.client.do(req, e.logger)
	if err != nil {
		err = e.cause(err)
		if body != nil {
			body.finish(err)
		} else if src != nil {
			src.Abort(err)
		}
		e.logger.Debug("exchange failed", "err", err)
		l(exchange.Result{Err: err})
		return
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, e.client.drainLimit))
	_ = resp.Body.Close()

	head := toResponse(resp)
	if body != nil && !body.finish(ErrContentNotConsumed) {
		l(exchange.Result{Response: head, Err: ErrContentNotConsumed})
		return
	}
	l(exchange.Result{Response: head})
}

// Stream implements exchange.Exchange.
func (e *Exchange) Stream(sink content.Sink) {
	if !e.sent.CompareAndSwap(false, true) {
		sink.OnFailure(nil, ErrAlreadySent)
		return
	}
	e.fire(exchange.EventQueued)
	go e.stream(sink)
}

func (e *Exchange) stream(sink content.Sink) {
	defer e.cancel(nil)

	req, err := e.newHTTPRequest(nil)
	if err != nil {
		sink.OnFailure(nil, err)
		return
	}

	resp, err := e.client.do(req, e.logger)
	if err != nil {
		sink.OnFailure(nil, e.cause(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	head := toResponse(resp)
	if err := e.readContent(head, resp.Body, sink); err != nil {
		e.logger.Debug("response content failed", "err", err)
		sink.OnFailure(head, err)
		return
	}
	sink.OnSuccess(head)
}

// readContent delivers body to sink one chunk per unit of demand and
// waits for every delivered chunk to complete before returning.
func (e *Exchange) readContent(head *model.Response, body io.Reader, sink content.Sink) error {
	d := newDemander()
	var settle sync.WaitGroup
	defer settle.Wait()

	sink.OnBeforeContent(head, d.Demand)

	chunks := newChunker(body, e.client.pool, head.ContentLength)
	defer chunks.release()

	for {
		if err := d.await(e.ctx); err != nil {
			return e.cause(err)
		}

		buf, n, last, err := chunks.next()
		if err != nil {
			return e.cause(err)
		}

		d.consume()
		settle.Add(1)
		chunk := content.NewChunk(buf.Bytes()[:n], last, content.CallbackFuncs{
			Success: func() {
				buf.Release()
				settle.Done()
			},
			Failure: func(err error) {
				buf.Release()
				e.Abort(&content.ConsumerError{Err: err})
				settle.Done()
			},
		})
		sink.OnContent(head, d.Demand, chunk)

		if last {
			break
		}
	}

	settle.Wait()
	if e.aborted.Load() {
		return e.cause(context.Canceled)
	}
	return nil
}
