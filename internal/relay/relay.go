// Package relay streams the response body of one exchange into the request
// body of another. The upstream response is pulled one chunk at a time and
// the next chunk is only requested once the downstream exchange has sent
// the previous one, so a relay holds at most one chunk regardless of the
// payload size and a slow downstream throttles the upstream.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"http-relay-go/internal/content"
	"http-relay-go/internal/demand"
	"http-relay-go/internal/exchange"
	"http-relay-go/internal/metrics"
	"http-relay-go/internal/model"
)

// Relay connects an upstream exchange, whose response is streamed, to a
// downstream exchange, whose request body is fed from that stream.
type Relay struct {
	id      string
	ctx     context.Context
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics

	upstream   exchange.Exchange
	downstream exchange.Exchange
	source     *content.AsyncSource
	channel    *demand.Channel

	chunks atomic.Int64
	bytes  atomic.Int64

	mu         sync.Mutex
	digest     *xxhash.Digest
	span       trace.Span
	started    bool
	startedAt  time.Time
	downSent   bool
	upDone     bool
	downDone   bool
	finished   bool
	upStatus   int
	downStatus int
	cause      error
	err        error
	result     Result
	listeners  []func(Result)
	done       chan struct{}
}

// New prepares a relay from upstream to downstream. Nothing is sent until
// Start. The context bounds both exchanges.
func New(ctx context.Context, rt exchange.Runtime, upstream, downstream *model.Request, opts ...Option) (*Relay, error) {
	up, err := rt.NewExchange(ctx, upstream)
	if err != nil {
		return nil, fmt.Errorf("relay: upstream exchange: %w", err)
	}
	down, err := rt.NewExchange(ctx, downstream)
	if err != nil {
		return nil, fmt.Errorf("relay: downstream exchange: %w", err)
	}

	r := &Relay{
		ctx:        ctx,
		upstream:   up,
		downstream: down,
		source:     content.NewAsyncSource(),
		digest:     xxhash.New(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("")
	}
	r.logger = r.logger.With("relay_id", r.id)

	r.channel = demand.New(r.source,
		demand.WithAbortHook(r.onChannelAbort),
		demand.WithForwardHook(r.onForward),
	)
	down.Listen(exchange.EventCommit, r.onDownstreamCommit)

	return r, nil
}

// ID returns the relay id.
func (r *Relay) ID() string { return r.id }

// Done is closed once the relay has completed and its OnComplete
// functions have returned.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Result returns the relay result and whether the relay has completed.
func (r *Relay) Result() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.finished
}

// Progress returns the chunks and bytes forwarded so far.
func (r *Relay) Progress() (chunks, bytes int64) {
	return r.chunks.Load(), r.bytes.Load()
}

// OnComplete registers fn to receive the result. If the relay has already
// completed, fn is called immediately.
func (r *Relay) OnComplete(fn func(Result)) {
	r.mu.Lock()
	if r.finished {
		res := r.result
		r.mu.Unlock()
		fn(res)
		return
	}
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Start sends the upstream request. Starting twice, or after Cancel, does
// nothing.
func (r *Relay) Start() {
	r.mu.Lock()
	if r.started || r.finished {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startedAt = time.Now()
	_, r.span = r.tracer.Start(r.ctx, "relay", trace.WithAttributes(attribute.String("relay.id", r.id)))
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RelaysActive.Inc()
	}
	r.logger.Debug("relay started")
	r.upstream.Stream(&upstreamSink{r: r})
}

// Cancel aborts both exchanges with ErrCanceled. It is a no-op once the
// relay has completed or has already failed.
func (r *Relay) Cancel() {
	r.mu.Lock()
	failed := r.cause != nil || r.finished
	r.mu.Unlock()
	if failed {
		return
	}
	r.abort(r.fail(ErrCanceled, nil))
	r.maybeFinish()
}

// upstreamSink receives the upstream response.
type upstreamSink struct {
	r *Relay
}

func (s *upstreamSink) OnBeforeContent(resp *model.Response, d content.DemandFunc) {
	r := s.r
	r.mu.Lock()
	r.upStatus = resp.StatusCode
	if r.channel.State().Terminal() {
		r.mu.Unlock()
		return
	}
	r.downSent = true
	r.mu.Unlock()

	r.logger.Debug("upstream response", "status", resp.StatusCode, "content_length", resp.ContentLength)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		r.source.SetContentType(ct)
	}
	if resp.ContentLength > 0 {
		r.source.SetLength(resp.ContentLength)
	}

	r.channel.Attach(d)
	r.downstream.Send(r.source, r.onDownstreamResult)
}

func (s *upstreamSink) OnContent(_ *model.Response, _ content.DemandFunc, chunk *content.Chunk) {
	_ = s.r.channel.Deliver(chunk)
}

func (s *upstreamSink) OnSuccess(*model.Response) {
	r := s.r
	r.event("upstream.complete")
	r.channel.Complete()

	r.mu.Lock()
	r.upDone = true
	r.mu.Unlock()
	r.maybeFinish()
}

func (s *upstreamSink) OnFailure(resp *model.Response, err error) {
	r := s.r
	r.abort(r.fail(err, func(err error) error { return &content.ProducerError{Err: err} }))

	r.mu.Lock()
	if resp != nil {
		r.upStatus = resp.StatusCode
	}
	r.upDone = true
	r.mu.Unlock()
	r.maybeFinish()
}

func (r *Relay) onDownstreamCommit() {
	r.event("downstream.commit")
	if err := r.channel.Demand(); err != nil {
		r.abort(r.fail(err, nil))
	}
}

func (r *Relay) onDownstreamResult(res exchange.Result) {
	r.mu.Lock()
	if res.Response != nil {
		r.downStatus = res.Response.StatusCode
	}
	r.downDone = true
	r.mu.Unlock()

	consumer := func(err error) error { return &content.ConsumerError{Err: err} }
	switch {
	case res.Err != nil:
		r.abort(r.fail(res.Err, consumer))
	case r.channel.State() != demand.Closed:
		r.abort(r.fail(errDownstreamIncomplete, consumer))
	}
	r.maybeFinish()
}

func (r *Relay) onForward(c *content.Chunk) {
	r.chunks.Inc()
	r.bytes.Add(int64(c.Len()))
	r.mu.Lock()
	_, _ = r.digest.Write(c.Bytes())
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RelayedChunks.Inc()
		r.metrics.RelayedBytes.Add(float64(c.Len()))
	}
}

// onChannelAbort runs once when the demand channel aborts, whoever caused it.
func (r *Relay) onChannelAbort(err error) {
	r.fail(err, nil)
	r.abortExchanges(err)
}

// abort aborts the channel, or just the exchanges if the channel has
// already closed.
func (r *Relay) abort(err error) {
	if err == nil {
		return
	}
	if !r.channel.Abort(err) {
		r.abortExchanges(err)
	}
}

func (r *Relay) abortExchanges(err error) {
	r.event("relay.abort")
	r.logger.Debug("aborting exchanges", "err", err)
	r.upstream.Abort(err)
	r.downstream.Abort(err)
}

// fail records err as a relay failure and returns the error to abort with.
// The first failure becomes the cause; echoes of the cause reported back by
// the aborted exchanges are not recorded again. It returns nil once the
// relay has completed.
func (r *Relay) fail(err error, wrap func(error) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return nil
	}
	if r.cause != nil && errors.Is(err, r.cause) {
		return r.cause
	}
	if wrap != nil {
		err = wrap(err)
	}
	if r.cause == nil {
		r.cause = err
		r.err = err
	} else {
		r.err = multierr.Append(r.err, err)
	}
	return err
}

func (r *Relay) maybeFinish() {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	upDone := r.upDone || !r.started
	downDone := r.downDone || !r.downSent
	if !upDone || !downDone {
		r.mu.Unlock()
		return
	}
	r.finished = true

	var duration time.Duration
	if r.started {
		duration = time.Since(r.startedAt)
	}
	res := Result{
		ID:               r.id,
		Err:              r.err,
		UpstreamStatus:   r.upStatus,
		DownstreamStatus: r.downStatus,
		Chunks:           r.chunks.Load(),
		Bytes:            r.bytes.Load(),
		Checksum:         r.digest.Sum64(),
		Duration:         duration,
	}
	r.result = res
	listeners := r.listeners
	r.listeners = nil
	span := r.span
	started := r.started
	r.mu.Unlock()

	r.report(res, span, started)
	for _, fn := range listeners {
		fn(res)
	}
	close(r.done)
}

func (r *Relay) report(res Result, span trace.Span, started bool) {
	if span != nil {
		span.SetAttributes(
			attribute.Int("relay.upstream_status", res.UpstreamStatus),
			attribute.Int("relay.downstream_status", res.DownstreamStatus),
			attribute.Int64("relay.chunks", res.Chunks),
			attribute.Int64("relay.bytes", res.Bytes),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Outcome())
		}
		span.End()
	}

	if r.metrics != nil {
		if started {
			r.metrics.RelaysActive.Dec()
		}
		r.metrics.RelaysTotal.WithLabelValues(res.Outcome()).Inc()
		r.metrics.RelayDuration.WithLabelValues(res.Outcome()).Observe(res.Duration.Seconds())
	}

	if res.Err != nil {
		r.logger.Warn("relay failed",
			"err", res.Err,
			"upstream_status", res.UpstreamStatus,
			"downstream_status", res.DownstreamStatus,
			"bytes", res.Bytes,
			"retryable", content.Retryable(res.Err),
		)
		return
	}
	r.logger.Info("relay complete",
		"upstream_status", res.UpstreamStatus,
		"downstream_status", res.DownstreamStatus,
		"chunks", res.Chunks,
		"bytes", res.Bytes,
		"duration_ms", res.Duration.Milliseconds(),
	)
}

func (r *Relay) event(name string) {
	r.mu.Lock()
	span := r.span
	r.mu.Unlock()
	if span != nil {
		span.AddEvent(name)
	}
}
