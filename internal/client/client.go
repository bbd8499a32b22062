// Package client implements the exchange runtime on top of net/http.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"http-relay-go/internal/config"
	"http-relay-go/internal/content"
	"http-relay-go/internal/exchange"
	"http-relay-go/internal/metrics"
	"http-relay-go/internal/model"
)

var (
	// ErrAlreadySent is reported when an exchange is sent twice.
	ErrAlreadySent = errors.New("exchange already sent")

	// ErrContentNotConsumed is reported when the server answered before
	// reading the whole request body.
	ErrContentNotConsumed = errors.New("response received before request content was fully sent")

	errBodyClosed = errors.New("request body closed")
)

// Client dispatches exchanges over a pooled HTTP transport.
type Client struct {
	httpClient *http.Client
	pool       *content.Pool
	drainLimit int64
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

var _ exchange.Runtime = (*Client)(nil)

// New creates a Client with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable exchange metrics.
//
// client.timeout_seconds bounds the wait for a response head only. Bodies
// stream for as long as the exchange context allows, so a relay is limited
// by relay.timeout_seconds rather than by the client.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Client.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Client.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.Client.TimeoutSeconds) * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		pool:       content.NewPool(cfg.Client.ChunkSize),
		drainLimit: cfg.Client.ResponseMaxBytes,
		logger:     logger.With("component", "http_client"),
		metrics:    m,
	}
}

// NewExchange implements exchange.Runtime.
func (c *Client) NewExchange(ctx context.Context, req *model.Request) (exchange.Exchange, error) {
	return c.newExchange(ctx, req)
}

func (c *Client) newExchange(ctx context.Context, req *model.Request) (*Exchange, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse exchange url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("exchange url must use http or https; got %q", req.URL)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return &Exchange{
		client: c,
		req:    req.Clone(),
		method: method,
		ctx:    ctx,
		cancel: cancel,
		logger: c.logger.With("method", method, "host", u.Host, "path", u.Path),
		hooks:  make(map[exchange.Event][]func()),
	}, nil
}

// Fetch sends req and buffers at most maxBytes of the response body.
// It blocks until the exchange completes, so it must never be called from
// inside a content callback.
func (c *Client) Fetch(ctx context.Context, req *model.Request, maxBytes int64) (*model.Response, []byte, error) {
	ex, err := c.newExchange(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	type outcome struct {
		resp *model.Response
		body []byte
		err  error
	}
	done := make(chan outcome, 1)
	ex.Stream(content.NewBufferingSink(maxBytes, func(resp *model.Response, body []byte, err error) {
		done <- outcome{resp: resp, body: body, err: err}
	}))

	o := <-done
	if o.err != nil {
		return o.resp, nil, fmt.Errorf("fetch: %w", o.err)
	}
	return o.resp, o.body, nil
}

// Open sends req and returns the response head with a body that pulls one
// chunk per Read. The caller must close the body. Open blocks until the
// head arrives, so it must never be called from inside a content callback.
func (c *Client) Open(ctx context.Context, req *model.Request) (*model.Response, io.ReadCloser, error) {
	ex, err := c.newExchange(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	sink := content.NewReaderSink()
	ex.Stream(sink)

	resp, err := sink.Response(ctx)
	if err != nil {
		ex.Abort(err)
		_ = sink.Close()
		return nil, nil, fmt.Errorf("open: %w", err)
	}
	return resp, sink, nil
}

// do executes an HTTP request and records exchange metrics.
// The caller is responsible for closing the response body.
func (c *Client) do(req *http.Request, logger *slog.Logger) (*http.Response, error) {
	logger.Debug("exchange request")

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to the exchange
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.ExchangeDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("exchange request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.ExchangeDuration.WithLabelValues(method).Observe(duration)
		c.metrics.ExchangeResponses.WithLabelValues(method, status).Inc()
	}

	return resp, nil
}

func toResponse(resp *http.Response) *model.Response {
	return &model.Response{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
	}
}
