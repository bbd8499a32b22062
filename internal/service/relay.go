// Package service runs relays on behalf of the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"http-relay-go/internal/config"
	"http-relay-go/internal/exchange"
	"http-relay-go/internal/metrics"
	"http-relay-go/internal/model"
	"http-relay-go/internal/relay"
)

var (
	// ErrHostNotAllowed is returned when an endpoint host is not in relay.allowed_hosts.
	ErrHostNotAllowed = errors.New("host is not in the relay allowlist")

	// ErrInvalidEndpoint is returned for endpoints that are not absolute http(s) URLs.
	ErrInvalidEndpoint = errors.New("endpoint must be an absolute http or https URL")

	// ErrTooManyRelays is returned when relay.max_active relays are already running.
	ErrTooManyRelays = errors.New("too many active relays")

	// ErrRelayNotFound is returned for unknown relay ids.
	ErrRelayNotFound = errors.New("relay not found")

	// ErrShuttingDown is returned by Start once Shutdown has begun.
	ErrShuttingDown = errors.New("relay service is shutting down")
)

// strippedRequestHeaders are never forwarded from an endpoint description:
// hop-by-hop headers and headers the runtime computes itself.
var strippedRequestHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
	"Content-Length":      true,
	"Accept-Encoding":     true,
}

const userAgent = "http-relay-go/1.0"

// RelayService starts relays and keeps track of running and recent ones.
type RelayService struct {
	runtime exchange.Runtime
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	allowed map[string]bool

	mu      sync.Mutex
	closed  bool
	active  map[string]*relay.Relay
	history *lru.Cache
}

// NewRelayService creates a RelayService.
func NewRelayService(rt exchange.Runtime, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, tracer trace.Tracer) (*RelayService, error) {
	history, err := lru.New(cfg.Relay.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("relay history: %w", err)
	}

	allowed := make(map[string]bool, len(cfg.Relay.AllowedHosts))
	for _, h := range cfg.Relay.AllowedHosts {
		allowed[strings.ToLower(h)] = true
	}

	return &RelayService{
		runtime: rt,
		cfg:     cfg,
		logger:  logger.With("component", "relay_service"),
		metrics: m,
		tracer:  tracer,
		allowed: allowed,
		active:  make(map[string]*relay.Relay),
		history: history,
	}, nil
}

// Start validates req and starts a relay for it. The relay is bounded by
// relay.timeout_seconds, not by the caller's context.
func (s *RelayService) Start(req *model.RelayRequest) (*relay.Relay, error) {
	up, err := s.descriptor(req.Upstream, http.MethodGet)
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	down, err := s.descriptor(req.Downstream, http.MethodPost)
	if err != nil {
		return nil, fmt.Errorf("downstream: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if len(s.active) >= s.cfg.Relay.MaxActive {
		s.mu.Unlock()
		return nil, ErrTooManyRelays
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Relay.TimeoutSeconds)*time.Second)
	opts := []relay.Option{relay.WithLogger(s.logger)}
	if s.tracer != nil {
		opts = append(opts, relay.WithTracer(s.tracer))
	}
	if s.metrics != nil {
		opts = append(opts, relay.WithMetrics(s.metrics))
	}
	r, err := relay.New(ctx, s.runtime, up, down, opts...)
	if err != nil {
		s.mu.Unlock()
		cancel()
		return nil, err
	}
	s.active[r.ID()] = r
	s.mu.Unlock()

	r.OnComplete(func(res relay.Result) {
		cancel()
		s.mu.Lock()
		delete(s.active, res.ID)
		s.history.Add(res.ID, res)
		s.mu.Unlock()
	})

	s.logger.Debug("starting relay",
		"relay_id", r.ID(),
		"upstream", redactURL(up.URL),
		"downstream", redactURL(down.URL),
	)
	r.Start()
	return r, nil
}

// Get returns the status of a running or recently completed relay.
func (s *RelayService) Get(id string) (model.RelayStatus, error) {
	s.mu.Lock()
	r, running := s.active[id]
	s.mu.Unlock()

	if running {
		if res, done := r.Result(); done {
			return StatusOf(res), nil
		}
		chunks, bytes := r.Progress()
		return model.RelayStatus{ID: id, State: model.StateRunning, Chunks: chunks, Bytes: bytes}, nil
	}

	if v, ok := s.history.Get(id); ok {
		return StatusOf(v.(relay.Result)), nil
	}
	return model.RelayStatus{}, ErrRelayNotFound
}

// Cancel cancels a running relay. Canceling a completed relay does nothing.
func (s *RelayService) Cancel(id string) error {
	s.mu.Lock()
	r, running := s.active[id]
	s.mu.Unlock()

	if running {
		r.Cancel()
		return nil
	}
	if s.history.Contains(id) {
		return nil
	}
	return ErrRelayNotFound
}

// Active returns the number of running relays.
func (s *RelayService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown cancels every running relay and waits for them to complete.
// Start fails with ErrShuttingDown from then on.
func (s *RelayService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	relays := make([]*relay.Relay, 0, len(s.active))
	for _, r := range s.active {
		relays = append(relays, r)
	}
	s.mu.Unlock()

	if len(relays) > 0 {
		s.logger.Info("canceling active relays", "count", len(relays))
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range relays {
		r := r
		g.Go(func() error {
			r.Cancel()
			select {
			case <-r.Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("relay %s: %w", r.ID(), ctx.Err())
			}
		})
	}
	return g.Wait()
}

// StatusOf converts a relay result into its API representation.
func StatusOf(res relay.Result) model.RelayStatus {
	st := model.RelayStatus{
		ID:               res.ID,
		State:            model.StateSucceeded,
		UpstreamStatus:   res.UpstreamStatus,
		DownstreamStatus: res.DownstreamStatus,
		Chunks:           res.Chunks,
		Bytes:            res.Bytes,
		Checksum:         strconv.FormatUint(res.Checksum, 16),
		DurationSeconds:  res.Duration.Seconds(),
	}
	if res.Err != nil {
		st.State = model.StateFailed
		st.Error = res.Err.Error()
	}
	return st
}

func (s *RelayService) descriptor(ep model.Endpoint, defaultMethod string) (*model.Request, error) {
	u, err := url.Parse(ep.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, redactURL(ep.URL))
	}
	if !s.hostAllowed(u.Hostname()) {
		return nil, fmt.Errorf("%w: %q", ErrHostNotAllowed, u.Hostname())
	}

	method := strings.ToUpper(ep.Method)
	if method == "" {
		method = defaultMethod
	}

	return &model.Request{
		Method: method,
		URL:    u.String(),
		Header: s.filterHeaders(ep.Headers),
	}, nil
}

// hostAllowed reports whether host may be relayed to. An empty allowlist allows any host.
func (s *RelayService) hostAllowed(host string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	return s.allowed[strings.ToLower(host)]
}

func (s *RelayService) filterHeaders(src map[string]string) http.Header {
	dst := make(http.Header, len(src)+1)
	for key, val := range src {
		key = http.CanonicalHeaderKey(key)
		if strippedRequestHeaders[key] {
			continue
		}
		dst.Set(key, val)
	}
	if dst.Get("User-Agent") == "" {
		dst.Set("User-Agent", userAgent)
	}
	return dst
}

// redactURL drops credentials and the query string before a URL is logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable]"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
