// Package metrics provides Prometheus metrics for the relay service.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Relays can run for minutes; their histogram uses wider buckets.
var relayBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Metrics holds all Prometheus metric collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	RelayRequestDuration *prometheus.HistogramVec

	ExchangeDuration  *prometheus.HistogramVec
	ExchangeResponses *prometheus.CounterVec

	RelaysTotal   *prometheus.CounterVec
	RelaysActive  prometheus.Gauge
	RelayDuration *prometheus.HistogramVec
	RelayedBytes  prometheus.Counter
	RelayedChunks prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		RelayRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_relay_relay_request_duration_seconds",
			Help:    "Relay creation request latency in seconds by mode and status code.",
			Buckets: relayBuckets,
		}, []string{"mode", "status_code"}),

		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_relay_exchange_duration_seconds",
			Help:    "Time until an outbound exchange received its response head, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		ExchangeResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_relay_exchange_responses_total",
			Help: "Total outbound exchange responses by method and status code.",
		}, []string{"method", "status_code"}),

		RelaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_relay_relays_total",
			Help: "Total completed relays by outcome.",
		}, []string{"outcome"}),

		RelaysActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_relay_relays_active",
			Help: "Number of relays currently running.",
		}),

		RelayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_relay_relay_duration_seconds",
			Help:    "Relay duration in seconds by outcome.",
			Buckets: relayBuckets,
		}, []string{"outcome"}),

		RelayedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_relay_relayed_bytes_total",
			Help: "Total bytes forwarded from upstream responses to downstream requests.",
		}),

		RelayedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_relay_relayed_chunks_total",
			Help: "Total content chunks forwarded from upstream responses to downstream requests.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.RelayRequestDuration,
		m.ExchangeDuration,
		m.ExchangeResponses,
		m.RelaysTotal,
		m.RelaysActive,
		m.RelayDuration,
		m.RelayedBytes,
		m.RelayedChunks,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/relay/status", "/relay", "/healthz", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
