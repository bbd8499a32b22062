package relay

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"http-relay-go/internal/metrics"
)

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger. Relays log nothing by default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithTracer sets the tracer used for the relay span.
func WithTracer(t trace.Tracer) Option {
	return func(r *Relay) { r.tracer = t }
}

// WithMetrics records relay metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithID sets the relay id instead of a generated one.
func WithID(id string) Option {
	return func(r *Relay) { r.id = id }
}
