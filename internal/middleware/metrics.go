package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"http-relay-go/internal/metrics"
)

// RelayModeKey is the echo context key under which the relay API records
// how a relay creation request is served.
const RelayModeKey = "relay_mode"

// Relay modes stored under RelayModeKey.
const (
	RelayModeSync  = "sync"
	RelayModeAsync = "async"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request except scrapes of metricsPath.
//
// Relay creation requests are also timed per mode. A synchronous one lasts
// as long as its relay, so it is kept out of the API latency histogram.
func MetricsMiddleware(m *metrics.Metrics, metricsPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().URL.Path == metricsPath {
				return next(c)
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start).Seconds()

			status := strconv.Itoa(responseStatus(c, err))
			method := metrics.NormalizeMethod(c.Request().Method)
			path := metrics.NormalizePath(c.Request().URL.Path)
			m.RequestsTotal.WithLabelValues(method, status, path).Inc()

			mode, _ := c.Get(RelayModeKey).(string)
			if mode != "" {
				m.RelayRequestDuration.WithLabelValues(mode, status).Observe(elapsed)
			}
			if mode != RelayModeSync {
				m.RequestDuration.WithLabelValues(method, status, path).Observe(elapsed)
			}
			return err
		}
	}
}

// responseStatus resolves the status a request is answered with. An
// *echo.HTTPError is written later by Echo's error handler, so its code
// wins over the not yet written response status.
func responseStatus(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}
