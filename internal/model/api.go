package model

// Endpoint is one side of a relay as submitted to the HTTP API.
type Endpoint struct {
	Method  string            `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	URL     string            `json:"url" validate:"required,http_url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// RelayRequest is the body of POST /relay.
type RelayRequest struct {
	Upstream   Endpoint `json:"upstream" validate:"required"`
	Downstream Endpoint `json:"downstream" validate:"required"`
	Async      bool     `json:"async"`
}

// RelayStatus reports the state of a relay.
type RelayStatus struct {
	ID               string  `json:"id"`
	State            string  `json:"state"`
	UpstreamStatus   int     `json:"upstream_status,omitempty"`
	DownstreamStatus int     `json:"downstream_status,omitempty"`
	Chunks           int64   `json:"chunks"`
	Bytes            int64   `json:"bytes"`
	Checksum         string  `json:"checksum,omitempty"`
	DurationSeconds  float64 `json:"duration_seconds,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// Relay states reported by RelayStatus.
const (
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

