package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"http-relay-go/internal/config"
	"http-relay-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	relays  *service.RelayService
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, relays *service.RelayService, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, relays: relays, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status       string   `json:"status"`
	Version      string   `json:"version"`
	ActiveRelays int      `json:"active_relays"`
	MaxActive    int      `json:"max_active"`
	AllowedHosts []string `json:"allowed_hosts"`
}

// Status returns relay service status information.
func (h *HealthHandler) Status(c echo.Context) error {
	allowed := h.cfg.Relay.AllowedHosts
	if allowed == nil {
		allowed = []string{}
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:       "ok",
		Version:      string(h.version),
		ActiveRelays: h.relays.Active(),
		MaxActive:    h.cfg.Relay.MaxActive,
		AllowedHosts: allowed,
	})
}
