package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"http-relay-go/internal/client"
	"http-relay-go/internal/config"
	"http-relay-go/internal/service"
)

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&config.Config{}, nil, "test")
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/relay/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	cfg := &config.Config{
		Relay: config.RelayConfig{
			AllowedHosts: []string{"storage.example.com"},
			MaxActive:    8,
			HistorySize:  4,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.NewRelayService(client.New(cfg, logger, nil), cfg, logger, nil, nil)
	if err != nil {
		t.Fatalf("NewRelayService: %v", err)
	}

	h := NewHealthHandler(cfg, svc, "1.2.3")
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("body.status = %q, want %q", body.Status, "ok")
	}
	if body.Version != "1.2.3" {
		t.Errorf("body.version = %q, want %q", body.Version, "1.2.3")
	}
	if body.ActiveRelays != 0 || body.MaxActive != 8 {
		t.Errorf("active/max = %d/%d, want 0/8", body.ActiveRelays, body.MaxActive)
	}
	if len(body.AllowedHosts) != 1 || body.AllowedHosts[0] != "storage.example.com" {
		t.Errorf("allowed_hosts = %v", body.AllowedHosts)
	}
}
