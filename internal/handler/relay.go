package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"http-relay-go/internal/middleware"
	"http-relay-go/internal/model"
	"http-relay-go/internal/relay"
	"http-relay-go/internal/service"
)

// secretPattern matches credential-like query parameter values in URLs embedded in error messages.
var secretPattern = regexp.MustCompile(`(?i)((?:api_?key|token|secret|signature|sig|password|x-amz-credential)=)[^&\s"]+`)

// RelayHandler serves the relay API.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Create starts a relay. Synchronous relays answer once the relay has
// completed; a client that disconnects first cancels the relay. Async
// relays answer 202 with the relay id right away.
func (h *RelayHandler) Create(c echo.Context) error {
	var req model.RelayRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	req.Upstream.Method = strings.ToUpper(req.Upstream.Method)
	req.Downstream.Method = strings.ToUpper(req.Downstream.Method)
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": validationMessage(err),
		})
	}

	mode := middleware.RelayModeSync
	if req.Async {
		mode = middleware.RelayModeAsync
	}
	c.Set(middleware.RelayModeKey, mode)

	r, err := h.service.Start(&req)
	if err != nil {
		return h.mapError(c, err)
	}

	if req.Async {
		c.Response().Header().Set(echo.HeaderLocation, "/relay/"+r.ID())
		return c.JSON(http.StatusAccepted, model.RelayStatus{
			ID:    r.ID(),
			State: model.StateRunning,
		})
	}

	select {
	case <-r.Done():
	case <-c.Request().Context().Done():
		r.Cancel()
		<-r.Done()
		h.logger.Info("client disconnected, relay canceled", "relay_id", r.ID())
		return nil
	}

	res, _ := r.Result()
	return c.JSON(resultStatus(res), service.StatusOf(res))
}

// Get reports a running or recently completed relay.
func (h *RelayHandler) Get(c echo.Context) error {
	st, err := h.service.Get(c.Param("id"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Cancel cancels a running relay.
func (h *RelayHandler) Cancel(c echo.Context) error {
	if err := h.service.Cancel(c.Param("id")); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// resultStatus maps a completed relay to the status of the synchronous response.
func resultStatus(res relay.Result) int {
	switch {
	case res.Err == nil:
		return http.StatusOK
	case errors.Is(res.Err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrRelayNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "relay not found",
		})
	case errors.Is(err, service.ErrInvalidEndpoint):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": sanitizeError(err),
		})
	case errors.Is(err, service.ErrHostNotAllowed):
		h.logger.Warn("relay rejected", "err", sanitizeError(err))
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": sanitizeError(err),
		})
	case errors.Is(err, service.ErrTooManyRelays):
		return c.JSON(http.StatusTooManyRequests, map[string]string{
			"error": "too many active relays, retry later",
		})
	case errors.Is(err, service.ErrShuttingDown):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "relay service is shutting down",
		})
	}

	h.logger.Error("relay error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "relay could not be started",
	})
}

// sanitizeError redacts credentials from error messages that may contain endpoint URLs.
func sanitizeError(err error) string {
	return secretPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}

// validationMessage renders validator errors as "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		parts = append(parts, fmt.Sprintf("%s: failed %q", field, fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
