// Package v1 provides the HTTP handlers of the public API.
package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/hub"
	"github.com/xiaot623/quorum/internal/service"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Store is the thread and participant storage used by the read endpoints.
type Store interface {
	Ping(ctx context.Context) error
	CreateThread(ctx context.Context, thread *domain.Thread) error
	GetThread(ctx context.Context, subjectID string) (*domain.Thread, error)
	ListPosts(ctx context.Context, subjectID string) ([]domain.Post, error)
	UpsertParticipant(ctx context.Context, p *domain.Participant) error
	ListParticipants(ctx context.Context) ([]domain.Participant, error)
}

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	store   Store
	hub     *hub.Hub
	logger  *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, store Store, h *hub.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: svc,
		store:   store,
		hub:     h,
		logger:  logger.With("component", "api"),
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Analysis runs
	e.POST("/v1/subjects/:subject_id/analyze", h.Analyze)
	e.GET("/v1/subjects/:subject_id/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)
	e.GET("/v1/runs/:run_id/events/stream", h.StreamRunEvents)
	e.POST("/v1/runs/:run_id/cancel", h.CancelRun)

	// Live updates
	e.GET("/v1/activity", h.GetActivity)
	e.GET("/v1/live/poll", h.PollChannel)

	// Threads and participants
	e.POST("/v1/threads", h.CreateThread)
	e.GET("/v1/threads/:subject_id", h.GetThread)
	e.GET("/v1/participants", h.ListParticipants)
	e.PUT("/v1/participants/:name", h.UpsertParticipant)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	body := map[string]interface{}{
		"status":  "healthy",
		"version": Version,
	}
	if h.hub != nil {
		body["connections"] = h.hub.GetConnectionCount()
		body["channels"] = h.hub.GetChannelCount()
	}
	if h.store != nil {
		if err := h.store.Ping(c.Request().Context()); err != nil {
			h.logger.Warn("database ping failed", "error", err)
			body["status"] = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
	}
	return c.JSON(http.StatusOK, body)
}

// writeError maps sentinel errors to HTTP status codes.
func (h *Handler) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	default:
		h.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, domain.ErrorResponse{Error: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: msg})
}

// queryInt64 parses an optional non-negative integer query parameter.
func queryInt64(c echo.Context, name string) (int64, bool) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
