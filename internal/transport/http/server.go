// Package http provides the HTTP server for the analysis orchestrator.
package http

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/quorum/internal/hub"
	"github.com/xiaot623/quorum/internal/service"
	v1 "github.com/xiaot623/quorum/internal/transport/http/v1"
	"github.com/xiaot623/quorum/internal/transport/ws"
)

// Server is the public HTTP server. It serves the REST API, the SSE event
// stream, the live polling endpoint and the WebSocket endpoint.
type Server struct {
	echo *echo.Echo
}

// NewServer creates and configures the HTTP server.
func NewServer(svc *service.Service, store v1.Store, h *hub.Hub, wsServer *ws.Server, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(requestLogger(logger.With("component", "http")))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc, store, h, logger)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	e.GET("/ws", wsServer.HandleWebSocket)

	return &Server{echo: e}
}

// Echo exposes the underlying router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				logger.Warn("request failed",
					"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "error", v.Error)
				return nil
			}
			logger.Info("request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	})
}
