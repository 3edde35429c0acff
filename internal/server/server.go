// Package server exposes the reconciler over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
	"github.com/alanyoungcy/reconbot/internal/server/handler"
	"github.com/alanyoungcy/reconbot/internal/server/middleware"
	"github.com/alanyoungcy/reconbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// TriggerLimit caps manual reconcile triggers per client per TriggerWindow.
	TriggerLimit  int
	TriggerWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Nil handlers
// leave their routes unregistered.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Reconcile *handler.ReconcileHandler
	Audit     *handler.AuditHandler
	Snapshots *handler.SnapshotHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and builds the middleware chain. limiter may be
// nil, which disables trigger rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := Routes(cfg, handlers, wsHub, limiter, logger)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Routes returns the mux with every non-nil handler registered.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	if handlers.Positions != nil {
		mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
		mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	}

	if handlers.Reconcile != nil {
		var trigger http.Handler = http.HandlerFunc(handlers.Reconcile.Trigger)
		if limiter != nil && cfg.TriggerLimit > 0 {
			trigger = middleware.RateLimit(limiter, "reconcile", cfg.TriggerLimit, cfg.TriggerWindow, logger)(trigger)
		}
		mux.Handle("POST /api/reconcile", trigger)
		mux.HandleFunc("GET /api/reconcile/status", handlers.Reconcile.Status)
		mux.HandleFunc("POST /api/reconcile/reset", handlers.Reconcile.Reset)
		mux.HandleFunc("GET /api/reconcile/events", handlers.Reconcile.Events)
	}

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}

	if handlers.Snapshots != nil {
		mux.HandleFunc("GET /api/snapshots", handlers.Snapshots.ListSnapshots)
		mux.HandleFunc("GET /api/snapshots/{label...}", handlers.Snapshots.GetSnapshot)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	return mux
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
