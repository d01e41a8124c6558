// Package server exposes the read-only HTTP + WebSocket API over the
// monitor's state: source health, evaluation summaries, recent
// opportunities, alert history, and monthly archives.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/server/handler"
	"github.com/alanyoungcy/arbwatch/internal/server/middleware"
	"github.com/alanyoungcy/arbwatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port               int
	CORSOrigins        []string
	APIKey             string // if empty, authentication is disabled
	RateLimitPerMinute int    // if zero, rate limiting is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Opportunities *handler.OpportunityHandler
	Matches       *handler.MatchHandler
	Alerts        *handler.AlertHandler
	Archive       *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API server for the monitor.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, rate limiting, auth) and attaches
// the WebSocket hub. A nil limiter or hub simply disables that feature.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Monitor status and last evaluation summary.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Opportunity history.
	mux.HandleFunc("GET /api/opportunities/recent", handlers.Opportunities.ListRecent)

	// Cross-source matches from the latest evaluation pass.
	mux.HandleFunc("GET /api/matches", handlers.Matches.ListMatches)

	// Alert history and rule state.
	mux.HandleFunc("GET /api/alerts/events", handlers.Alerts.ListEvents)
	mux.HandleFunc("GET /api/alerts/rules", handlers.Alerts.ListRules)

	// Monthly archives from blob storage.
	mux.HandleFunc("GET /api/archive/{kind}", handlers.Archive.ListMonths)
	mux.HandleFunc("GET /api/archive/{kind}/{month}", handlers.Archive.GetMonth)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain inside-out: auth runs closest to the
	// handlers, CORS outermost so preflights never hit auth.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)

	if limiter != nil && cfg.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMinute, time.Minute)(h)
	}

	h = middleware.Logging(logger)(h)

	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
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
