// Package server is the control API for the vault agent: loop status, audit
// trail reads, manual triggers, the approval endpoint, and the live risk
// feed over WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ayush101098/nexxore/internal/domain"
	"github.com/ayush101098/nexxore/internal/server/handler"
	"github.com/ayush101098/nexxore/internal/server/middleware"
	"github.com/ayush101098/nexxore/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// WriteRateLimit throttles the mutating endpoints (triggers, approval)
	// per client IP. Zero disables the limiter.
	WriteRateLimit  int
	WriteRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Analyses  *handler.AnalysisHandler
	Proposals *handler.ProposalHandler
	Cycle     *handler.CycleHandler
}

// Server is the headless HTTP + WebSocket API for the vault agent.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wires the middleware chain (logging,
// CORS, auth, write rate limiting). limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Loop status and risk reads.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/risk/latest", handlers.Analyses.GetLatest)
	mux.HandleFunc("GET /api/analyses/recent", handlers.Analyses.ListRecent)
	mux.HandleFunc("GET /api/proposals/recent", handlers.Proposals.ListRecent)
	mux.HandleFunc("GET /api/proposals/{id}", handlers.Proposals.GetProposal)

	// Mutating endpoints, rate limited when a limiter is configured.
	writeLimited := func(h http.HandlerFunc) http.Handler {
		if limiter == nil || cfg.WriteRateLimit <= 0 {
			return h
		}
		return middleware.RateLimit(limiter, cfg.WriteRateLimit, cfg.WriteRateWindow)(h)
	}
	mux.Handle("POST /api/cycle/trigger", writeLimited(handlers.Cycle.TriggerCycle))
	mux.Handle("POST /api/emergency/trigger", writeLimited(handlers.Cycle.TriggerEmergency))
	mux.Handle("POST /api/proposals/{id}/execute", writeLimited(handlers.Proposals.ExecuteProposal))

	// Live risk feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
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
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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
