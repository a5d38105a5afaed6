// Package server exposes the bot control API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/server/handler"
	"github.com/alanyoungcy/moonbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per minute per client; zero disables it.
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Bots    *handler.BotHandler
	Catalog *handler.CatalogHandler
}

// Server is the HTTP control API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging, rate
// limiting and auth, outermost first. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      Routes(cfg, handlers, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the full handler chain.
func Routes(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("POST /api/audit", handlers.Status.RunAudit)
	mux.HandleFunc("GET /api/audit/log", handlers.Status.AuditLog)

	mux.HandleFunc("GET /api/bots", handlers.Bots.Status)
	mux.HandleFunc("POST /api/bots", handlers.Bots.Create)
	mux.HandleFunc("GET /api/bots/{id}", handlers.Bots.Get)
	mux.HandleFunc("DELETE /api/bots/{id}", handlers.Bots.Delete)
	mux.HandleFunc("POST /api/bots/{id}/start", handlers.Bots.Start)
	mux.HandleFunc("POST /api/bots/{id}/stop", handlers.Bots.Stop)
	mux.HandleFunc("PUT /api/bots/{id}/settings", handlers.Bots.Configure)
	mux.HandleFunc("GET /api/bots/{id}/fills", handlers.Bots.Fills)

	mux.HandleFunc("GET /api/wallets", handlers.Catalog.Wallets)
	mux.HandleFunc("GET /api/strategies", handlers.Catalog.Strategies)
	mux.HandleFunc("GET /api/strategies/{name}/defaults", handlers.Catalog.Defaults)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
