// Package server exposes the operator HTTP API, Prometheus metrics and the
// live position stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/metrics"
	"github.com/alanyoungcy/snipebot/internal/server/handler"
	"github.com/alanyoungcy/snipebot/internal/server/middleware"
	"github.com/alanyoungcy/snipebot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// RateLimit caps requests per client per RateWindow when a limiter is
	// supplied. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the route handlers. Commands may be nil in read-only
// modes.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Trades    *handler.TradeHandler
	Risk      *handler.RiskHandler
	Commands  *handler.CommandHandler
}

// Server is the operator API server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *slog.Logger
}

// NewServer builds the chi router. hub and limiter may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	if limiter != nil && cfg.RateLimit > 0 {
		r.Use(middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow))
	}
	r.Use(middleware.Auth(cfg.APIKey, "/api/health", "/metrics"))

	r.Get("/api/health", h.Health.HealthCheck)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status.GetStatus)
		r.Get("/positions", h.Positions.ListPositions)
		r.Get("/trades", h.Trades.ListTrades)
		r.Get("/risk", h.Risk.GetRisk)
		if h.Commands != nil {
			r.Post("/commands/{name}", h.Commands.Run)
		}
	})
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		router: r,
		logger: logger,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Run starts the server and shuts it down when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
