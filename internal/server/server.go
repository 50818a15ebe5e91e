package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
	"github.com/alanyoungcy/battlekeeper/internal/server/handler"
	"github.com/alanyoungcy/battlekeeper/internal/server/middleware"
)

// Route patterns referenced by the auth policy.
const (
	RouteHealth      = "GET /api/health"
	RouteMetrics     = "GET /metrics"
	RouteScan        = "POST /api/battles/scan"
	RouteExecute     = "POST /api/battles/{assetId}/execute"
	RouteQuarantined = "GET /api/battles/quarantined"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string
	SchedulerSecret string

	// Execute rate limit per client IP. A nil limiter disables it.
	RateLimit  int
	RateWindow time.Duration

	// RunBudget bounds one pipeline run. The write timeout is kept above it
	// for the other routes; execute and scan clear their own write deadline.
	RunBudget time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Battles *handler.BattleHandler
	Metrics http.Handler
}

// Server is the keeper's HTTP API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on a ServeMux and the
// logging, CORS and auth middleware applied.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	mux.HandleFunc(RouteHealth, handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle(RouteMetrics, handlers.Metrics)
	}

	var execute http.Handler = http.HandlerFunc(handlers.Battles.Execute)
	if limiter != nil && cfg.RateLimit > 0 {
		execute = middleware.RateLimit(limiter, "execute", cfg.RateLimit, cfg.RateWindow, logger)(execute)
	}
	mux.Handle(RouteExecute, execute)
	mux.HandleFunc(RouteScan, handlers.Battles.Scan)
	mux.HandleFunc(RouteQuarantined, handlers.Battles.Quarantined)

	var h http.Handler = mux
	h = middleware.Auth(middleware.AuthConfig{
		APIKey:          cfg.APIKey,
		SchedulerSecret: cfg.SchedulerSecret,
		SchedulerRoutes: []string{RouteScan},
		Public:          []string{RouteHealth, RouteMetrics},
		Logger:          logger,
	})(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      writeTimeout(cfg.RunBudget),
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

func writeTimeout(runBudget time.Duration) time.Duration {
	return max(30*time.Second, runBudget+30*time.Second)
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
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

// Run serves until ctx is cancelled, then shuts down gracefully within
// grace.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
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
