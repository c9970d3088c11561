// Package api serves the damsafe HTTP surface: the administrative collection
// trigger, job submission and inspection, cached reading queries, and the health
// and metrics endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/damsafe-io/damsafe/internal/api/middleware"
	"github.com/damsafe-io/damsafe/internal/collection"
	"github.com/damsafe-io/damsafe/internal/jobs"
	"github.com/damsafe-io/damsafe/internal/readings"
	"github.com/damsafe-io/damsafe/internal/storage"
)

type (
	// Collector starts collection work. *collection.Orchestrator implements it.
	Collector interface {
		RunCollection(ctx context.Context, trigger collection.Trigger) (*collection.BatchReport, error)
		Submit(ctx context.Context, instrumentID string) (*jobs.Job, error)
	}

	// JobReader reads jobs. *jobs.Manager implements it.
	JobReader interface {
		Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
		CountByStatus(ctx context.Context) (map[jobs.Status]int, error)
	}

	// ReadingsReader serves cached readings. *readings.Reader implements it.
	ReadingsReader interface {
		ListByDam(ctx context.Context, q readings.Query) ([]*readings.Reading, error)
		Latest(ctx context.Context, instrumentID string) (*readings.Reading, error)
	}

	// ReadinessCheck is one dependency probed by /ready.
	ReadinessCheck struct {
		Name  string
		Check func(ctx context.Context) error
	}

	// Dependencies are the runtime collaborators of the server. KeyStore and
	// RateLimiter may be nil to disable authentication and rate limiting.
	// MetricsHandler and RequestObserver may be nil.
	Dependencies struct {
		Collector       Collector
		Jobs            JobReader
		Readings        ReadingsReader
		KeyStore        storage.APIKeyStore
		RateLimiter     middleware.RateLimiter
		MetricsHandler  http.Handler
		RequestObserver middleware.RequestObserver
		Readiness       []ReadinessCheck
		Logger          *slog.Logger
	}
)

var (
	_ Collector      = (*collection.Orchestrator)(nil)
	_ JobReader      = (*jobs.Manager)(nil)
	_ ReadingsReader = (*readings.Reader)(nil)
)

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	deps       Dependencies
	startTime  time.Time
}

// NewServer builds the route table and middleware chain.
func NewServer(cfg *ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	}

	s := &Server{
		logger:    logger,
		config:    cfg,
		deps:      deps,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	if deps.KeyStore == nil {
		logger.Warn("API key store not configured - authentication disabled")
	}

	if deps.RateLimiter == nil {
		logger.Warn("Rate limiter not configured - rate limiting disabled")
	}

	// Order matters: the request logger must sit right above CORS and the mux so it
	// sees the matched route pattern.
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuthentication(deps.KeyStore, logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger, deps.RequestObserver),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	s.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return s.Serve(ctx, listener)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.startTime = time.Now()
	s.httpServer.BaseContext = func(net.Listener) context.Context {
		return context.WithoutCancel(ctx)
	}

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting damsafe API server",
			slog.String("address", listener.Addr().String()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
		)

		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}

		close(serverErrors)
	}()

	select {
	case err, ok := <-serverErrors:
		if ok {
			return err
		}

		return nil
	case <-ctx.Done():
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown", slog.Duration("shutdown_timeout", s.config.ShutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if closer, ok := s.deps.RateLimiter.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Server shutdown completed")

	return nil
}
