package main

import (
	"fmt"
	"log/slog"

	"github.com/damsafe-io/damsafe/internal/api"
	"github.com/damsafe-io/damsafe/internal/collection"
	"github.com/damsafe-io/damsafe/internal/jobs"
	"github.com/damsafe-io/damsafe/internal/readings"
	"github.com/damsafe-io/damsafe/internal/storage"
)

// backendStores bundles the stores of one STORAGE_BACKEND.
type backendStores struct {
	jobs        jobs.Store
	readings    readings.Store
	instruments collection.InstrumentSource
	readiness   []api.ReadinessCheck
	conn        *storage.Connection
}

func openStores(cfg *storage.Config, logger *slog.Logger) (*backendStores, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	if cfg.UsesMemory() {
		logger.Warn("Using in-memory storage",
			slog.String("note", "State is lost on restart and no instruments are configured"))

		return &backendStores{
			jobs:        storage.NewMemoryJobStore(),
			readings:    storage.NewMemoryReadingStore(),
			instruments: storage.NewMemoryInstrumentStore(),
		}, nil
	}

	conn, err := storage.NewConnection(cfg)
	if err != nil {
		return nil, err
	}

	s := &backendStores{
		conn:      conn,
		readiness: []api.ReadinessCheck{{Name: "database", Check: conn.HealthCheck}},
	}

	if s.jobs, err = storage.NewJobStore(conn); err != nil {
		s.Close()

		return nil, err
	}

	if s.readings, err = storage.NewReadingStore(conn); err != nil {
		s.Close()

		return nil, err
	}

	if s.instruments, err = storage.NewInstrumentStore(conn); err != nil {
		s.Close()

		return nil, err
	}

	logger.Info("PostgreSQL storage initialized",
		slog.String("database_url", cfg.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", cfg.MaxOpenConns),
		slog.Int("database_max_idle_conns", cfg.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", cfg.ConnMaxLifetime),
	)

	return s, nil
}

func (s *backendStores) Close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
