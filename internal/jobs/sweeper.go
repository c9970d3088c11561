package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/damsafe-io/damsafe/internal/config"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultStallTimeout  = 30 * time.Minute
	sweepQueryTimeout    = 30 * time.Second
	sweeperStopTimeout   = 5 * time.Second
)

// ErrInvalidSweepInterval is returned for a non-positive sweep interval.
var ErrInvalidSweepInterval = errors.New("sweep interval must be greater than zero")

// SweepConfig holds the stall sweep settings.
type SweepConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// LoadSweepConfig reads STALL_SWEEP_INTERVAL and STALL_TIMEOUT.
func LoadSweepConfig() *SweepConfig {
	return &SweepConfig{
		Interval: config.GetEnvDuration("STALL_SWEEP_INTERVAL", defaultSweepInterval),
		Timeout:  config.GetEnvDuration("STALL_TIMEOUT", defaultStallTimeout),
	}
}

// Validate rejects non-positive durations.
func (c *SweepConfig) Validate() error {
	if c.Interval <= 0 {
		return ErrInvalidSweepInterval
	}

	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	return nil
}

// SweepObserver receives the outcome of each sweep, typically to update metrics.
type SweepObserver interface {
	ObserveStalled(n int)
	ObserveStatusCounts(counts map[Status]int)
}

// Sweeper runs DetectStalled on a ticker until Close.
type Sweeper struct {
	manager  *Manager
	cfg      SweepConfig
	observer SweepObserver
	logger   *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewSweeper validates cfg and creates a stopped Sweeper. observer may be nil.
func NewSweeper(manager *Manager, cfg *SweepConfig, observer SweepObserver, logger *slog.Logger) (*Sweeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		manager:  manager,
		cfg:      *cfg,
		observer: observer,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the sweep goroutine. Calls after the first are no-ops.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		go s.run()

		s.logger.Info("Started stall sweeper",
			slog.Duration("interval", s.cfg.Interval),
			slog.Duration("timeout", s.cfg.Timeout))
	})
}

// Close stops the sweep goroutine and waits briefly for it. Safe to call more than once.
func (s *Sweeper) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)

		started := true

		s.startOnce.Do(func() { started = false })

		if !started {
			return
		}

		select {
		case <-s.done:
			s.logger.Info("Stall sweeper stopped")
		case <-time.After(sweeperStopTimeout):
			s.logger.Warn("Stall sweeper did not stop within timeout")
		}
	})

	return nil
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			sweepCtx, sweepCancel := context.WithTimeout(ctx, sweepQueryTimeout)
			_, _ = s.Sweep(sweepCtx)

			sweepCancel()
		}
	}
}

// Sweep runs one stall detection pass and reports it to the observer.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stalled, err := s.manager.DetectStalled(ctx, s.cfg.Timeout)
	if err != nil {
		s.logger.Error("Stall sweep failed", slog.String("error", err.Error()))

		return 0, err
	}

	if s.observer == nil {
		return len(stalled), nil
	}

	s.observer.ObserveStalled(len(stalled))

	counts, err := s.manager.CountByStatus(ctx)
	if err != nil {
		s.logger.Warn("Job status counts unavailable", slog.String("error", err.Error()))

		return len(stalled), nil
	}

	s.observer.ObserveStatusCounts(counts)

	return len(stalled), nil
}
