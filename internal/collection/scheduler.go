package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/damsafe-io/damsafe/internal/config"
)

const (
	defaultSchedule = "0 6 * * *"
	defaultTimezone = "America/Sao_Paulo"
)

// ErrInvalidSchedule is returned for a COLLECTION_SCHEDULE cron cannot parse.
var ErrInvalidSchedule = errors.New("invalid collection schedule")

// Config holds the collection settings.
type Config struct {
	Enabled  bool           // run the daily schedule
	Schedule string         // standard five-field cron expression
	Location *time.Location // zone of the schedule and of "today"
}

// LoadConfig reads COLLECTION_ENABLED, COLLECTION_SCHEDULE and COLLECTION_TIMEZONE.
func LoadConfig() *Config {
	fallback, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		fallback = time.UTC
	}

	return &Config{
		Enabled:  config.GetEnvBool("COLLECTION_ENABLED", true),
		Schedule: config.GetEnvStr("COLLECTION_SCHEDULE", defaultSchedule),
		Location: config.GetEnvLocation("COLLECTION_TIMEZONE", fallback),
	}
}

// Validate parses the schedule.
func (c *Config) Validate() error {
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidSchedule, c.Schedule, err)
	}

	return nil
}

// Scheduler fires RunCollection(cron) on the configured schedule. A firing that
// overlaps a still-running scheduled batch is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler registers the daily run of orch.
func NewScheduler(orch *Orchestrator, cfg *Config, logger *slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	cronLogger := cronLogAdapter{logger: logger}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	_, err := c.AddFunc(cfg.Schedule, func() {
		_, _ = orch.RunCollection(context.Background(), Trigger{Reason: ReasonCron})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()

	for _, entry := range s.cron.Entries() {
		s.logger.Info("Collection scheduled", slog.Time("next_run", entry.Next))
	}
}

// Stop stops the schedule and waits for a running batch, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogAdapter routes robfig/cron logs to slog.
type cronLogAdapter struct {
	logger *slog.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug("cron: "+msg, keysAndValues...)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
