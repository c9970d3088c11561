package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/damsafe-io/damsafe/internal/cache"
)

const (
	statsCacheKey = "all"
	statsCacheTTL = 30 * time.Second
)

// Manager runs the job lifecycle on top of a Store and reports every transition to
// the cache fan-out.
type Manager struct {
	store  Store
	fanout cache.Fanout
	loader *cache.Loader
	clock  func() time.Time
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithFanout sets the cache fan-out notified on every job transition.
func WithFanout(f cache.Fanout) ManagerOption {
	return func(m *Manager) {
		m.fanout = f
	}
}

// WithLoader caches Get and CountByStatus reads.
func WithLoader(l *cache.Loader) ManagerOption {
	return func(m *Manager) {
		m.loader = l
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		fanout: cache.NoopFanout{},
		clock:  time.Now,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) now() time.Time {
	return m.clock().UTC()
}

// Enqueue creates a QUEUED job for instrumentID. It returns ErrConflict when the
// instrument already has a QUEUED or PROCESSING job.
func (m *Manager) Enqueue(ctx context.Context, instrumentID string) (*Job, error) {
	instrumentID = strings.TrimSpace(instrumentID)
	if instrumentID == "" {
		return nil, ErrInstrumentIDEmpty
	}

	// Version 7 ids sort by creation, so claims stay FIFO when timestamps tie.
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}

	job := &Job{
		ID:           id,
		InstrumentID: instrumentID,
		Status:       StatusQueued,
		CreatedAt:    m.now(),
	}

	if err := m.store.Insert(ctx, job); err != nil {
		return nil, err
	}

	m.changed(ctx, job)

	m.logger.Info("Collection job enqueued",
		slog.String("job_id", job.ID.String()),
		slog.String("instrument_id", instrumentID))

	return job, nil
}

// ClaimNext moves the oldest QUEUED job to PROCESSING. It returns (nil, nil) when
// nothing is queued.
func (m *Manager) ClaimNext(ctx context.Context) (*Job, error) {
	job, err := m.store.ClaimNext(ctx, m.now())
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	if job == nil {
		return nil, nil
	}

	m.changed(ctx, job)

	m.logger.Debug("Collection job claimed",
		slog.String("job_id", job.ID.String()),
		slog.String("instrument_id", job.InstrumentID))

	return job, nil
}

// Complete moves a PROCESSING job to COMPLETED.
func (m *Manager) Complete(ctx context.Context, id uuid.UUID) (*Job, error) {
	return m.finish(ctx, id, StatusCompleted, "")
}

// Fail moves a PROCESSING job to FAILED and records reason.
func (m *Manager) Fail(ctx context.Context, id uuid.UUID, reason string) (*Job, error) {
	return m.finish(ctx, id, StatusFailed, reason)
}

func (m *Manager) finish(ctx context.Context, id uuid.UUID, status Status, reason string) (*Job, error) {
	job, err := m.store.Finish(ctx, id, status, reason, m.now())
	if err != nil {
		return nil, err
	}

	m.changed(ctx, job)

	m.logger.Info("Collection job finished",
		slog.String("job_id", job.ID.String()),
		slog.String("instrument_id", job.InstrumentID),
		slog.String("status", string(job.Status)),
		slog.String("reason", job.Reason))

	return job, nil
}

// Get returns a job by id or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	if m.loader == nil {
		return m.store.Get(ctx, id)
	}

	return cache.Load(ctx, m.loader, cache.NamespaceJobByID, id.String(), 0,
		func(ctx context.Context) (*Job, error) {
			return m.store.Get(ctx, id)
		})
}

// DetectStalled fails every PROCESSING job started more than timeout ago and returns
// them. Stalled jobs are not retried.
func (m *Manager) DetectStalled(ctx context.Context, timeout time.Duration) ([]*Job, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	now := m.now()

	stalled, err := m.store.FailStalled(ctx, now.Add(-timeout), StalledReason, now)
	if err != nil {
		return nil, fmt.Errorf("fail stalled jobs: %w", err)
	}

	for _, job := range stalled {
		m.logger.Warn("Collection job stalled",
			slog.String("job_id", job.ID.String()),
			slog.String("instrument_id", job.InstrumentID),
			slog.Duration("timeout", timeout))
	}

	if len(stalled) > 0 {
		m.fanout.Invalidate(ctx, cache.Mutation{Kind: cache.MutationJobChanged})
	}

	return stalled, nil
}

// CountByStatus returns the number of jobs in each status, including zeros.
func (m *Manager) CountByStatus(ctx context.Context) (map[Status]int, error) {
	load := func(ctx context.Context) (map[Status]int, error) {
		counts, err := m.store.CountByStatus(ctx)
		if err != nil {
			return nil, fmt.Errorf("count jobs by status: %w", err)
		}

		full := make(map[Status]int, len(Statuses()))
		for _, s := range Statuses() {
			full[s] = counts[s]
		}

		return full, nil
	}

	if m.loader == nil {
		return load(ctx)
	}

	return cache.Load(ctx, m.loader, cache.NamespaceJobStatusCounts, statsCacheKey, statsCacheTTL, load)
}

func (m *Manager) changed(ctx context.Context, job *Job) {
	m.fanout.Invalidate(ctx, cache.Mutation{Kind: cache.MutationJobChanged, ScopeID: job.InstrumentID})
}
