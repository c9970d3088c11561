package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/damsafe-io/damsafe/internal/jobs"
)

var _ jobs.Store = (*MemoryJobStore)(nil)

// MemoryJobStore is a jobs.Store for development and tests. One mutex stands in for
// the database's row locking, so it is only exclusive within a single process.
type MemoryJobStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*jobs.Job
	active map[string]uuid.UUID // instrument id -> QUEUED or PROCESSING job
}

// NewMemoryJobStore creates an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:   make(map[uuid.UUID]*jobs.Job),
		active: make(map[string]uuid.UUID),
	}
}

// Insert stores a QUEUED job or returns jobs.ErrConflict.
func (s *MemoryJobStore) Insert(_ context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[job.InstrumentID]; ok {
		return fmt.Errorf("%w: %s", jobs.ErrConflict, job.InstrumentID)
	}

	s.jobs[job.ID] = job.Clone()
	s.active[job.InstrumentID] = job.ID

	return nil
}

// ClaimNext claims the oldest QUEUED job.
func (s *MemoryJobStore) ClaimNext(_ context.Context, now time.Time) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *jobs.Job

	for _, job := range s.jobs {
		if job.Status != jobs.StatusQueued {
			continue
		}

		if next == nil || job.CreatedAt.Before(next.CreatedAt) ||
			(job.CreatedAt.Equal(next.CreatedAt) && job.ID.String() < next.ID.String()) {
			next = job
		}
	}

	if next == nil {
		return nil, nil
	}

	started := now
	next.Status = jobs.StatusProcessing
	next.StartedAt = &started

	return next.Clone(), nil
}

// Finish moves a PROCESSING job to a terminal status.
func (s *MemoryJobStore) Finish(
	_ context.Context,
	id uuid.UUID,
	status jobs.Status,
	reason string,
	now time.Time,
) (*jobs.Job, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot finish with status %s", jobs.ErrInvalidTransition, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}

	if job.Status != jobs.StatusProcessing {
		return nil, fmt.Errorf("%w: job %s is %s", jobs.ErrInvalidTransition, id, job.Status)
	}

	s.finishLocked(job, status, reason, now)

	return job.Clone(), nil
}

// FailStalled fails every PROCESSING job started before cutoff.
func (s *MemoryJobStore) FailStalled(_ context.Context, cutoff time.Time, reason string, now time.Time) ([]*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stalled []*jobs.Job

	for _, job := range s.jobs {
		if job.Status != jobs.StatusProcessing || job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}

		s.finishLocked(job, jobs.StatusFailed, reason, now)
		stalled = append(stalled, job.Clone())
	}

	sort.Slice(stalled, func(i, j int) bool {
		return stalled[i].StartedAt.Before(*stalled[j].StartedAt)
	})

	return stalled, nil
}

func (s *MemoryJobStore) finishLocked(job *jobs.Job, status jobs.Status, reason string, now time.Time) {
	finished := now
	job.Status = status
	job.Reason = reason
	job.FinishedAt = &finished

	if s.active[job.InstrumentID] == job.ID {
		delete(s.active, job.InstrumentID)
	}
}

// Get returns a job or jobs.ErrNotFound.
func (s *MemoryJobStore) Get(_ context.Context, id uuid.UUID) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}

	return job.Clone(), nil
}

// CountByStatus groups jobs by status.
func (s *MemoryJobStore) CountByStatus(context.Context) (map[jobs.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[jobs.Status]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}

	return counts, nil
}
