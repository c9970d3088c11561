package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists collection jobs.
//
// Implementations live in internal/storage. Every method must be atomic with respect
// to concurrent callers in other goroutines and other processes:
//   - Insert is a single check-and-insert; two racing inserts for one instrument
//     produce exactly one success and one ErrConflict.
//   - ClaimNext never hands the same job to two callers.
//   - Finish and FailStalled only move jobs that are PROCESSING at write time.
type Store interface {
	// Insert stores a new QUEUED job. Returns ErrConflict when the instrument
	// already has a QUEUED or PROCESSING job.
	Insert(ctx context.Context, job *Job) error

	// ClaimNext moves the oldest QUEUED job (by CreatedAt) to PROCESSING with
	// StartedAt = now and returns it. Returns (nil, nil) when nothing is queued.
	ClaimNext(ctx context.Context, now time.Time) (*Job, error)

	// Finish moves a PROCESSING job to the terminal status with FinishedAt = now.
	// Returns ErrNotFound for unknown ids and ErrInvalidTransition when the job is
	// not PROCESSING.
	Finish(ctx context.Context, id uuid.UUID, status Status, reason string, now time.Time) (*Job, error)

	// FailStalled moves every PROCESSING job with StartedAt before cutoff to FAILED
	// with the given reason and returns the moved jobs.
	FailStalled(ctx context.Context, cutoff time.Time, reason string, now time.Time) ([]*Job, error)

	// Get returns a job by id or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Job, error)

	// CountByStatus returns the number of jobs per status present in the store.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
