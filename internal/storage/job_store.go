package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/damsafe-io/damsafe/internal/jobs"
)

// ErrJobStoreFailed wraps every unexpected database error of JobStore.
var ErrJobStoreFailed = errors.New("collection job storage failed")

var _ jobs.Store = (*JobStore)(nil)

const jobColumns = `id, instrument_id, status, COALESCE(reason, ''), created_at, started_at, finished_at`

// insertJobSQL relies on idx_collection_jobs_active_instrument. A conflicting insert
// returns no row instead of an error.
const insertJobSQL = `
	INSERT INTO collection_jobs (id, instrument_id, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $4)
	ON CONFLICT (instrument_id) WHERE status IN ('QUEUED', 'PROCESSING') DO NOTHING
	RETURNING id`

// claimJobSQL locks the oldest queued row and skips rows locked by concurrent
// claimers, so each row is handed out once. Job ids are version 7, so the id
// tie-break keeps insert order.
const claimJobSQL = `
	WITH next AS (
		SELECT id
		FROM collection_jobs
		WHERE status = 'QUEUED'
		ORDER BY created_at, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE collection_jobs j
	SET status = 'PROCESSING', started_at = $1, updated_at = $1
	FROM next
	WHERE j.id = next.id
	RETURNING j.id, j.instrument_id, j.status, COALESCE(j.reason, ''), j.created_at, j.started_at, j.finished_at`

const finishJobSQL = `
	UPDATE collection_jobs
	SET status = $2, reason = NULLIF($3, ''), finished_at = $4, updated_at = $4
	WHERE id = $1 AND status = 'PROCESSING'
	RETURNING ` + jobColumns

const failStalledSQL = `
	UPDATE collection_jobs
	SET status = 'FAILED', reason = $2, finished_at = $3, updated_at = $3
	WHERE status = 'PROCESSING' AND started_at < $1
	RETURNING ` + jobColumns

// JobStore is the PostgreSQL jobs.Store.
type JobStore struct {
	conn *Connection
}

// NewJobStore creates a JobStore. Returns ErrNoDatabaseConnection for a nil conn.
func NewJobStore(conn *Connection) (*JobStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &JobStore{conn: conn}, nil
}

// Insert stores a QUEUED job or returns jobs.ErrConflict.
func (s *JobStore) Insert(ctx context.Context, job *jobs.Job) error {
	var id uuid.UUID

	err := s.conn.QueryRowContext(ctx, insertJobSQL,
		job.ID, job.InstrumentID, string(job.Status), job.CreatedAt,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", jobs.ErrConflict, job.InstrumentID)
	}

	if err != nil {
		return fmt.Errorf("%w: insert: %w", ErrJobStoreFailed, err)
	}

	return nil
}

// ClaimNext claims the oldest QUEUED job.
func (s *JobStore) ClaimNext(ctx context.Context, now time.Time) (*jobs.Job, error) {
	job, err := scanJob(s.conn.QueryRowContext(ctx, claimJobSQL, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: claim: %w", ErrJobStoreFailed, err)
	}

	return job, nil
}

// Finish moves a PROCESSING job to a terminal status.
func (s *JobStore) Finish(
	ctx context.Context,
	id uuid.UUID,
	status jobs.Status,
	reason string,
	now time.Time,
) (*jobs.Job, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot finish with status %s", jobs.ErrInvalidTransition, status)
	}

	job, err := scanJob(s.conn.QueryRowContext(ctx, finishJobSQL, id, string(status), reason, now))
	if err == nil {
		return job, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: finish: %w", ErrJobStoreFailed, err)
	}

	// No PROCESSING row matched: tell an unknown id apart from a wrong state.
	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}

	return nil, fmt.Errorf("%w: job %s is %s", jobs.ErrInvalidTransition, id, current.Status)
}

// FailStalled fails every PROCESSING job started before cutoff.
func (s *JobStore) FailStalled(ctx context.Context, cutoff time.Time, reason string, now time.Time) ([]*jobs.Job, error) {
	rows, err := s.conn.QueryContext(ctx, failStalledSQL, cutoff, reason, now)
	if err != nil {
		return nil, fmt.Errorf("%w: fail stalled: %w", ErrJobStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var stalled []*jobs.Job

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan stalled: %w", ErrJobStoreFailed, err)
		}

		stalled = append(stalled, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fail stalled: %w", ErrJobStoreFailed, err)
	}

	return stalled, nil
}

// Get returns a job or jobs.ErrNotFound.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	job, err := scanJob(s.conn.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM collection_jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: get: %w", ErrJobStoreFailed, err)
	}

	return job, nil
}

// CountByStatus groups jobs by status.
func (s *JobStore) CountByStatus(ctx context.Context) (map[jobs.Status]int, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM collection_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("%w: count: %w", ErrJobStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[jobs.Status]int)

	for rows.Next() {
		var (
			status string
			n      int
		)

		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("%w: count: %w", ErrJobStoreFailed, err)
		}

		counts[jobs.Status(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: count: %w", ErrJobStoreFailed, err)
	}

	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		job        jobs.Job
		status     string
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	if err := row.Scan(&job.ID, &job.InstrumentID, &status, &job.Reason,
		&job.CreatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	job.Status = jobs.Status(status)
	job.CreatedAt = job.CreatedAt.UTC()

	if startedAt.Valid {
		t := startedAt.Time.UTC()
		job.StartedAt = &t
	}

	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		job.FinishedAt = &t
	}

	return &job, nil
}
