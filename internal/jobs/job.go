// Package jobs owns the collection job lifecycle.
//
// A job moves QUEUED → PROCESSING → COMPLETED|FAILED. The stall sweep may force a
// PROCESSING job to FAILED. Terminal jobs never change again; a new attempt is a new
// job. At most one job per instrument may be active (QUEUED or PROCESSING) at a time,
// and that guarantee is enforced by the Store, not by in-process locks, because the
// cron, event and manual triggers can run in separate processes.
package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a collection job.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// StalledReason is recorded on jobs failed by the stall sweep.
const StalledReason = "stalled: no completion before timeout"

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed}
}

// IsActive reports whether the status blocks a new enqueue for the same instrument.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusProcessing
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Sentinel errors for lifecycle operations. Use errors.Is to test for them.
var (
	// ErrConflict is returned by Enqueue when the instrument already has an active job.
	ErrConflict = errors.New("active collection job already exists for instrument")

	// ErrNotFound is returned when a job id is unknown.
	ErrNotFound = errors.New("collection job not found")

	// ErrInvalidTransition is returned when a job is not in the state the operation requires.
	ErrInvalidTransition = errors.New("invalid collection job transition")

	// ErrInstrumentIDEmpty is returned by Enqueue for a blank instrument id.
	ErrInstrumentIDEmpty = errors.New("instrument id cannot be empty")

	// ErrInvalidTimeout is returned by DetectStalled for a non-positive timeout.
	ErrInvalidTimeout = errors.New("stall timeout must be greater than zero")
)

// Job is one collection attempt for one instrument.
type Job struct {
	ID           uuid.UUID  `json:"id"`
	InstrumentID string     `json:"instrumentId"`
	Status       Status     `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// Clone returns a deep copy so stores can hand out jobs without sharing pointers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}

	c := *j

	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}

	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}

	return &c
}
