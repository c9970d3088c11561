package collection

import (
	"time"

	"github.com/google/uuid"
)

// Reason says what started a collection run.
type Reason string

const (
	ReasonCron   Reason = "cron"
	ReasonEvent  Reason = "event"
	ReasonManual Reason = "manual"
	ReasonAPI    Reason = "api"
)

// Trigger is the single input of RunCollection. InstrumentID restricts the run to one
// instrument and is set by event triggers only.
type Trigger struct {
	Reason       Reason `json:"reason"`
	InstrumentID string `json:"instrumentId,omitempty"`
}

// Outcome is the per-instrument result of a run.
type Outcome string

const (
	// OutcomeCompleted: a reading was stored and the job completed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeDuplicate: a reading for the day already existed; the job completed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeNoData: the provider returned no measurement for the day; the job completed.
	OutcomeNoData Outcome = "no_data"
	// OutcomeSkipped: the instrument already had an active job, so none was enqueued.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed: enqueue, fetch or ingest failed; the job, if any, is FAILED.
	OutcomeFailed Outcome = "failed"
)

// InstrumentResult is one line of a BatchReport.
type InstrumentResult struct {
	InstrumentID string    `json:"instrumentId"`
	JobID        uuid.UUID `json:"jobId,omitzero"`
	Outcome      Outcome   `json:"outcome"`
	Error        string    `json:"error,omitempty"`
}

// BatchReport summarizes one run. Jobs claimed by a concurrent run are reported there,
// not here.
type BatchReport struct {
	Trigger    Trigger            `json:"trigger"`
	Date       time.Time          `json:"date"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
	Results    []InstrumentResult `json:"results"`
}

// Failed returns the failed instruments.
func (r *BatchReport) Failed() []InstrumentResult {
	var failed []InstrumentResult

	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			failed = append(failed, res)
		}
	}

	return failed
}

// Count returns how many instruments ended with outcome.
func (r *BatchReport) Count(outcome Outcome) int {
	n := 0

	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}

	return n
}

// Result returns the result for instrumentID, if any.
func (r *BatchReport) Result(instrumentID string) (InstrumentResult, bool) {
	for _, res := range r.Results {
		if res.InstrumentID == instrumentID {
			return res, true
		}
	}

	return InstrumentResult{}, false
}
