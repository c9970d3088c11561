// Package collection drives telemetry collection runs.
//
// Every trigger (the daily schedule, instrument events, the admin endpoint and job
// submission through the API) ends up in Orchestrator.RunCollection or
// Orchestrator.Drain. A run authenticates once, enqueues one job per instrument, then
// drains the job queue, collecting each claimed instrument in turn. A failing
// instrument fails its own job and the run moves on; a failed authentication aborts
// the run before anything is enqueued.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/damsafe-io/damsafe/internal/jobs"
	"github.com/damsafe-io/damsafe/internal/readings"
	"github.com/damsafe-io/damsafe/internal/telemetry"
)

// finishTimeout bounds the terminal job update of one instrument.
const finishTimeout = 10 * time.Second

// ErrInstrumentNotEligible is returned for single-instrument runs on an instrument
// that is not a linimetric ruler or has no station code.
var ErrInstrumentNotEligible = errors.New("instrument is not eligible for telemetry collection")

// TelemetryClient is the provider API used by a run. *telemetry.Client implements it.
type TelemetryClient interface {
	Authenticate(ctx context.Context, creds telemetry.Credentials) (*telemetry.Token, error)
	FetchReadings(ctx context.Context, token *telemetry.Token, stationCode string, date time.Time) ([]telemetry.Measurement, error)
}

// Ingestor stores measurements. *readings.Ingestor implements it.
type Ingestor interface {
	Ingest(ctx context.Context, target readings.Target, date time.Time, m []telemetry.Measurement) (readings.Result, error)
}

// JobQueue is the job lifecycle used by a run. *jobs.Manager implements it.
type JobQueue interface {
	Enqueue(ctx context.Context, instrumentID string) (*jobs.Job, error)
	ClaimNext(ctx context.Context) (*jobs.Job, error)
	Complete(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (*jobs.Job, error)
}

// RunObserver is told about every finished run, typically to update metrics.
type RunObserver interface {
	ObserveRun(report *BatchReport, err error)
}

// Orchestrator runs collection batches.
type Orchestrator struct {
	client      TelemetryClient
	instruments InstrumentSource
	ingestor    Ingestor
	queue       JobQueue
	credentials telemetry.Credentials
	location    *time.Location
	clock       func() time.Time
	observer    RunObserver
	logger      *slog.Logger

	background sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocation sets the zone that decides which calendar day "today" is.
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

// WithObserver registers a RunObserver.
func WithObserver(observer RunObserver) Option {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(
	client TelemetryClient,
	instruments InstrumentSource,
	ingestor Ingestor,
	queue JobQueue,
	credentials telemetry.Credentials,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		client:      client,
		instruments: instruments,
		ingestor:    ingestor,
		queue:       queue,
		credentials: credentials,
		location:    time.UTC,
		clock:       time.Now,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Today returns the current calendar day in the collection zone.
func (o *Orchestrator) Today() time.Time {
	return readings.Day(o.clock().In(o.location))
}

// run carries the state of one batch.
type run struct {
	report *BatchReport
	token  *telemetry.Token
	batch  map[string]*Instrument
}

// RunCollection executes one batch for trigger.
//
// The returned error is non-nil only when the batch could not start: authentication
// failed, the instrument list could not be read, or a single-instrument trigger named
// an unknown or ineligible instrument. Per-instrument failures are reported in the
// BatchReport. A started batch is not cancelled with ctx: every enqueued job is
// drained to a terminal state.
func (o *Orchestrator) RunCollection(ctx context.Context, trigger Trigger) (*BatchReport, error) {
	ctx = context.WithoutCancel(ctx)
	r := o.newRun(trigger)

	report, err := o.runCollection(ctx, r)
	o.finish(report, err)

	return report, err
}

func (o *Orchestrator) runCollection(ctx context.Context, r *run) (*BatchReport, error) {
	logger := o.logger.With(slog.String("trigger", string(r.report.Trigger.Reason)))

	token, err := o.client.Authenticate(ctx, o.credentials)
	if err != nil {
		logger.Error("Collection aborted: authentication failed", slog.String("error", err.Error()))

		return r.report, fmt.Errorf("collection aborted: %w", err)
	}

	r.token = token

	instruments, err := o.resolveInstruments(ctx, r.report.Trigger)
	if err != nil {
		logger.Error("Collection aborted: instruments unavailable", slog.String("error", err.Error()))

		return r.report, err
	}

	for _, inst := range instruments {
		r.batch[inst.ID] = inst
		o.enqueue(ctx, r, inst)
	}

	o.drain(ctx, r)

	return r.report, nil
}

// Drain authenticates and collects every job currently queued, whoever enqueued it.
// It is used after jobs are submitted directly through the API.
func (o *Orchestrator) Drain(ctx context.Context) (*BatchReport, error) {
	ctx = context.WithoutCancel(ctx)
	r := o.newRun(Trigger{Reason: ReasonAPI})

	token, err := o.client.Authenticate(ctx, o.credentials)
	if err != nil {
		o.logger.Error("Drain aborted: authentication failed", slog.String("error", err.Error()))

		err = fmt.Errorf("drain aborted: %w", err)
		o.finish(r.report, err)

		return r.report, err
	}

	r.token = token

	o.drain(ctx, r)
	o.finish(r.report, nil)

	return r.report, nil
}

// Submit enqueues a job for one instrument and drains the queue in the background.
// It returns jobs.ErrConflict when the instrument already has an active job and
// ErrInstrumentNotFound for unknown instruments.
func (o *Orchestrator) Submit(ctx context.Context, instrumentID string) (*jobs.Job, error) {
	if _, err := o.instruments.Get(ctx, instrumentID); err != nil {
		return nil, err
	}

	job, err := o.queue.Enqueue(ctx, instrumentID)
	if err != nil {
		return nil, err
	}

	o.Go(ctx, "drain", func(ctx context.Context) error {
		_, err := o.Drain(ctx)

		return err
	})

	return job, nil
}

// Go runs fn on its own goroutine with a context detached from ctx's cancellation.
// Failures are logged only. Wait blocks until every such goroutine returned.
func (o *Orchestrator) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	detached := context.WithoutCancel(ctx)

	o.background.Add(1)

	go func() {
		defer o.background.Done()

		if err := fn(detached); err != nil {
			o.logger.Warn("Background collection failed",
				slog.String("task", name),
				slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until every background run started by Go has returned.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func (o *Orchestrator) newRun(trigger Trigger) *run {
	now := o.clock()

	return &run{
		report: &BatchReport{
			Trigger:   trigger,
			Date:      readings.Day(now.In(o.location)),
			StartedAt: now.UTC(),
			Results:   []InstrumentResult{},
		},
		batch: make(map[string]*Instrument),
	}
}

func (o *Orchestrator) finish(report *BatchReport, err error) {
	report.FinishedAt = o.clock().UTC()

	o.logger.Info("Collection run finished",
		slog.String("trigger", string(report.Trigger.Reason)),
		slog.String("date", readings.FormatDay(report.Date)),
		slog.Int("completed", report.Count(OutcomeCompleted)),
		slog.Int("duplicate", report.Count(OutcomeDuplicate)),
		slog.Int("no_data", report.Count(OutcomeNoData)),
		slog.Int("skipped", report.Count(OutcomeSkipped)),
		slog.Int("failed", report.Count(OutcomeFailed)),
		slog.Bool("aborted", err != nil),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))

	if o.observer != nil {
		o.observer.ObserveRun(report, err)
	}
}

func (o *Orchestrator) resolveInstruments(ctx context.Context, trigger Trigger) ([]*Instrument, error) {
	if trigger.InstrumentID == "" {
		list, err := o.instruments.ListEligible(ctx)
		if err != nil {
			return nil, fmt.Errorf("list eligible instruments: %w", err)
		}

		return list, nil
	}

	inst, err := o.instruments.Get(ctx, trigger.InstrumentID)
	if err != nil {
		return nil, err
	}

	if !inst.Eligible() {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentNotEligible, inst.ID)
	}

	return []*Instrument{inst}, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, r *run, inst *Instrument) {
	_, err := o.queue.Enqueue(ctx, inst.ID)
	if err == nil {
		return
	}

	if errors.Is(err, jobs.ErrConflict) {
		o.logger.Info("Instrument already has an active job, skipping",
			slog.String("instrument_id", inst.ID))
		r.report.Results = append(r.report.Results, InstrumentResult{
			InstrumentID: inst.ID,
			Outcome:      OutcomeSkipped,
		})

		return
	}

	o.logger.Error("Failed to enqueue collection job",
		slog.String("instrument_id", inst.ID),
		slog.String("error", err.Error()))
	r.report.Results = append(r.report.Results, InstrumentResult{
		InstrumentID: inst.ID,
		Outcome:      OutcomeFailed,
		Error:        err.Error(),
	})
}

func (o *Orchestrator) drain(ctx context.Context, r *run) {
	for {
		job, err := o.queue.ClaimNext(ctx)
		if err != nil {
			o.logger.Error("Failed to claim collection job", slog.String("error", err.Error()))

			return
		}

		if job == nil {
			return
		}

		r.report.Results = append(r.report.Results, o.process(ctx, r, job))
	}
}

// process collects one claimed job and moves it to its terminal state.
func (o *Orchestrator) process(ctx context.Context, r *run, job *jobs.Job) InstrumentResult {
	result := InstrumentResult{InstrumentID: job.InstrumentID, JobID: job.ID}
	logger := o.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("instrument_id", job.InstrumentID))

	outcome, err := o.collect(ctx, r, job.InstrumentID)
	if err != nil {
		logger.Error("Instrument collection failed", slog.String("error", err.Error()))

		result.Outcome = OutcomeFailed
		result.Error = err.Error()

		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		defer cancel()

		if _, failErr := o.queue.Fail(finishCtx, job.ID, err.Error()); failErr != nil {
			logger.Error("Failed to record job failure", slog.String("error", failErr.Error()))
		}

		return result
	}

	result.Outcome = outcome

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if _, err := o.queue.Complete(finishCtx, job.ID); err != nil {
		// The stall sweep may have failed the job while it was running; the reading
		// itself is already stored.
		logger.Warn("Failed to complete job", slog.String("error", err.Error()))

		result.Error = err.Error()
	}

	return result
}

func (o *Orchestrator) collect(ctx context.Context, r *run, instrumentID string) (Outcome, error) {
	inst, ok := r.batch[instrumentID]
	if !ok {
		var err error

		inst, err = o.instruments.Get(ctx, instrumentID)
		if err != nil {
			return OutcomeFailed, err
		}
	}

	if inst.StationCode == "" {
		return OutcomeFailed, fmt.Errorf("%w: %s has no station code", ErrInstrumentNotEligible, inst.ID)
	}

	measurements, err := o.client.FetchReadings(ctx, r.token, inst.StationCode, r.report.Date)
	if err != nil {
		return OutcomeFailed, err
	}

	res, err := o.ingestor.Ingest(ctx, readings.Target{
		InstrumentID: inst.ID,
		DamID:        inst.DamID,
		StationCode:  inst.StationCode,
	}, r.report.Date, measurements)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("ingest: %w", err)
	}

	switch {
	case res.Duplicate:
		return OutcomeDuplicate, nil
	case res.Empty:
		return OutcomeNoData, nil
	default:
		return OutcomeCompleted, nil
	}
}
