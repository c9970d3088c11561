package readings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/damsafe-io/damsafe/internal/cache"
	"github.com/damsafe-io/damsafe/internal/telemetry"
)

// Target identifies what a batch of measurements belongs to.
type Target struct {
	InstrumentID string
	DamID        string
	StationCode  string
}

// Result describes the outcome of one Ingest call. At most one of Reading,
// Duplicate and Empty is set.
type Result struct {
	Reading   *Reading
	Duplicate bool
	Empty     bool
}

// Inserted reports whether a new row was written.
func (r Result) Inserted() bool {
	return r.Reading != nil
}

// Ingestor turns provider measurements into one reading per instrument and day.
type Ingestor struct {
	store  Store
	fanout cache.Fanout
	clock  func() time.Time
	logger *slog.Logger
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithFanout sets the cache fan-out notified after every insert.
func WithFanout(f cache.Fanout) IngestorOption {
	return func(i *Ingestor) {
		i.fanout = f
	}
}

// WithClock overrides time.Now for CreatedAt on in-memory stores and tests.
func WithClock(clock func() time.Time) IngestorOption {
	return func(i *Ingestor) {
		i.clock = clock
	}
}

// WithLogger sets the ingestor logger.
func WithLogger(logger *slog.Logger) IngestorOption {
	return func(i *Ingestor) {
		i.logger = logger
	}
}

// NewIngestor creates an Ingestor over store.
func NewIngestor(store Store, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		store:  store,
		fanout: cache.NoopFanout{},
		clock:  time.Now,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Ingest stores the reading of target for date.
//
// An existing reading for (instrument, day) is left untouched and reported as a
// duplicate, as is losing an insert race to another process. An empty measurement
// list is a no-op. Otherwise the adopted values come from the latest measurement of
// the day and UpstreamAverage is the mean of every non-null reservoir level.
func (i *Ingestor) Ingest(
	ctx context.Context,
	target Target,
	date time.Time,
	measurements []telemetry.Measurement,
) (Result, error) {
	if target.InstrumentID == "" || target.DamID == "" {
		return Result{}, ErrInvalidTarget
	}

	day := Day(date)

	exists, err := i.store.Exists(ctx, target.InstrumentID, day)
	if err != nil {
		return Result{}, fmt.Errorf("check existing reading: %w", err)
	}

	if exists {
		i.logger.Info("Reading already ingested, skipping",
			slog.String("instrument_id", target.InstrumentID),
			slog.String("date", FormatDay(day)))

		return Result{Duplicate: true}, nil
	}

	if len(measurements) == 0 {
		i.logger.Info("No measurements to ingest",
			slog.String("instrument_id", target.InstrumentID),
			slog.String("date", FormatDay(day)))

		return Result{Empty: true}, nil
	}

	reading := buildReading(target, day, measurements)
	reading.CreatedAt = i.clock().UTC()

	inserted, err := i.store.Insert(ctx, reading)
	if err != nil {
		return Result{}, fmt.Errorf("insert reading: %w", err)
	}

	if !inserted {
		return Result{Duplicate: true}, nil
	}

	i.fanout.Invalidate(ctx, cache.Mutation{Kind: cache.MutationReadingIngested, ScopeID: target.DamID})

	i.logger.Info("Reading ingested",
		slog.String("instrument_id", target.InstrumentID),
		slog.String("dam_id", target.DamID),
		slog.String("date", FormatDay(day)),
		slog.Int("measurements", len(measurements)))

	return Result{Reading: reading}, nil
}

func buildReading(target Target, day time.Time, measurements []telemetry.Measurement) *Reading {
	latest := measurements[0]

	var (
		levelSum   float64
		levelCount int
	)

	for _, m := range measurements {
		if m.MeasuredAt.After(latest.MeasuredAt) {
			latest = m
		}

		if m.ReservoirLevel != nil {
			levelSum += *m.ReservoirLevel
			levelCount++
		}
	}

	station := target.StationCode
	if station == "" {
		station = latest.StationCode
	}

	r := &Reading{
		InstrumentID:         target.InstrumentID,
		DamID:                target.DamID,
		StationCode:          station,
		Date:                 day,
		Rainfall:             copyFloat(latest.Rainfall),
		RainfallStatus:       latest.RainfallStatus,
		ReservoirLevel:       copyFloat(latest.ReservoirLevel),
		ReservoirLevelStatus: latest.ReservoirLevelStatus,
		Discharge:            copyFloat(latest.Discharge),
		DischargeStatus:      latest.DischargeStatus,
		MeasuredAt:           latest.MeasuredAt,
		ProviderUpdatedAt:    latest.UpdatedAt,
	}

	if levelCount > 0 {
		avg := levelSum / float64(levelCount)
		r.UpstreamAverage = &avg
	}

	return r
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}
