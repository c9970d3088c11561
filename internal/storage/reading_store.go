package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/damsafe-io/damsafe/internal/readings"
)

// ErrReadingStoreFailed wraps every unexpected database error of ReadingStore.
var ErrReadingStoreFailed = errors.New("telemetry reading storage failed")

var _ readings.Store = (*ReadingStore)(nil)

const readingColumns = `id, instrument_id, dam_id, station_code, reading_date,
	rainfall, rainfall_status, reservoir_level, reservoir_level_status,
	discharge, discharge_status, upstream_average, measured_at, provider_updated_at, created_at`

const insertReadingSQL = `
	INSERT INTO telemetry_readings (
		instrument_id, dam_id, station_code, reading_date,
		rainfall, rainfall_status, reservoir_level, reservoir_level_status,
		discharge, discharge_status, upstream_average, measured_at, provider_updated_at, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT ON CONSTRAINT uq_telemetry_readings_instrument_date DO NOTHING
	RETURNING id, created_at`

// ReadingStore is the PostgreSQL readings.Store.
type ReadingStore struct {
	conn *Connection
}

// NewReadingStore creates a ReadingStore. Returns ErrNoDatabaseConnection for a nil conn.
func NewReadingStore(conn *Connection) (*ReadingStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ReadingStore{conn: conn}, nil
}

// Exists reports whether a reading for (instrumentID, day) is stored.
func (s *ReadingStore) Exists(ctx context.Context, instrumentID string, day time.Time) (bool, error) {
	var exists bool

	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM telemetry_readings WHERE instrument_id = $1 AND reading_date = $2)`,
		instrumentID, readings.FormatDay(day),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: exists: %w", ErrReadingStoreFailed, err)
	}

	return exists, nil
}

// Insert stores r unless its (instrument, day) row exists.
func (s *ReadingStore) Insert(ctx context.Context, r *readings.Reading) (bool, error) {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err := s.conn.QueryRowContext(ctx, insertReadingSQL,
		r.InstrumentID, r.DamID, r.StationCode, readings.FormatDay(r.Date),
		nullFloat(r.Rainfall), r.RainfallStatus,
		nullFloat(r.ReservoirLevel), r.ReservoirLevelStatus,
		nullFloat(r.Discharge), r.DischargeStatus,
		nullFloat(r.UpstreamAverage),
		nullTimeValue(r.MeasuredAt), nullTime(r.ProviderUpdatedAt), createdAt,
	).Scan(&r.ID, &r.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("%w: insert: %w", ErrReadingStoreFailed, err)
	}

	r.CreatedAt = r.CreatedAt.UTC()

	return true, nil
}

// ListByDam returns a page of a dam's readings, newest day first.
func (s *ReadingStore) ListByDam(ctx context.Context, q readings.Query) ([]*readings.Reading, error) {
	var (
		where = []string{"dam_id = $1"}
		args  = []any{q.DamID}
	)

	if !q.From.IsZero() {
		args = append(args, readings.FormatDay(q.From))
		where = append(where, fmt.Sprintf("reading_date >= $%d", len(args)))
	}

	if !q.To.IsZero() {
		args = append(args, readings.FormatDay(q.To))
		where = append(where, fmt.Sprintf("reading_date <= $%d", len(args)))
	}

	args = append(args, q.Limit, q.Offset)

	query := fmt.Sprintf(`SELECT %s FROM telemetry_readings WHERE %s
		ORDER BY reading_date DESC, instrument_id LIMIT $%d OFFSET $%d`,
		readingColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrReadingStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	list := make([]*readings.Reading, 0, q.Limit)

	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrReadingStoreFailed, err)
		}

		list = append(list, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrReadingStoreFailed, err)
	}

	return list, nil
}

// Latest returns the newest reading of an instrument or readings.ErrNotFound.
func (s *ReadingStore) Latest(ctx context.Context, instrumentID string) (*readings.Reading, error) {
	r, err := scanReading(s.conn.QueryRowContext(ctx,
		`SELECT `+readingColumns+` FROM telemetry_readings
		WHERE instrument_id = $1 ORDER BY reading_date DESC LIMIT 1`, instrumentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: instrument %s", readings.ErrNotFound, instrumentID)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: latest: %w", ErrReadingStoreFailed, err)
	}

	return r, nil
}

func scanReading(row rowScanner) (*readings.Reading, error) {
	var (
		r                                    readings.Reading
		rainfall, level, discharge, upstream sql.NullFloat64
		measuredAt, providerUpdatedAt        sql.NullTime
	)

	if err := row.Scan(&r.ID, &r.InstrumentID, &r.DamID, &r.StationCode, &r.Date,
		&rainfall, &r.RainfallStatus, &level, &r.ReservoirLevelStatus,
		&discharge, &r.DischargeStatus, &upstream, &measuredAt, &providerUpdatedAt, &r.CreatedAt); err != nil {
		return nil, err
	}

	r.Date = readings.Day(r.Date)
	r.Rainfall = floatPtr(rainfall)
	r.ReservoirLevel = floatPtr(level)
	r.Discharge = floatPtr(discharge)
	r.UpstreamAverage = floatPtr(upstream)
	r.CreatedAt = r.CreatedAt.UTC()

	if measuredAt.Valid {
		r.MeasuredAt = measuredAt.Time.UTC()
	}

	if providerUpdatedAt.Valid {
		t := providerUpdatedAt.Time.UTC()
		r.ProviderUpdatedAt = &t
	}

	return &r, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}

	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}

	f := v.Float64

	return &f
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t, Valid: true}
}
