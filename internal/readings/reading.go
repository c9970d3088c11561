// Package readings persists daily telemetry readings and serves them back through
// the read cache.
//
// A reading is keyed by (instrument, calendar day). The first ingest for a day wins;
// later ingests for the same day are no-ops, whatever values they carry.
package readings

import (
	"context"
	"errors"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	dayLayout        = "2006-01-02"
)

var (
	// ErrNotFound is returned when no reading matches.
	ErrNotFound = errors.New("reading not found")

	// ErrInvalidTarget is returned by Ingest when the instrument or dam id is blank.
	ErrInvalidTarget = errors.New("reading target requires instrument and dam ids")

	// ErrInvalidQuery is returned for a list query without a dam id or with from > to.
	ErrInvalidQuery = errors.New("invalid readings query")
)

// Reading is one persisted (instrument, day) row.
type Reading struct {
	ID                   int64      `json:"id"`
	InstrumentID         string     `json:"instrumentId"`
	DamID                string     `json:"damId"`
	StationCode          string     `json:"stationCode"`
	Date                 time.Time  `json:"date"`
	Rainfall             *float64   `json:"rainfall,omitempty"`
	RainfallStatus       string     `json:"rainfallStatus,omitempty"`
	ReservoirLevel       *float64   `json:"reservoirLevel,omitempty"`
	ReservoirLevelStatus string     `json:"reservoirLevelStatus,omitempty"`
	Discharge            *float64   `json:"discharge,omitempty"`
	DischargeStatus      string     `json:"dischargeStatus,omitempty"`
	UpstreamAverage      *float64   `json:"upstreamAverage,omitempty"`
	MeasuredAt           time.Time  `json:"measuredAt"`
	ProviderUpdatedAt    *time.Time `json:"providerUpdatedAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
}

// Clone returns a deep copy of r.
func (r *Reading) Clone() *Reading {
	if r == nil {
		return nil
	}

	c := *r
	c.Rainfall = cloneFloat(r.Rainfall)
	c.ReservoirLevel = cloneFloat(r.ReservoirLevel)
	c.Discharge = cloneFloat(r.Discharge)
	c.UpstreamAverage = cloneFloat(r.UpstreamAverage)

	if r.ProviderUpdatedAt != nil {
		t := *r.ProviderUpdatedAt
		c.ProviderUpdatedAt = &t
	}

	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}

// Query selects readings of one dam. Zero From/To are unbounded; Limit and Offset
// paginate in descending date order.
type Query struct {
	DamID  string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Normalize truncates bounds to days and clamps pagination.
func (q Query) Normalize() (Query, error) {
	if q.DamID == "" {
		return q, ErrInvalidQuery
	}

	if !q.From.IsZero() {
		q.From = Day(q.From)
	}

	if !q.To.IsZero() {
		q.To = Day(q.To)
	}

	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return q, ErrInvalidQuery
	}

	switch {
	case q.Limit <= 0:
		q.Limit = defaultListLimit
	case q.Limit > maxListLimit:
		q.Limit = maxListLimit
	}

	if q.Offset < 0 {
		q.Offset = 0
	}

	return q, nil
}

// Store persists readings.
type Store interface {
	// Exists reports whether instrumentID already has a reading for day.
	Exists(ctx context.Context, instrumentID string, day time.Time) (bool, error)

	// Insert stores r unless a reading for (r.InstrumentID, r.Date) exists. It returns
	// false, without error, when the row already existed. On insert r.ID and
	// r.CreatedAt are filled in.
	Insert(ctx context.Context, r *Reading) (bool, error)

	// ListByDam returns readings of q.DamID, newest day first. q is normalized.
	ListByDam(ctx context.Context, q Query) ([]*Reading, error)

	// Latest returns the newest reading of an instrument or ErrNotFound.
	Latest(ctx context.Context, instrumentID string) (*Reading, error)
}

// Day returns the calendar day of t, in t's own location, as midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDay renders a day as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format(dayLayout)
}
