package collection

import (
	"context"
	"errors"
	"time"
)

// ErrInstrumentNotFound is returned for an unknown instrument id.
var ErrInstrumentNotFound = errors.New("instrument not found")

// Instrument is the slice of the instrument model the collector needs. Instruments
// are owned by the CRUD surface; this package only reads them.
type Instrument struct {
	ID              string    `json:"id"`
	DamID           string    `json:"damId"`
	Name            string    `json:"name"`
	StationCode     string    `json:"stationCode"`
	LinimetricRuler bool      `json:"linimetricRuler"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Eligible reports whether the instrument takes part in automated collection.
func (i *Instrument) Eligible() bool {
	return i.LinimetricRuler && i.StationCode != ""
}

// InstrumentSource reads instruments.
type InstrumentSource interface {
	// ListEligible returns every linimetric-ruler instrument with a station code,
	// in a stable order.
	ListEligible(ctx context.Context) ([]*Instrument, error)

	// Get returns an instrument or ErrInstrumentNotFound.
	Get(ctx context.Context, id string) (*Instrument, error)
}
