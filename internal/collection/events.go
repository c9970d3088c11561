package collection

import (
	"context"
	"log/slog"
)

// EventType is the kind of instrument change announced by the configuration service.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
)

// InstrumentEvent announces an instrument change.
type InstrumentEvent struct {
	Type                    EventType `json:"type"`
	InstrumentID            string    `json:"instrumentId"`
	LinimetricRuler         bool      `json:"linimetricRuler"`
	PreviousLinimetricRuler bool      `json:"previousLinimetricRuler"`
}

// TriggersCollection reports whether the event should start a one-off run: a new
// linimetric ruler, or an existing instrument whose flag just turned on.
func (e InstrumentEvent) TriggersCollection() bool {
	if e.InstrumentID == "" || !e.LinimetricRuler {
		return false
	}

	switch e.Type {
	case EventCreated:
		return true
	case EventUpdated:
		return !e.PreviousLinimetricRuler
	default:
		return false
	}
}

// HandleInstrumentEvent starts a single-instrument run in the background when the
// event calls for one and returns immediately. It reports whether a run was started.
// The run's outcome is only logged.
func (o *Orchestrator) HandleInstrumentEvent(ctx context.Context, event InstrumentEvent) bool {
	if !event.TriggersCollection() {
		o.logger.Debug("Instrument event ignored",
			slog.String("type", string(event.Type)),
			slog.String("instrument_id", event.InstrumentID))

		return false
	}

	o.Go(ctx, "instrument_event", func(ctx context.Context) error {
		_, err := o.RunCollection(ctx, Trigger{Reason: ReasonEvent, InstrumentID: event.InstrumentID})

		return err
	})

	return true
}
