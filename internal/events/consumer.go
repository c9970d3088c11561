// Package events consumes instrument-changed events published by the instrument
// configuration service and turns them into single-instrument collection runs.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/damsafe-io/damsafe/internal/collection"
	"github.com/damsafe-io/damsafe/internal/config"
)

const (
	defaultTopic   = "instrument-events"
	defaultGroupID = "damsafe-collector"
	maxFetchBytes  = 1 << 20
	fetchMaxWait   = 2 * time.Second
	commitTimeout  = 5 * time.Second
)

// Event outcomes reported to the Observer.
const (
	ResultTriggered = "triggered"
	ResultIgnored   = "ignored"
	ResultInvalid   = "invalid"
)

var (
	// ErrNoBrokers is returned by Validate when consumption is enabled without brokers.
	ErrNoBrokers = errors.New("KAFKA_BROKERS must list at least one broker")

	// ErrTopicEmpty is returned by Validate for a blank topic.
	ErrTopicEmpty = errors.New("instrument events topic cannot be empty")

	// ErrInvalidEvent wraps decoding failures of a single message.
	ErrInvalidEvent = errors.New("invalid instrument event")
)

// Config holds the Kafka consumer settings. Consumption is off when no broker is set.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// LoadConfig reads KAFKA_BROKERS, INSTRUMENT_EVENTS_TOPIC and KAFKA_GROUP_ID.
func LoadConfig() *Config {
	return &Config{
		Brokers: config.GetEnvList("KAFKA_BROKERS", nil),
		Topic:   config.GetEnvStr("INSTRUMENT_EVENTS_TOPIC", defaultTopic),
		GroupID: config.GetEnvStr("KAFKA_GROUP_ID", defaultGroupID),
	}
}

// Enabled reports whether any broker is configured.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// Validate checks an enabled configuration.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return ErrNoBrokers
	}

	if strings.TrimSpace(c.Topic) == "" {
		return ErrTopicEmpty
	}

	return nil
}

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler reacts to decoded events. *collection.Orchestrator implements it.
type Handler interface {
	HandleInstrumentEvent(ctx context.Context, event collection.InstrumentEvent) bool
}

// Observer counts consumed events by result.
type Observer interface {
	ObserveEvent(result string)
}

// Consumer reads instrument events until its context is cancelled. Every message is
// committed after it was handled, including undecodable ones, so a malformed event
// never blocks the partition.
type Consumer struct {
	reader   MessageReader
	handler  Handler
	observer Observer
	logger   *slog.Logger
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(c *Consumer) {
		c.observer = o
	}
}

// WithLogger sets the consumer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer-group reader for cfg.
func NewConsumer(cfg *Config, handler Handler, opts ...Option) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := newConsumer(nil, handler, opts...)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    maxFetchBytes,
		MaxWait:     fetchMaxWait,
		StartOffset: kafka.FirstOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			c.logger.Error("kafka reader: " + fmt.Sprintf(msg, args...))
		}),
	})

	return c, nil
}

// NewConsumerWithReader creates a consumer over an existing reader.
func NewConsumerWithReader(reader MessageReader, handler Handler, opts ...Option) *Consumer {
	return newConsumer(reader, handler, opts...)
}

func newConsumer(reader MessageReader, handler Handler, opts ...Option) *Consumer {
	c := &Consumer{
		reader:  reader,
		handler: handler,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run consumes until ctx is done and returns nil on cancellation. Other fetch errors
// end the loop and are returned.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Instrument event consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Instrument event consumer stopped")

				return nil
			}

			return fmt.Errorf("fetch instrument event: %w", err)
		}

		c.handle(ctx, msg)

		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			c.logger.Error("Failed to commit instrument event",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()))
		}

		cancel()
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	event, err := Decode(msg.Value)
	if err != nil {
		c.logger.Warn("Discarding instrument event",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()))
		c.observe(ResultInvalid)

		return
	}

	if c.handler.HandleInstrumentEvent(ctx, event) {
		c.logger.Info("Instrument event triggered collection",
			slog.String("type", string(event.Type)),
			slog.String("instrument_id", event.InstrumentID))
		c.observe(ResultTriggered)

		return
	}

	c.observe(ResultIgnored)
}

func (c *Consumer) observe(result string) {
	if c.observer != nil {
		c.observer.ObserveEvent(result)
	}
}

// Decode parses one event payload.
func Decode(payload []byte) (collection.InstrumentEvent, error) {
	var event collection.InstrumentEvent

	if err := json.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	event.InstrumentID = strings.TrimSpace(event.InstrumentID)

	switch event.Type {
	case collection.EventCreated, collection.EventUpdated:
	default:
		return event, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, event.Type)
	}

	if event.InstrumentID == "" {
		return event, fmt.Errorf("%w: missing instrumentId", ErrInvalidEvent)
	}

	return event, nil
}
