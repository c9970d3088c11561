package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damsafe-io/damsafe/internal/collection"
)

var errBrokerDown = errors.New("broker down")

// fakeReader serves queued messages, then blocks until ctx ends or returns fetchErr.
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	fetchErr  error
	closed    bool
	drained   chan struct{}
}

func newFakeReader(payloads ...string) *fakeReader {
	r := &fakeReader{drained: make(chan struct{})}
	for i, p := range payloads {
		r.messages = append(r.messages, kafka.Message{Offset: int64(i), Value: []byte(p)})
	}

	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()

		return msg, nil
	}

	fetchErr := r.fetchErr
	r.mu.Unlock()

	if fetchErr != nil {
		return kafka.Message{}, fetchErr
	}

	select {
	case <-r.drained:
	default:
		close(r.drained)
	}

	<-ctx.Done()

	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}

	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]int64(nil), r.committed...)
}

type recordingHandler struct {
	mu     sync.Mutex
	events []collection.InstrumentEvent
}

func (h *recordingHandler) HandleInstrumentEvent(_ context.Context, event collection.InstrumentEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, event)

	return event.TriggersCollection()
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveEvent(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.counts == nil {
		o.counts = make(map[string]int)
	}

	o.counts[result]++
}

func TestConsumer_Run(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	reader := newFakeReader(
		`{"type":"created","instrumentId":"I1","linimetricRuler":true}`,
		`{"type":"updated","instrumentId":"I2","linimetricRuler":true,"previousLinimetricRuler":true}`,
		`not json`,
		`{"type":"deleted","instrumentId":"I3"}`,
		`{"type":"updated","instrumentId":" I4 ","linimetricRuler":true}`,
	)
	handler := &recordingHandler{}
	observer := &countingObserver{}

	consumer := NewConsumerWithReader(reader, handler, WithObserver(observer))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- consumer.Run(ctx) }()

	<-reader.drained
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{0, 1, 2, 3, 4}, reader.commits(), "every message is committed")

	require.Len(t, handler.events, 3, "only decodable events reach the handler")
	assert.Equal(t, "I4", handler.events[2].InstrumentID)

	assert.Equal(t, 2, observer.counts[ResultTriggered])
	assert.Equal(t, 1, observer.counts[ResultIgnored])
	assert.Equal(t, 2, observer.counts[ResultInvalid])

	require.NoError(t, consumer.Close())
	assert.True(t, reader.closed)
}

func TestConsumer_RunReturnsFetchError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	reader := newFakeReader()
	reader.fetchErr = errBrokerDown

	err := NewConsumerWithReader(reader, &recordingHandler{}).Run(t.Context())
	require.ErrorIs(t, err, errBrokerDown)
}

func TestDecode(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "created", payload: `{"type":"created","instrumentId":"I1","linimetricRuler":true}`},
		{name: "updated", payload: `{"type":"updated","instrumentId":"I1"}`},
		{name: "malformed", payload: `{"type":`, wantErr: true},
		{name: "unknown type", payload: `{"type":"renamed","instrumentId":"I1"}`, wantErr: true},
		{name: "missing instrument", payload: `{"type":"created","instrumentId":"  "}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidEvent)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("KAFKA_BROKERS", "")

	cfg := LoadConfig()
	assert.False(t, cfg.Enabled())
	assert.Equal(t, "instrument-events", cfg.Topic)
	assert.Equal(t, "damsafe-collector", cfg.GroupID)
	require.ErrorIs(t, cfg.Validate(), ErrNoBrokers)

	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("INSTRUMENT_EVENTS_TOPIC", "instruments")

	cfg = LoadConfig()
	assert.True(t, cfg.Enabled())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, "instruments", cfg.Topic)
	require.NoError(t, cfg.Validate())

	cfg.Topic = " "
	require.ErrorIs(t, cfg.Validate(), ErrTopicEmpty)

	_, err := NewConsumer(&Config{}, &recordingHandler{})
	require.ErrorIs(t, err, ErrNoBrokers)
}
