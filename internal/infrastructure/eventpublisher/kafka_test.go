package eventpublisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/ledgerbridge/internal/domain"
)

var _ Publisher = (*KafkaPublisher)(nil)

type stubWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *stubWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaPublisherValidatesConfig(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "transfers"})
	assert.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "transfers"})
	require.NoError(t, err)
	assert.Equal(t, "transfers", p.topic)
}

func TestKafkaPublisherKeysByTransfer(t *testing.T) {
	w := &stubWriter{}
	p := &KafkaPublisher{writer: w, topic: "transfers"}

	err := p.Publish(context.Background(), &domain.OutboxEvent{
		ID:            "evt-1",
		AggregateID:   "tr-1",
		AggregateType: domain.AggregateTypeTransfer,
		EventType:     domain.EventTypeTransferCompensated,
		Payload:       map[string]any{"state": "COMPENSATED"},
		CreatedAt:     testNow,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "tr-1", string(msg.Key))
	assert.Equal(t, testNow, msg.Time)
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event_type", Value: []byte(domain.EventTypeTransferCompensated)})

	var decoded eventMessage
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "evt-1", decoded.ID)
	assert.Equal(t, "COMPENSATED", decoded.Payload["state"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	p := &KafkaPublisher{writer: &stubWriter{err: boom}, topic: "transfers"}

	err := p.Publish(context.Background(), &domain.OutboxEvent{ID: "evt-1"})
	assert.ErrorIs(t, err, boom)
}
