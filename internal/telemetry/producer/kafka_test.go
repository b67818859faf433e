package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easybaby/backend/internal/telemetry"
)

type fakeWriter struct {
	msgs     []kafka.Message
	err      error
	closed   int
	deadline bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, w.deadline = ctx.Deadline()
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed++
	return nil
}

func TestNewKafkaProducer_RequiresBrokersAndTopic(t *testing.T) {
	_, err := NewKafkaProducer(nil, "topic")
	assert.Error(t, err)
	_, err = NewKafkaProducer([]string{"localhost:9092"}, "")
	assert.Error(t, err)

	p, err := NewKafkaProducer([]string{"localhost:9092"}, "security")
	require.NoError(t, err)
	assert.Equal(t, "security", p.Topic())
	assert.NoError(t, p.Close())
}

func TestKafkaProducer_Emit(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, topic: "security"}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.Emit(context.Background(), &telemetry.SecurityEvent{
		Type: telemetry.EventRefreshReuse, SubjectID: "u1", FamilyID: "f1", Revoked: 3, CreatedAt: at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.True(t, w.deadline, "write must be bounded by a timeout")

	msg := w.msgs[0]
	assert.Equal(t, "u1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, telemetry.EventRefreshReuse, string(msg.Headers[0].Value))

	var decoded telemetry.SecurityEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "f1", decoded.FamilyID)
	assert.Equal(t, int64(3), decoded.Revoked)
}

func TestKafkaProducer_EmitError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := &KafkaProducer{writer: w, topic: "security"}
	assert.EqualError(t, p.Emit(context.Background(), &telemetry.SecurityEvent{Type: "x"}), "leader not available")
}

func TestKafkaProducer_NilSafety(t *testing.T) {
	var p *KafkaProducer
	assert.NoError(t, p.Emit(context.Background(), &telemetry.SecurityEvent{}))
	assert.NoError(t, p.Close())

	w := &fakeWriter{}
	p = &KafkaProducer{writer: w}
	assert.NoError(t, p.Emit(context.Background(), nil))
	assert.Empty(t, w.msgs)
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	assert.Equal(t, 1, w.closed)
}

func TestNoop(t *testing.T) {
	p := Noop()
	assert.NoError(t, p.Emit(context.Background(), &telemetry.SecurityEvent{}))
	assert.NoError(t, p.Close())
}
