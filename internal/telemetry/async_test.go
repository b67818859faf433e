package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*SecurityEvent
	emitErr error
	done    chan struct{}
}

func newMockEmitter() *mockEventEmitter {
	return &mockEventEmitter{done: make(chan struct{}, 8)}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *SecurityEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	m.done <- struct{}{}
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*SecurityEvent(nil), m.events...)
}

func (m *mockEventEmitter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async emit")
	}
}

func TestEmitAsync_NilArguments(t *testing.T) {
	EmitAsync(nil, zap.NewNop(), &SecurityEvent{Type: EventRefreshReuse})

	em := newMockEmitter()
	EmitAsync(em, zap.NewNop(), nil)
	select {
	case <-em.done:
		t.Fatal("nil event should not be emitted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitAsync_DeliversAndStampsTime(t *testing.T) {
	em := newMockEmitter()
	EmitAsync(em, zap.NewNop(), &SecurityEvent{Type: EventRefreshReuse, SubjectID: "u1"})
	em.wait(t)

	events := em.getEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventRefreshReuse, events[0].Type)
	assert.False(t, events[0].CreatedAt.IsZero())
}

func TestEmitAsync_LogsFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	em := newMockEmitter()
	em.emitErr = errors.New("broker down")

	EmitAsync(em, zap.New(core), &SecurityEvent{Type: EventDeviceMismatch})
	em.wait(t)

	require.Eventually(t, func() bool { return logs.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	entry := logs.All()[0]
	assert.Equal(t, "security event delivery failed", entry.Message)
	assert.Equal(t, EventDeviceMismatch, entry.ContextMap()["event_type"])
}

func TestMultiEmitter(t *testing.T) {
	a, b := newMockEmitter(), newMockEmitter()
	a.emitErr = errors.New("a failed")
	m := MultiEmitter{a, nil, b}

	err := m.Emit(context.Background(), &SecurityEvent{Type: EventLogoutEverywhere})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Len(t, a.getEvents(), 1)
	assert.Len(t, b.getEvents(), 1, "later emitters still run after a failure")

	assert.NoError(t, MultiEmitter{}.Emit(context.Background(), &SecurityEvent{}))
}
