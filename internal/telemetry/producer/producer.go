// Package producer publishes security events to a message broker.
package producer

import (
	"context"

	"easybaby/backend/internal/telemetry"
)

// Producer emits security events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	telemetry.EventEmitter
	// Close flushes and releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}

// Compile-time check.
var _ Producer = (*KafkaProducer)(nil)

// noop is returned when no broker is configured.
type noop struct{}

func (noop) Emit(context.Context, *telemetry.SecurityEvent) error { return nil }
func (noop) Close() error                                         { return nil }

// Noop returns a Producer that drops every event.
func Noop() Producer { return noop{} }
