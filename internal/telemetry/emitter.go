package telemetry

import (
	"context"
	"errors"
)

// EventEmitter emits security events (e.g. to Kafka or OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *SecurityEvent) error
}

// MultiEmitter fans one event out to every non-nil emitter and joins their errors.
type MultiEmitter []EventEmitter

// Emit sends event to every emitter, even after one fails.
func (m MultiEmitter) Emit(ctx context.Context, event *SecurityEvent) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event *SecurityEvent) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, event *SecurityEvent) error {
	return f(ctx, event)
}
