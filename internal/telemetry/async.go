package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// emitTimeout bounds one background delivery of a security event.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long cmd/server waits after the listeners close before
// closing the event sinks. It matches emitTimeout so queued deliveries can finish.
const ShutdownDrainDuration = emitTimeout

// EmitAsync delivers event on a background goroutine and returns at once.
// A nil emitter or event is ignored. Delivery uses its own deadline, so a finished request
// does not cancel it; failures are logged with the event's session and family ids.
func EmitAsync(emitter EventEmitter, logger *zap.Logger, event *SecurityEvent) {
	if emitter == nil || event == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		err := emitter.Emit(ctx, event)
		if err == nil || logger == nil {
			return
		}
		logger.Warn("security event delivery failed",
			zap.String("event_type", event.Type),
			zap.String("session_id", event.SessionID),
			zap.String("family_id", event.FamilyID),
			zap.Error(err),
		)
	}()
}
