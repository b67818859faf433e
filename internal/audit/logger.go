package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"easybaby/backend/internal/audit/domain"
	auditrepo "easybaby/backend/internal/audit/repository"
	"easybaby/backend/internal/telemetry"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource. Used by auth and session code paths.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
// It also implements telemetry.EventEmitter so security events land in the audit trail.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	logger      *zap.Logger
	now         func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, logger: logger, now: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	l.write(ctx, &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  encodeMetadata(metadata),
		CreatedAt: l.now().UTC(),
	})
}

// Emit records a security event as an audit row. It never fails: security event sinks are best-effort.
func (l *Logger) Emit(ctx context.Context, event *telemetry.SecurityEvent) error {
	if l == nil || l.repo == nil || event == nil {
		return nil
	}
	meta := map[string]string{"type": event.Type}
	for k, v := range map[string]string{
		"session_id": event.SessionID,
		"family_id":  event.FamilyID,
		"reason":     event.Reason,
		"user_agent": event.UserAgent,
	} {
		if v != "" {
			meta[k] = v
		}
	}
	created := event.CreatedAt
	if created.IsZero() {
		created = l.now()
	}
	l.write(ctx, &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    event.SubjectID,
		Action:    domain.ActionSecurityEvent,
		Resource:  domain.ResourceSession,
		IP:        event.IPAddress,
		Metadata:  encodeMetadata(meta),
		CreatedAt: created.UTC(),
	})
	return nil
}

func (l *Logger) write(ctx context.Context, entry *domain.AuditLog) {
	if err := l.repo.Create(ctx, entry); err != nil {
		l.logger.Warn("audit: failed to log event",
			zap.String("action", entry.Action),
			zap.String("resource", entry.Resource),
			zap.Error(err),
		)
	}
}

func encodeMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(b)
}
