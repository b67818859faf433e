package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"easybaby/backend/internal/security"
	"easybaby/backend/internal/session/domain"
	"easybaby/backend/internal/session/repository"
	"easybaby/backend/internal/telemetry"
)

// Defaults used when the corresponding option is not set.
const (
	DefaultRefreshTTL  = 30 * 24 * time.Hour
	DefaultMaxSessions = 5
	DefaultPageSize    = 10
	MaxPageSize        = 100
)

// MaxPage keeps the list offset within int32 for every allowed page size.
const MaxPage = math.MaxInt32 / MaxPageSize

// Revocation scopes reported to metrics.
const (
	scopeSession = "session"
	scopeSubject = "subject"
	scopeFamily  = "family"
	scopeEvicted = "evicted"
)

// Clock returns the current time.
type Clock func() time.Time

// IDGenerator returns a new unique identifier.
type IDGenerator func() string

// Signer signs and verifies refresh token strings.
// VerifyRefresh must check the signature but return the payload whatever its type.
type Signer interface {
	SignRefresh(payload security.TokenPayload, ttl time.Duration) (string, error)
	VerifyRefresh(token string) (*security.TokenPayload, error)
}

// GenerateParams are the inputs of Generate. FamilyID continues an existing rotation chain when set.
type GenerateParams struct {
	SubjectID string
	IPAddress string
	UserAgent string
	FamilyID  string
}

// RotateParams are the inputs of Rotate. An empty SubjectID accepts the token's own subject.
type RotateParams struct {
	Token     string
	SubjectID string
	IPAddress string
	UserAgent string
}

// Manager issues, validates, rotates and revokes refresh sessions. It keeps no state of its own;
// every decision is read from or written to the Repository.
type Manager struct {
	repo        repository.Repository
	signer      Signer
	now         Clock
	newID       IDGenerator
	ttl         time.Duration
	maxSessions int
	logger      *zap.Logger
	tracer      trace.Tracer
	metrics     *telemetry.Metrics
	emitter     telemetry.EventEmitter
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source. Times are converted to UTC.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.now = c
		}
	}
}

// WithIDGenerator sets the generator for session and family ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) {
		if g != nil {
			m.newID = g
		}
	}
}

// WithTTL sets the refresh session lifetime. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithMaxSessions sets the per-subject session limit. Zero or less disables the limit.
func WithMaxSessions(n int) Option {
	return func(m *Manager) { m.maxSessions = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithEmitter sets the sink for security events. Events are emitted asynchronously.
func WithEmitter(e telemetry.EventEmitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// NewManager returns a Manager over repo that signs tokens with signer.
func NewManager(repo repository.Repository, signer Signer, opts ...Option) *Manager {
	m := &Manager{
		repo:        repo,
		signer:      signer,
		now:         time.Now,
		newID:       uuid.NewString,
		ttl:         DefaultRefreshTTL,
		maxSessions: DefaultMaxSessions,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("easybaby/backend/internal/session/service"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the refresh session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// MaxSessions returns the per-subject session limit; zero or less means unlimited.
func (m *Manager) MaxSessions() int {
	return m.maxSessions
}

// Generate creates a new session and returns its signed refresh token.
// It has no effect on any other session.
func (m *Manager) Generate(ctx context.Context, p GenerateParams) (*domain.TokenResult, error) {
	ctx, span := m.tracer.Start(ctx, "session.Generate")
	defer span.End()
	res, err := m.generate(ctx, p)
	endSpan(span, err)
	return res, err
}

func (m *Manager) generate(ctx context.Context, p GenerateParams) (*domain.TokenResult, error) {
	if p.SubjectID == "" {
		return nil, ErrInvalidSubject
	}
	now := m.now().UTC()
	s := &domain.Session{
		ID:        m.newID(),
		SubjectID: p.SubjectID,
		FamilyID:  p.FamilyID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
		IPAddress: optional(p.IPAddress),
		UserAgent: optional(p.UserAgent),
	}
	if s.FamilyID == "" {
		s.FamilyID = m.newID()
	}
	token, err := m.signer.SignRefresh(security.TokenPayload{
		Subject:  s.SubjectID,
		TokenID:  s.ID,
		Type:     security.TokenTypeRefresh,
		FamilyID: s.FamilyID,
	}, m.ttl)
	if err != nil {
		return nil, fmt.Errorf("session: sign refresh token: %w", err)
	}
	if err := m.repo.Insert(ctx, s); err != nil {
		return nil, fmt.Errorf("session: insert: %w", err)
	}
	m.metrics.SessionIssued()
	m.logger.Debug("session: issued",
		zap.String("subject_id", s.SubjectID),
		zap.String("session_id", s.ID),
		zap.String("family_id", s.FamilyID),
	)
	return &domain.TokenResult{
		Token:     token,
		SubjectID: s.SubjectID,
		ExpiresIn: int64(m.ttl / time.Second),
		SessionID: s.ID,
		FamilyID:  s.FamilyID,
		ExpiresAt: s.ExpiresAt,
	}, nil
}

// Validate checks token against its signature and its stored session and, on success,
// records the use. userAgent may be empty. Every failure is a *RefreshError.
func (m *Manager) Validate(ctx context.Context, token, userAgent string) (*domain.Payload, error) {
	ctx, span := m.tracer.Start(ctx, "session.Validate")
	defer span.End()
	p, err := m.validate(ctx, token, userAgent, "")
	endSpan(span, err)
	return p, err
}

// validate runs the ordered checks. Cryptographic and shape checks come first, then reuse
// detection, and only then expiry and device binding, so a replayed expired token still
// revokes its family.
func (m *Manager) validate(ctx context.Context, token, userAgent, subjectID string) (p *domain.Payload, err error) {
	defer func() { m.metrics.Validation(outcome(err)) }()
	log := m.logger.With(zap.String("token_fp", security.TokenFingerprint(token)))
	// Stored agents are trimmed by optional; compare like with like.
	userAgent = strings.TrimSpace(userAgent)

	claims, err := m.signer.VerifyRefresh(token)
	if err != nil {
		log.Debug("session: refresh token failed verification", zap.Error(err))
		return nil, &RefreshError{Reason: ReasonMalformed, Err: err}
	}
	if claims.Type != security.TokenTypeRefresh {
		return nil, &RefreshError{Reason: ReasonWrongType, SessionID: claims.TokenID}
	}
	if subjectID != "" && claims.Subject != subjectID {
		log.Warn("session: refresh token presented for another subject",
			zap.String("session_id", claims.TokenID), zap.String("subject_id", subjectID))
		return nil, &RefreshError{Reason: ReasonSubjectMismatch, SessionID: claims.TokenID, FamilyID: claims.FamilyID}
	}

	s, err := m.repo.FindByID(ctx, claims.TokenID)
	if err != nil {
		log.Error("session: lookup failed", zap.String("session_id", claims.TokenID), zap.Error(err))
		return nil, &RefreshError{Reason: ReasonStoreFailure, SessionID: claims.TokenID, Err: err}
	}
	if s == nil {
		return nil, &RefreshError{Reason: ReasonUnknown, SessionID: claims.TokenID}
	}
	if s.IsRevoked {
		return nil, m.reuseDetected(ctx, s, userAgent)
	}

	now := m.now().UTC()
	if !now.Before(s.ExpiresAt) {
		return nil, &RefreshError{Reason: ReasonExpired, SessionID: s.ID, FamilyID: s.FamilyID}
	}
	if userAgent != "" && s.UserAgent != nil && *s.UserAgent != "" && *s.UserAgent != userAgent {
		return nil, m.deviceMismatch(ctx, s, userAgent)
	}

	n, err := m.repo.UpdateWhere(ctx,
		repository.Predicate{ID: s.ID, Revoked: repository.Bool(false)},
		repository.Patch{LastUsedAt: &now},
	)
	if err != nil {
		log.Error("session: touch failed", zap.String("session_id", s.ID), zap.Error(err))
		return nil, &RefreshError{Reason: ReasonStoreFailure, SessionID: s.ID, FamilyID: s.FamilyID, Err: err}
	}
	if n == 0 {
		return nil, m.missedUpdate(ctx, s, userAgent)
	}
	return &domain.Payload{SubjectID: s.SubjectID, SessionID: s.ID, FamilyID: s.FamilyID}, nil
}

// Rotate validates params.Token, revokes its session and issues a successor in the same family.
// Validation failures are returned unchanged. If the predecessor was revoked concurrently the
// rotation is treated as reuse and the family is revoked.
func (m *Manager) Rotate(ctx context.Context, params RotateParams) (*domain.TokenResult, error) {
	ctx, span := m.tracer.Start(ctx, "session.Rotate")
	defer span.End()
	res, err := m.rotate(ctx, params)
	endSpan(span, err)
	return res, err
}

func (m *Manager) rotate(ctx context.Context, params RotateParams) (*domain.TokenResult, error) {
	userAgent := strings.TrimSpace(params.UserAgent)
	p, err := m.validate(ctx, params.Token, userAgent, params.SubjectID)
	if err != nil {
		return nil, err
	}
	n, err := m.repo.UpdateWhere(ctx,
		repository.Predicate{ID: p.SessionID, Revoked: repository.Bool(false)},
		repository.Patch{Revoke: true},
	)
	if err != nil {
		m.logger.Error("session: revoke predecessor failed", zap.String("session_id", p.SessionID), zap.Error(err))
		return nil, &RefreshError{Reason: ReasonStoreFailure, SessionID: p.SessionID, FamilyID: p.FamilyID, Err: err}
	}
	if n == 0 {
		return nil, m.missedUpdate(ctx, &domain.Session{ID: p.SessionID, SubjectID: p.SubjectID, FamilyID: p.FamilyID}, userAgent)
	}
	m.metrics.Revoked(scopeSession, n)

	res, err := m.generate(ctx, GenerateParams{
		SubjectID: p.SubjectID,
		IPAddress: params.IPAddress,
		UserAgent: userAgent,
		FamilyID:  p.FamilyID,
	})
	if err != nil {
		m.logger.Error("session: issue successor failed",
			zap.String("session_id", p.SessionID), zap.String("family_id", p.FamilyID), zap.Error(err))
		return nil, &RefreshError{Reason: ReasonStoreFailure, SessionID: p.SessionID, FamilyID: p.FamilyID, Err: err}
	}
	return res, nil
}

// missedUpdate resolves a conditional update on s that matched no row. A row deleted by
// cleanup since the read is an unknown token and revokes nothing; a row revoked by a
// concurrent caller is reuse.
func (m *Manager) missedUpdate(ctx context.Context, s *domain.Session, userAgent string) error {
	cur, err := m.repo.FindByID(ctx, s.ID)
	if err != nil {
		m.logger.Error("session: re-read after missed update failed", zap.String("session_id", s.ID), zap.Error(err))
		return &RefreshError{Reason: ReasonStoreFailure, SessionID: s.ID, FamilyID: s.FamilyID, Err: err}
	}
	if cur == nil {
		return &RefreshError{Reason: ReasonUnknown, SessionID: s.ID, FamilyID: s.FamilyID}
	}
	return m.reuseDetected(ctx, cur, userAgent)
}

// reuseDetected revokes the whole family of s and returns the reuse error.
// A failed family revoke is logged; the caller still gets the reuse error.
func (m *Manager) reuseDetected(ctx context.Context, s *domain.Session, userAgent string) error {
	n, err := m.repo.UpdateWhere(ctx,
		repository.Predicate{FamilyID: s.FamilyID, Revoked: repository.Bool(false)},
		repository.Patch{Revoke: true},
	)
	fields := []zap.Field{
		zap.String("subject_id", s.SubjectID),
		zap.String("session_id", s.ID),
		zap.String("family_id", s.FamilyID),
		zap.Int64("revoked", n),
	}
	if err != nil {
		m.logger.Error("session: refresh token reuse detected; family revoke failed", append(fields, zap.Error(err))...)
	} else {
		m.logger.Warn("session: refresh token reuse detected; family revoked", fields...)
		m.metrics.Revoked(scopeFamily, n)
	}
	m.emit(&telemetry.SecurityEvent{
		Type:      telemetry.EventRefreshReuse,
		SubjectID: s.SubjectID,
		SessionID: s.ID,
		FamilyID:  s.FamilyID,
		Reason:    string(ReasonReuse),
		UserAgent: userAgent,
		Revoked:   n,
	})
	return &RefreshError{Reason: ReasonReuse, SessionID: s.ID, FamilyID: s.FamilyID, Err: err}
}

// deviceMismatch revokes only s and returns the device mismatch error.
func (m *Manager) deviceMismatch(ctx context.Context, s *domain.Session, userAgent string) error {
	n, err := m.repo.UpdateWhere(ctx,
		repository.Predicate{ID: s.ID, Revoked: repository.Bool(false)},
		repository.Patch{Revoke: true},
	)
	fields := []zap.Field{
		zap.String("subject_id", s.SubjectID),
		zap.String("session_id", s.ID),
		zap.String("family_id", s.FamilyID),
	}
	if err != nil {
		m.logger.Error("session: user agent mismatch; revoke failed", append(fields, zap.Error(err))...)
	} else {
		m.logger.Warn("session: user agent mismatch; session revoked", fields...)
		m.metrics.Revoked(scopeSession, n)
	}
	m.emit(&telemetry.SecurityEvent{
		Type:      telemetry.EventDeviceMismatch,
		SubjectID: s.SubjectID,
		SessionID: s.ID,
		FamilyID:  s.FamilyID,
		Reason:    string(ReasonDeviceMismatch),
		UserAgent: userAgent,
		Revoked:   n,
	})
	return &RefreshError{Reason: ReasonDeviceMismatch, SessionID: s.ID, FamilyID: s.FamilyID, Err: err}
}

// RevokeByID revokes the session with id. Missing or already revoked sessions are a no-op.
func (m *Manager) RevokeByID(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	n, err := m.repo.UpdateWhere(ctx,
		repository.Predicate{ID: id, Revoked: repository.Bool(false)},
		repository.Patch{Revoke: true},
	)
	if err != nil {
		return fmt.Errorf("session: revoke %s: %w", id, err)
	}
	m.metrics.Revoked(scopeSession, n)
	return nil
}

// RevokeForSubject revokes session id only if it belongs to subjectID.
// Returns ErrSessionNotFound if no such session is owned by the subject; an already revoked
// session of the subject is a no-op.
func (m *Manager) RevokeForSubject(ctx context.Context, subjectID, id string) error {
	if subjectID == "" {
		return ErrInvalidSubject
	}
	if id == "" {
		return ErrSessionNotFound
	}
	n, err := m.repo.UpdateWhere(ctx,
		repository.Predicate{ID: id, SubjectID: subjectID, Revoked: repository.Bool(false)},
		repository.Patch{Revoke: true},
	)
	if err != nil {
		return fmt.Errorf("session: revoke %s: %w", id, err)
	}
	if n > 0 {
		m.metrics.Revoked(scopeSession, n)
		return nil
	}
	s, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("session: find %s: %w", id, err)
	}
	if s == nil || s.SubjectID != subjectID {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAllForSubject revokes every live session of subjectID ("log out everywhere")
// and returns how many were revoked.
func (m *Manager) RevokeAllForSubject(ctx context.Context, subjectID string) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "session.RevokeAllForSubject")
	defer span.End()
	if subjectID == "" {
		endSpan(span, ErrInvalidSubject)
		return 0, ErrInvalidSubject
	}
	n, err := m.repo.UpdateWhere(ctx,
		repository.Predicate{SubjectID: subjectID, Revoked: repository.Bool(false)},
		repository.Patch{Revoke: true},
	)
	if err != nil {
		err = fmt.Errorf("session: revoke all for subject: %w", err)
		endSpan(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("session.revoked", n))
	m.metrics.Revoked(scopeSubject, n)
	m.logger.Info("session: revoked all sessions for subject", zap.String("subject_id", subjectID), zap.Int64("revoked", n))
	m.emit(&telemetry.SecurityEvent{
		Type:      telemetry.EventLogoutEverywhere,
		SubjectID: subjectID,
		Revoked:   n,
	})
	return n, nil
}

// RevokeFamily revokes every live session in familyID and returns how many were revoked.
func (m *Manager) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	if familyID == "" {
		return 0, ErrInvalidFamily
	}
	n, err := m.repo.UpdateWhere(ctx,
		repository.Predicate{FamilyID: familyID, Revoked: repository.Bool(false)},
		repository.Patch{Revoke: true},
	)
	if err != nil {
		return 0, fmt.Errorf("session: revoke family: %w", err)
	}
	m.metrics.Revoked(scopeFamily, n)
	return n, nil
}

// ListSessions returns one page of the subject's non-revoked sessions.
// Sessions that expired but were not yet cleaned up are included.
func (m *Manager) ListSessions(ctx context.Context, subjectID string, q domain.ListQuery) (*domain.Page, error) {
	if subjectID == "" {
		return nil, ErrInvalidSubject
	}
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, err
	}
	pred := repository.Predicate{
		SubjectID:         subjectID,
		FamilyID:          q.FamilyID,
		Revoked:           repository.Bool(false),
		IPContains:        q.IPAddress,
		UserAgentContains: q.UserAgent,
	}
	items, total, err := m.repo.FindWhere(ctx, pred,
		repository.Order{Field: q.OrderBy, Desc: *q.Desc},
		(q.Page-1)*q.Limit, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return &domain.Page{Items: items, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

func normalizeQuery(q domain.ListQuery) (domain.ListQuery, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > MaxPage {
		return q, fmt.Errorf("%w: page must not exceed %d", ErrInvalidListQuery, MaxPage)
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	q.OrderBy = strings.ToLower(strings.TrimSpace(q.OrderBy))
	if q.OrderBy == "" {
		q.OrderBy = domain.OrderByCreatedAt
	}
	if !repository.ValidOrderField(q.OrderBy) {
		return q, fmt.Errorf("%w: unknown order field %q", ErrInvalidListQuery, q.OrderBy)
	}
	if q.Desc == nil {
		q.Desc = repository.Bool(true)
	}
	return q, nil
}

// CountActive returns the number of the subject's non-revoked sessions.
func (m *Manager) CountActive(ctx context.Context, subjectID string) (int64, error) {
	if subjectID == "" {
		return 0, ErrInvalidSubject
	}
	_, total, err := m.repo.FindWhere(ctx,
		repository.Predicate{SubjectID: subjectID, Revoked: repository.Bool(false)},
		repository.Order{Field: domain.OrderByCreatedAt}, 0, 0,
	)
	if err != nil {
		return 0, fmt.Errorf("session: count: %w", err)
	}
	return total, nil
}

// HasReachedSessionLimit reports whether the subject holds at least MaxSessions
// non-revoked sessions. Always false when the limit is disabled.
func (m *Manager) HasReachedSessionLimit(ctx context.Context, subjectID string) (bool, error) {
	if m.maxSessions <= 0 {
		return false, nil
	}
	n, err := m.CountActive(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return n >= int64(m.maxSessions), nil
}

// EvictOldest revokes up to n of the subject's oldest non-revoked sessions and returns
// how many were revoked.
func (m *Manager) EvictOldest(ctx context.Context, subjectID string, n int64) (int64, error) {
	if subjectID == "" {
		return 0, ErrInvalidSubject
	}
	if n <= 0 {
		return 0, nil
	}
	oldest, _, err := m.repo.FindWhere(ctx,
		repository.Predicate{SubjectID: subjectID, Revoked: repository.Bool(false)},
		repository.Order{Field: domain.OrderByCreatedAt}, 0, int(n),
	)
	if err != nil {
		return 0, fmt.Errorf("session: find oldest: %w", err)
	}
	var evicted int64
	for _, s := range oldest {
		c, err := m.repo.UpdateWhere(ctx,
			repository.Predicate{ID: s.ID, Revoked: repository.Bool(false)},
			repository.Patch{Revoke: true},
		)
		if err != nil {
			return evicted, fmt.Errorf("session: evict %s: %w", s.ID, err)
		}
		evicted += c
	}
	if evicted > 0 {
		m.metrics.Revoked(scopeEvicted, evicted)
		m.logger.Info("session: evicted oldest sessions", zap.String("subject_id", subjectID), zap.Int64("evicted", evicted))
		m.emit(&telemetry.SecurityEvent{
			Type:      telemetry.EventSessionEvicted,
			SubjectID: subjectID,
			Revoked:   evicted,
		})
	}
	return evicted, nil
}

// CleanupExpired hard-deletes every session whose expiry has passed, revoked or not,
// and returns the number removed.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "session.CleanupExpired")
	defer span.End()
	now := m.now().UTC()
	n, err := m.repo.DeleteWhere(ctx, repository.Predicate{ExpiresBefore: &now})
	if err != nil {
		err = fmt.Errorf("session: cleanup expired: %w", err)
		endSpan(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("session.deleted", n))
	m.metrics.Cleaned(n)
	return n, nil
}

func (m *Manager) emit(event *telemetry.SecurityEvent) {
	m.metrics.SecurityEvent(event.Type)
	telemetry.EmitAsync(m.emitter, m.logger, event)
}

func endSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	if reason := ReasonOf(err); reason != "" {
		span.SetAttributes(attribute.String("session.reason", string(reason)))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if reason := ReasonOf(err); reason != "" {
		return string(reason)
	}
	return "error"
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
