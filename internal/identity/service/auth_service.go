package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"easybaby/backend/internal/audit"
	auditdomain "easybaby/backend/internal/audit/domain"
	"easybaby/backend/internal/policy/engine"
	"easybaby/backend/internal/security"
	sessiondomain "easybaby/backend/internal/session/domain"
	sessionservice "easybaby/backend/internal/session/service"
	"easybaby/backend/internal/telemetry"
	userdomain "easybaby/backend/internal/user/domain"
	userrepo "easybaby/backend/internal/user/repository"
)

// Sentinel errors for auth service; the HTTP handler maps them to status codes.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrInvalidInput           = errors.New("invalid input")
	ErrSessionLimitReached    = errors.New("session limit reached")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// AuthResult holds the outcome of Register (UserID only), Login, or Refresh.
type AuthResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresIn int64
	UserID           string
	SessionID        string
}

// LoginParams are the inputs of Login. IPAddress and UserAgent are recorded on the new session.
type LoginParams struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// RefreshParams are the inputs of Refresh.
type RefreshParams struct {
	RefreshToken string
	IPAddress    string
	UserAgent    string
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// Sessions is the subset of the session manager used by login, refresh and logout.
type Sessions interface {
	Generate(ctx context.Context, p sessionservice.GenerateParams) (*sessiondomain.TokenResult, error)
	Rotate(ctx context.Context, p sessionservice.RotateParams) (*sessiondomain.TokenResult, error)
	RevokeForSubject(ctx context.Context, subjectID, id string) error
	RevokeAllForSubject(ctx context.Context, subjectID string) (int64, error)
	HasReachedSessionLimit(ctx context.Context, subjectID string) (bool, error)
	CountActive(ctx context.Context, subjectID string) (int64, error)
	EvictOldest(ctx context.Context, subjectID string, n int64) (int64, error)
	MaxSessions() int
}

// Tokens issues access tokens and verifies refresh token signatures.
type Tokens interface {
	IssueAccess(userID, sessionID, familyID string) (token string, jti string, expiresAt time.Time, err error)
	VerifyRefresh(token string) (*security.TokenPayload, error)
}

// AuthService implements password register, login, refresh, and logout on top of refresh sessions.
type AuthService struct {
	users       UserRepo
	sessions    Sessions
	tokens      Tokens
	hasher      *security.Hasher
	policy      engine.Evaluator
	policyMode  string
	auditLogger audit.AuditLogger
	metrics     *telemetry.Metrics
	emitter     telemetry.EventEmitter
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithPolicy sets the session-limit policy and its configured mode (allow, evict_oldest, reject).
func WithPolicy(e engine.Evaluator, mode string) Option {
	return func(s *AuthService) {
		s.policy = e
		if mode != "" {
			s.policyMode = mode
		}
	}
}

func WithAuditLogger(l audit.AuditLogger) Option {
	return func(s *AuthService) { s.auditLogger = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *AuthService) { s.metrics = m }
}

func WithEmitter(e telemetry.EventEmitter) Option {
	return func(s *AuthService) { s.emitter = e }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *AuthService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(users UserRepo, sessions Sessions, tokens Tokens, hasher *security.Hasher, opts ...Option) *AuthService {
	s := &AuthService{
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		hasher:     hasher,
		policyMode: engine.ActionAllow,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a user with the given email and password.
// Returns AuthResult with UserID only; the caller must Login to get tokens.
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hashed,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, userrepo.ErrEmailTaken) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	s.audit(ctx, user.ID, auditdomain.ActionRegister, auditdomain.ResourceUser, nil)
	return &AuthResult{UserID: user.ID}, nil
}

// Login authenticates with email and password, applies the session-limit policy and
// returns a new refresh session plus an access token bound to it.
func (s *AuthService) Login(ctx context.Context, p LoginParams) (*AuthResult, error) {
	email := strings.TrimSpace(strings.ToLower(p.Email))
	if email == "" || p.Password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Keep timing comparable to a wrong password.
		_ = s.hasher.CompareDummy([]byte(p.Password))
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(p.Password)); err != nil {
		s.audit(ctx, user.ID, auditdomain.ActionLoginFailure, auditdomain.ResourceUser, nil)
		return nil, ErrInvalidCredentials
	}
	if !user.Active() {
		s.audit(ctx, user.ID, auditdomain.ActionLoginFailure, auditdomain.ResourceUser, map[string]string{"reason": "disabled"})
		return nil, ErrInvalidCredentials
	}
	if err := s.enforceSessionLimit(ctx, user.ID, p); err != nil {
		return nil, err
	}
	refresh, err := s.sessions.Generate(ctx, sessionservice.GenerateParams{
		SubjectID: user.ID,
		IPAddress: p.IPAddress,
		UserAgent: p.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	res, err := s.withAccess(user.ID, refresh)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, user.ID, auditdomain.ActionLogin, auditdomain.ResourceSession, map[string]string{"session_id": refresh.SessionID})
	return res, nil
}

// enforceSessionLimit asks the policy what to do when the subject is at its limit.
func (s *AuthService) enforceSessionLimit(ctx context.Context, userID string, p LoginParams) error {
	reached, err := s.sessions.HasReachedSessionLimit(ctx, userID)
	if err != nil || !reached {
		return err
	}
	active, err := s.sessions.CountActive(ctx, userID)
	if err != nil {
		return err
	}
	in := engine.SessionLimitInput{
		SubjectID:      userID,
		ActiveSessions: active,
		MaxSessions:    s.sessions.MaxSessions(),
		Mode:           s.policyMode,
	}
	decision := engine.SessionLimitDecision{Action: engine.ActionAllow}
	if s.policy != nil {
		decision, err = s.policy.EvaluateSessionLimit(ctx, in)
		if err != nil {
			return fmt.Errorf("session limit policy: %w", err)
		}
	} else if s.policyMode != engine.ActionAllow {
		decision = staticDecision(in)
	}
	s.metrics.SessionLimit(decision.Action)

	switch decision.Action {
	case engine.ActionReject:
		s.logger.Info("auth: login rejected at session limit",
			zap.String("user_id", userID), zap.Int64("active_sessions", active))
		s.audit(ctx, userID, auditdomain.ActionLoginDenied, auditdomain.ResourceSession, map[string]string{"reason": "session_limit"})
		s.metrics.SecurityEvent(telemetry.EventSessionLimitDenied)
		telemetry.EmitAsync(s.emitter, s.logger, &telemetry.SecurityEvent{
			Type:      telemetry.EventSessionLimitDenied,
			SubjectID: userID,
			IPAddress: p.IPAddress,
			UserAgent: p.UserAgent,
		})
		return ErrSessionLimitReached
	case engine.ActionEvictOldest:
		if _, err := s.sessions.EvictOldest(ctx, userID, decision.EvictCount); err != nil {
			return err
		}
	}
	return nil
}

// staticDecision mirrors the default policy when no evaluator is configured.
func staticDecision(in engine.SessionLimitInput) engine.SessionLimitDecision {
	switch in.Mode {
	case engine.ActionReject:
		return engine.SessionLimitDecision{Action: engine.ActionReject}
	case engine.ActionEvictOldest:
		return engine.SessionLimitDecision{
			Action:     engine.ActionEvictOldest,
			EvictCount: in.ActiveSessions - int64(in.MaxSessions) + 1,
		}
	default:
		return engine.SessionLimitDecision{Action: engine.ActionAllow}
	}
}

// Refresh rotates the refresh token and returns a new pair. Every rejection wraps
// sessionservice.ErrInvalidRefreshToken.
func (s *AuthService) Refresh(ctx context.Context, p RefreshParams) (*AuthResult, error) {
	if strings.TrimSpace(p.RefreshToken) == "" {
		return nil, &sessionservice.RefreshError{Reason: sessionservice.ReasonMalformed}
	}
	refresh, err := s.sessions.Rotate(ctx, sessionservice.RotateParams{
		Token:     p.RefreshToken,
		IPAddress: p.IPAddress,
		UserAgent: p.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	res, err := s.withAccess(refresh.SubjectID, refresh)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, refresh.SubjectID, auditdomain.ActionRefresh, auditdomain.ResourceSession, map[string]string{"session_id": refresh.SessionID})
	return res, nil
}

// Logout revokes the session of the given refresh token. Tokens that fail verification,
// belong to no session, or are already revoked are a no-op.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil || claims.Type != security.TokenTypeRefresh {
		return nil
	}
	err = s.sessions.RevokeForSubject(ctx, claims.Subject, claims.TokenID)
	if errors.Is(err, sessionservice.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.audit(ctx, claims.Subject, auditdomain.ActionLogout, auditdomain.ResourceSession, map[string]string{"session_id": claims.TokenID})
	return nil
}

// LogoutAll revokes every live session of userID and returns how many were revoked.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.RevokeAllForSubject(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.audit(ctx, userID, auditdomain.ActionLogoutAll, auditdomain.ResourceSession, map[string]string{"revoked": fmt.Sprint(n)})
	return n, nil
}

func (s *AuthService) withAccess(userID string, refresh *sessiondomain.TokenResult) (*AuthResult, error) {
	if userID == "" {
		return nil, sessionservice.ErrInvalidSubject
	}
	access, _, accessExp, err := s.tokens.IssueAccess(userID, refresh.SessionID, refresh.FamilyID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh.Token,
		RefreshExpiresIn: refresh.ExpiresIn,
		UserID:           userID,
		SessionID:        refresh.SessionID,
	}, nil
}

func (s *AuthService) audit(ctx context.Context, userID, action, resource string, metadata map[string]string) {
	if s.auditLogger == nil {
		return
	}
	s.auditLogger.LogEvent(ctx, userID, action, resource, metadata)
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return fmt.Errorf("%w: password must be at least 12 characters", ErrInvalidInput)
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	switch {
	case !hasUpper:
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrInvalidInput)
	case !hasLower:
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrInvalidInput)
	case !hasNumber:
		return fmt.Errorf("%w: password must contain at least one number", ErrInvalidInput)
	case !hasSymbol:
		return fmt.Errorf("%w: password must contain at least one symbol", ErrInvalidInput)
	}
	return nil
}
