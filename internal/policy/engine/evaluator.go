package engine

import "context"

// Session-limit actions returned by the policy.
const (
	ActionAllow       = "allow"
	ActionEvictOldest = "evict_oldest"
	ActionReject      = "reject"
)

// SessionLimitInput is the policy input for one login.
type SessionLimitInput struct {
	SubjectID string
	// ActiveSessions is the subject's non-revoked session count before the new login.
	ActiveSessions int64
	MaxSessions    int
	// Mode is the configured SESSION_LIMIT_POLICY (allow, evict_oldest or reject).
	Mode string
}

// SessionLimitDecision tells login what to do before issuing a new session.
type SessionLimitDecision struct {
	Action string
	// EvictCount is how many of the oldest sessions to revoke when Action is evict_oldest.
	EvictCount int64
}

// Evaluator decides how login enforces the per-subject session limit.
type Evaluator interface {
	EvaluateSessionLimit(ctx context.Context, in SessionLimitInput) (SessionLimitDecision, error)
}
