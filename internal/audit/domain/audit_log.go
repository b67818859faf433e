package domain

import "time"

// AuditLog represents an audit event. Metadata is a JSON object or empty.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// Audit actions.
const (
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionLoginFailure   = "login_failure"
	ActionLoginDenied    = "login_denied"
	ActionRefresh        = "refresh"
	ActionLogout         = "logout"
	ActionLogoutAll      = "logout_all"
	ActionSessionRevoked = "session_revoked"
	ActionSecurityEvent  = "security_event"
)

// Audit resources.
const (
	ResourceUser    = "user"
	ResourceSession = "session"
)
