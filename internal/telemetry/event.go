package telemetry

import "time"

// Security event types.
const (
	EventRefreshReuse       = "refresh_token_reuse"
	EventDeviceMismatch     = "refresh_device_mismatch"
	EventLogoutEverywhere   = "logout_everywhere"
	EventSessionEvicted     = "session_evicted"
	EventSessionLimitDenied = "session_limit_denied"
)

// SecurityEvent describes something a security team may want to alert on.
// It never carries token material.
type SecurityEvent struct {
	Type      string    `json:"type"`
	SubjectID string    `json:"subject_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	FamilyID  string    `json:"family_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Revoked   int64     `json:"revoked,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
