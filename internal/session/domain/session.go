package domain

import "time"

// Session is one issued refresh token. ID is the token's jti; FamilyID is shared by every
// session descended by rotation from the same login.
type Session struct {
	ID         string
	SubjectID  string
	FamilyID   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time // nil until the first successful validation
	IPAddress  *string
	UserAgent  *string
	IsRevoked  bool // monotonic: never reset to false once set
}

// Live reports whether s is neither revoked nor expired at now.
func (s *Session) Live(now time.Time) bool {
	return !s.IsRevoked && now.Before(s.ExpiresAt)
}

// Payload is the validated content of a refresh token.
type Payload struct {
	SubjectID string
	SessionID string
	FamilyID  string
}

// TokenResult is returned by Generate and Rotate. ExpiresIn is the refresh TTL in seconds.
type TokenResult struct {
	Token     string
	SubjectID string
	ExpiresIn int64
	SessionID string
	FamilyID  string
	ExpiresAt time.Time
}

// Sortable fields for ListQuery.OrderBy.
const (
	OrderByCreatedAt  = "created_at"
	OrderByExpiresAt  = "expires_at"
	OrderByLastUsedAt = "last_used_at"
	OrderByIPAddress  = "ip_address"
	OrderByUserAgent  = "user_agent"
)

// ListQuery filters, orders and paginates a subject's sessions. Page is 1-based.
// IPAddress and UserAgent are case-insensitive substring filters; FamilyID is exact.
// Desc nil means descending.
type ListQuery struct {
	Page      int
	Limit     int
	IPAddress string
	UserAgent string
	FamilyID  string
	OrderBy   string
	Desc      *bool
}

// Page is one page of sessions. Total is the full filtered count.
type Page struct {
	Items []*Session
	Total int64
	Page  int
	Limit int
}
