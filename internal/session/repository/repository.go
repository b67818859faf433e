package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"easybaby/backend/internal/session/domain"
)

var (
	// ErrEmptyPredicate is returned by bulk operations given a predicate with no conditions.
	// A bulk update or delete never applies to the whole table.
	ErrEmptyPredicate = errors.New("session repository: empty predicate")
	// ErrEmptyPatch is returned by UpdateWhere when the patch changes nothing.
	ErrEmptyPatch = errors.New("session repository: empty patch")
	// ErrDuplicateID is returned by Insert when a session with the same id already exists.
	ErrDuplicateID = errors.New("session repository: duplicate session id")
	// ErrInvalidOrder is returned by FindWhere for an order field outside the whitelist.
	ErrInvalidOrder = errors.New("session repository: invalid order field")
)

// Repository defines persistence for refresh sessions.
// Bulk writes are single predicate statements so concurrent callers never read-then-write.
type Repository interface {
	// FindByID returns the session for id, or nil if not found.
	// It returns an error only for storage failures, not for missing rows.
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	Insert(ctx context.Context, s *domain.Session) error
	// UpdateWhere applies patch to every row matching p and returns the affected count.
	UpdateWhere(ctx context.Context, p Predicate, patch Patch) (int64, error)
	// DeleteWhere hard-deletes every row matching p and returns the affected count.
	DeleteWhere(ctx context.Context, p Predicate) (int64, error)
	// FindWhere returns one ordered page of rows matching p and the full match count.
	// limit <= 0 returns no rows, only the count.
	FindWhere(ctx context.Context, p Predicate, order Order, offset, limit int) ([]*domain.Session, int64, error)
}

// Predicate selects sessions. Zero-valued fields are ignored; set fields are ANDed.
type Predicate struct {
	ID        string
	SubjectID string
	FamilyID  string
	// Revoked filters on is_revoked when non-nil.
	Revoked *bool
	// ExpiresBefore matches expires_at strictly before the given instant.
	ExpiresBefore *time.Time
	// IPContains and UserAgentContains are case-insensitive substring matches.
	IPContains        string
	UserAgentContains string
}

// IsEmpty reports whether p has no conditions.
func (p Predicate) IsEmpty() bool {
	return p.ID == "" && p.SubjectID == "" && p.FamilyID == "" && p.Revoked == nil &&
		p.ExpiresBefore == nil && p.IPContains == "" && p.UserAgentContains == ""
}

// Matches evaluates p against s in memory.
func (p Predicate) Matches(s *domain.Session) bool {
	if p.ID != "" && s.ID != p.ID {
		return false
	}
	if p.SubjectID != "" && s.SubjectID != p.SubjectID {
		return false
	}
	if p.FamilyID != "" && s.FamilyID != p.FamilyID {
		return false
	}
	if p.Revoked != nil && s.IsRevoked != *p.Revoked {
		return false
	}
	if p.ExpiresBefore != nil && !s.ExpiresAt.Before(*p.ExpiresBefore) {
		return false
	}
	if p.IPContains != "" && !containsFold(s.IPAddress, p.IPContains) {
		return false
	}
	if p.UserAgentContains != "" && !containsFold(s.UserAgent, p.UserAgentContains) {
		return false
	}
	return true
}

// Patch is the set of column changes UpdateWhere may apply. It can only revoke, never
// un-revoke, so read-modify-write races cannot resurrect a session.
type Patch struct {
	Revoke     bool
	LastUsedAt *time.Time
}

// IsEmpty reports whether patch changes nothing.
func (patch Patch) IsEmpty() bool {
	return !patch.Revoke && patch.LastUsedAt == nil
}

// Apply mutates s in memory.
func (patch Patch) Apply(s *domain.Session) {
	if patch.Revoke {
		s.IsRevoked = true
	}
	if patch.LastUsedAt != nil {
		t := *patch.LastUsedAt
		s.LastUsedAt = &t
	}
}

// Order is a whitelisted sort column and direction. Ties are broken by id in the same direction.
type Order struct {
	Field string
	Desc  bool
}

// ValidOrderField reports whether field may be used in Order.
func ValidOrderField(field string) bool {
	switch field {
	case domain.OrderByCreatedAt, domain.OrderByExpiresAt, domain.OrderByLastUsedAt,
		domain.OrderByIPAddress, domain.OrderByUserAgent:
		return true
	}
	return false
}

// Bool returns a pointer to b, for Predicate.Revoked.
func Bool(b bool) *bool { return &b }

func containsFold(v *string, sub string) bool {
	if v == nil {
		return false
	}
	return strings.Contains(strings.ToLower(*v), strings.ToLower(sub))
}
