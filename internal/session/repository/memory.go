package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"easybaby/backend/internal/session/domain"
)

// MemoryRepository is an in-process Repository for local development and tests.
// Every method holds one mutex, so each call is atomic like a single SQL statement.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

// FindByID returns a copy of the session for id, or nil if not found.
func (r *MemoryRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return clone(s), nil
}

// Insert stores a copy of s. Returns ErrDuplicateID if the id is taken.
func (r *MemoryRepository) Insert(ctx context.Context, s *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return ErrDuplicateID
	}
	r.sessions[s.ID] = clone(s)
	return nil
}

// UpdateWhere applies patch to every session matching p.
func (r *MemoryRepository) UpdateWhere(ctx context.Context, p Predicate, patch Patch) (int64, error) {
	if p.IsEmpty() {
		return 0, ErrEmptyPredicate
	}
	if patch.IsEmpty() {
		return 0, ErrEmptyPatch
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if p.Matches(s) {
			patch.Apply(s)
			n++
		}
	}
	return n, nil
}

// DeleteWhere removes every session matching p.
func (r *MemoryRepository) DeleteWhere(ctx context.Context, p Predicate) (int64, error) {
	if p.IsEmpty() {
		return 0, ErrEmptyPredicate
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if p.Matches(s) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// FindWhere returns copies of the matching sessions, ordered and paginated.
// NULL values sort after non-NULL ones ascending and before them descending, as in Postgres.
func (r *MemoryRepository) FindWhere(ctx context.Context, p Predicate, order Order, offset, limit int) ([]*domain.Session, int64, error) {
	if !ValidOrderField(order.Field) {
		return nil, 0, ErrInvalidOrder
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.Lock()
	matched := make([]*domain.Session, 0)
	for _, s := range r.sessions {
		if p.Matches(s) {
			matched = append(matched, clone(s))
		}
	}
	r.mu.Unlock()

	slices.SortFunc(matched, func(a, b *domain.Session) int {
		c := compareField(a, b, order.Field)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if order.Desc {
			return -c
		}
		return c
	})

	total := int64(len(matched))
	if limit <= 0 || offset >= len(matched) {
		return []*domain.Session{}, total, nil
	}
	if offset < 0 {
		offset = 0
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], total, nil
}

// Len returns the number of stored sessions, revoked or not.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func compareField(a, b *domain.Session, field string) int {
	switch field {
	case domain.OrderByExpiresAt:
		return a.ExpiresAt.Compare(b.ExpiresAt)
	case domain.OrderByLastUsedAt:
		return compareNullable(a.LastUsedAt, b.LastUsedAt, func(x, y time.Time) int { return x.Compare(y) })
	case domain.OrderByIPAddress:
		return compareNullable(a.IPAddress, b.IPAddress, cmp.Compare[string])
	case domain.OrderByUserAgent:
		return compareNullable(a.UserAgent, b.UserAgent, cmp.Compare[string])
	default:
		return a.IssuedAt.Compare(b.IssuedAt)
	}
}

func compareNullable[T any](a, b *T, compare func(T, T) int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return compare(*a, *b)
	}
}

func clone(s *domain.Session) *domain.Session {
	c := *s
	if s.LastUsedAt != nil {
		t := *s.LastUsedAt
		c.LastUsedAt = &t
	}
	if s.IPAddress != nil {
		v := *s.IPAddress
		c.IPAddress = &v
	}
	if s.UserAgent != nil {
		v := *s.UserAgent
		c.UserAgent = &v
	}
	return &c
}
