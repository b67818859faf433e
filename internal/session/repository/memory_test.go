package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"easybaby/backend/internal/session/domain"
)

func TestMemoryRepository(t *testing.T) {
	suite.Run(t, &repositorySuite{newRepo: func() Repository { return NewMemoryRepository() }})
}

func TestMemoryRepository_CanceledContext(t *testing.T) {
	r := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.FindByID(ctx, "s-1")
	assert.ErrorIs(t, err, context.Canceled)
	err = r.Insert(ctx, &domain.Session{ID: "s-1"})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = r.UpdateWhere(ctx, Predicate{ID: "s-1"}, Patch{Revoke: true})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.Len())
}

func TestPredicate_IsEmpty(t *testing.T) {
	now := time.Now()
	testCases := []struct {
		name string
		p    Predicate
		want bool
	}{
		{"zero", Predicate{}, true},
		{"id", Predicate{ID: "x"}, false},
		{"revoked false", Predicate{Revoked: Bool(false)}, false},
		{"expires before", Predicate{ExpiresBefore: &now}, false},
		{"agent", Predicate{UserAgentContains: "x"}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.p.IsEmpty())
		})
	}
}

func TestPatch_NeverUnrevokes(t *testing.T) {
	s := &domain.Session{IsRevoked: true}
	used := time.Now()
	Patch{LastUsedAt: &used}.Apply(s)
	assert.True(t, s.IsRevoked)
	assert.Equal(t, used, *s.LastUsedAt)
	assert.True(t, Patch{}.IsEmpty())
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, `%100\%\_a\\b%`, likePattern(`100%_a\b`))
}
