package repository

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"easybaby/backend/internal/session/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// repositorySuite runs the same behaviour checks against every Repository implementation.
type repositorySuite struct {
	suite.Suite
	newRepo func() Repository
	repo    Repository
	ctx     context.Context
}

func (s *repositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = s.newRepo()
}

func strPtr(v string) *string { return &v }

func (s *repositorySuite) insert(id, subject, family string, issued time.Time, mutate ...func(*domain.Session)) *domain.Session {
	sess := &domain.Session{
		ID:        id,
		SubjectID: subject,
		FamilyID:  family,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(24 * time.Hour),
	}
	for _, m := range mutate {
		m(sess)
	}
	s.Require().NoError(s.repo.Insert(s.ctx, sess))
	return sess
}

func (s *repositorySuite) ids(items []*domain.Session) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func (s *repositorySuite) TestInsertAndFind() {
	used := t0.Add(time.Minute)
	want := s.insert("s-1", "user-1", "f-1", t0, func(x *domain.Session) {
		x.IPAddress = strPtr("10.0.0.1")
		x.UserAgent = strPtr("Firefox")
		x.LastUsedAt = &used
	})

	got, err := s.repo.FindByID(s.ctx, "s-1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(want.SubjectID, got.SubjectID)
	s.Equal(want.FamilyID, got.FamilyID)
	s.True(want.IssuedAt.Equal(got.IssuedAt))
	s.True(want.ExpiresAt.Equal(got.ExpiresAt))
	s.Require().NotNil(got.LastUsedAt)
	s.True(used.Equal(*got.LastUsedAt))
	s.Equal("10.0.0.1", *got.IPAddress)
	s.Equal("Firefox", *got.UserAgent)
	s.False(got.IsRevoked)

	missing, err := s.repo.FindByID(s.ctx, "missing")
	s.NoError(err)
	s.Nil(missing)
}

func (s *repositorySuite) TestInsertDuplicate() {
	s.insert("s-1", "user-1", "f-1", t0)
	err := s.repo.Insert(s.ctx, &domain.Session{ID: "s-1", SubjectID: "user-2", FamilyID: "f-2", IssuedAt: t0, ExpiresAt: t0.Add(time.Hour)})
	s.ErrorIs(err, ErrDuplicateID)
}

func (s *repositorySuite) TestUpdateWhere_Guards() {
	_, err := s.repo.UpdateWhere(s.ctx, Predicate{}, Patch{Revoke: true})
	s.ErrorIs(err, ErrEmptyPredicate)
	_, err = s.repo.UpdateWhere(s.ctx, Predicate{ID: "s-1"}, Patch{})
	s.ErrorIs(err, ErrEmptyPatch)
	_, err = s.repo.DeleteWhere(s.ctx, Predicate{})
	s.ErrorIs(err, ErrEmptyPredicate)
}

func (s *repositorySuite) TestUpdateWhere_ConditionalRevoke() {
	s.insert("s-1", "user-1", "f-1", t0)
	live := Predicate{ID: "s-1", Revoked: Bool(false)}

	n, err := s.repo.UpdateWhere(s.ctx, live, Patch{Revoke: true})
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	n, err = s.repo.UpdateWhere(s.ctx, live, Patch{Revoke: true})
	s.Require().NoError(err)
	s.Zero(n)

	used := t0.Add(time.Hour)
	n, err = s.repo.UpdateWhere(s.ctx, live, Patch{LastUsedAt: &used})
	s.Require().NoError(err)
	s.Zero(n)

	got, err := s.repo.FindByID(s.ctx, "s-1")
	s.Require().NoError(err)
	s.True(got.IsRevoked)
	s.Nil(got.LastUsedAt)
}

func (s *repositorySuite) TestUpdateWhere_BulkBySubjectAndFamily() {
	s.insert("a", "user-1", "f-1", t0)
	s.insert("b", "user-1", "f-1", t0.Add(time.Minute))
	s.insert("c", "user-1", "f-2", t0.Add(2*time.Minute))
	s.insert("d", "user-2", "f-3", t0.Add(3*time.Minute))

	n, err := s.repo.UpdateWhere(s.ctx, Predicate{FamilyID: "f-1", Revoked: Bool(false)}, Patch{Revoke: true})
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	n, err = s.repo.UpdateWhere(s.ctx, Predicate{SubjectID: "user-1", Revoked: Bool(false)}, Patch{Revoke: true})
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	d, err := s.repo.FindByID(s.ctx, "d")
	s.Require().NoError(err)
	s.False(d.IsRevoked)
}

func (s *repositorySuite) TestDeleteWhere_ExpiresBefore() {
	s.insert("old", "user-1", "f-1", t0)
	s.insert("old-revoked", "user-1", "f-1", t0, func(x *domain.Session) { x.IsRevoked = true })
	s.insert("boundary", "user-1", "f-2", t0.Add(time.Hour))
	s.insert("new", "user-2", "f-3", t0.Add(2*time.Hour))

	cutoff := t0.Add(25 * time.Hour)
	n, err := s.repo.DeleteWhere(s.ctx, Predicate{ExpiresBefore: &cutoff})
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	for id, want := range map[string]bool{"old": false, "old-revoked": false, "boundary": true, "new": true} {
		got, err := s.repo.FindByID(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(want, got != nil, id)
	}
}

func (s *repositorySuite) TestFindWhere_OrderAndPage() {
	for i, id := range []string{"s-0", "s-1", "s-2", "s-3", "s-4", "s-5", "s-6"} {
		s.insert(id, "user-1", "f-1", t0.Add(time.Duration(i)*time.Minute))
	}
	p := Predicate{SubjectID: "user-1"}

	items, total, err := s.repo.FindWhere(s.ctx, p, Order{Field: "created_at", Desc: true}, 2, 3)
	s.Require().NoError(err)
	s.Equal(int64(7), total)
	s.Equal([]string{"s-4", "s-3", "s-2"}, s.ids(items))

	items, total, err = s.repo.FindWhere(s.ctx, p, Order{Field: "expires_at"}, 5, 10)
	s.Require().NoError(err)
	s.Equal(int64(7), total)
	s.Equal([]string{"s-5", "s-6"}, s.ids(items))

	items, total, err = s.repo.FindWhere(s.ctx, p, Order{Field: "created_at"}, 0, 0)
	s.Require().NoError(err)
	s.Equal(int64(7), total)
	s.Empty(items)

	_, _, err = s.repo.FindWhere(s.ctx, p, Order{Field: "password_hash"}, 0, 10)
	s.ErrorIs(err, ErrInvalidOrder)
}

func (s *repositorySuite) TestFindWhere_NullsOrdering() {
	used := t0.Add(time.Hour)
	s.insert("never", "user-1", "f-1", t0)
	s.insert("used", "user-1", "f-1", t0, func(x *domain.Session) { x.LastUsedAt = &used })
	p := Predicate{SubjectID: "user-1"}

	items, _, err := s.repo.FindWhere(s.ctx, p, Order{Field: "last_used_at"}, 0, 10)
	s.Require().NoError(err)
	s.Equal([]string{"used", "never"}, s.ids(items))

	items, _, err = s.repo.FindWhere(s.ctx, p, Order{Field: "last_used_at", Desc: true}, 0, 10)
	s.Require().NoError(err)
	s.Equal([]string{"never", "used"}, s.ids(items))
}

func (s *repositorySuite) TestFindWhere_Filters() {
	s.insert("a", "user-1", "f-1", t0, func(x *domain.Session) {
		x.IPAddress = strPtr("10.0.0.1")
		x.UserAgent = strPtr("Mozilla/5.0 Firefox")
	})
	s.insert("b", "user-1", "f-2", t0.Add(time.Minute), func(x *domain.Session) {
		x.IPAddress = strPtr("192.168.0.10")
		x.UserAgent = strPtr("100%_agent")
	})
	s.insert("c", "user-1", "f-1", t0.Add(2*time.Minute), func(x *domain.Session) { x.IsRevoked = true })

	testCases := []struct {
		name string
		p    Predicate
		want []string
	}{
		{"subject", Predicate{SubjectID: "user-1"}, []string{"a", "b", "c"}},
		{"live only", Predicate{SubjectID: "user-1", Revoked: Bool(false)}, []string{"a", "b"}},
		{"revoked only", Predicate{SubjectID: "user-1", Revoked: Bool(true)}, []string{"c"}},
		{"family", Predicate{FamilyID: "f-1"}, []string{"a", "c"}},
		{"ip substring", Predicate{IPContains: "0.0.1"}, []string{"a"}},
		{"agent case-insensitive", Predicate{UserAgentContains: "firefox"}, []string{"a"}},
		{"percent is literal", Predicate{UserAgentContains: "%"}, []string{"b"}},
		{"underscore is literal", Predicate{UserAgentContains: "%_a"}, []string{"b"}},
		{"null never matches", Predicate{SubjectID: "user-1", UserAgentContains: "e"}, []string{"a", "b"}},
	}
	for _, tc := range testCases {
		s.Run(tc.name, func() {
			items, total, err := s.repo.FindWhere(s.ctx, tc.p, Order{Field: "created_at"}, 0, 10)
			s.Require().NoError(err)
			s.Equal(tc.want, s.ids(items))
			s.Equal(int64(len(tc.want)), total)
		})
	}
}

func (s *repositorySuite) TestReturnedSessionsAreCopies() {
	s.insert("s-1", "user-1", "f-1", t0)
	got, err := s.repo.FindByID(s.ctx, "s-1")
	s.Require().NoError(err)
	got.IsRevoked = true

	again, err := s.repo.FindByID(s.ctx, "s-1")
	s.Require().NoError(err)
	s.False(again.IsRevoked)
}
