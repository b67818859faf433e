package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easybaby/backend/internal/db"
	"easybaby/backend/internal/db/migrate"
	"easybaby/backend/internal/user/domain"
)

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	require.NoError(t, migrate.Run(dsn, migrate.Up))
	sqlDB, err := db.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	gdb, err := db.OpenGorm(sqlDB)
	require.NoError(t, err)
	require.NoError(t, gdb.Exec("DELETE FROM users WHERE email LIKE '%@repo-test.example'").Error)

	repo := NewPostgresRepository(gdb)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u := &domain.User{
		ID:           "7d4c2f5e-1111-4a4a-8b8b-000000000001",
		Email:        "Alice@repo-test.example",
		Name:         "Alice",
		PasswordHash: "hash",
		Status:       domain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.GetByEmail(ctx, "alice@REPO-TEST.example")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "Alice", got.Name)

	got, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, now.Equal(got.CreatedAt))

	missing, err := repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	dup := *u
	dup.ID = "7d4c2f5e-1111-4a4a-8b8b-000000000002"
	dup.Email = "ALICE@repo-test.example"
	assert.ErrorIs(t, repo.Create(ctx, &dup), ErrEmailTaken)
}
