package repository

import (
	"context"
	"errors"

	"easybaby/backend/internal/user/domain"
)

// ErrEmailTaken is returned by Create when another user has the same email (case-insensitive).
var ErrEmailTaken = errors.New("user repository: email already registered")

// Repository defines persistence for users.
type Repository interface {
	// GetByID returns the user for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByEmail matches email case-insensitively and returns nil if not found.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}
