package ports

import (
	"context"

	"github.com/globalvalve/valve-record/internal/core/domain"
)

// UserRepository persists accounts of the self-hosted identity store.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
}

// ProfileRepository persists rows of the profiles table.
type ProfileRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Profile, error)
	Insert(ctx context.Context, profile *domain.Profile) error
}
