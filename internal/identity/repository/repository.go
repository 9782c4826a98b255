package repository

import (
	"context"

	"tutorhub/backend/internal/identity/domain"
)

// Repository defines persistence for credential identities.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
}
