package repository

import (
	"context"

	"tutorhub/backend/internal/profile/domain"
)

// Repository defines persistence for profiles.
type Repository interface {
	// GetByEmail returns the profile for email, or nil if none exists.
	GetByEmail(ctx context.Context, email string) (*domain.Profile, error)
	Create(ctx context.Context, p *domain.Profile) error
	// SetRole changes the role of the profile with email. A missing profile is ErrProfileNotFound.
	SetRole(ctx context.Context, email string, role domain.Role) error
	// Delete removes the profile with id. A missing profile is not an error.
	Delete(ctx context.Context, id string) error
}
