package repository

import (
	"context"
	"errors"
	"sync"

	"tutorhub/backend/internal/identity/domain"
)

// ErrDuplicateEmail is returned by Create when a local identity already uses the email.
var ErrDuplicateEmail = errors.New("identity email already exists")

// MemoryRepository is an in-memory Repository used when no DATABASE_URL is configured.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]domain.Identity
	byEmail map[string]string
}

// NewMemoryRepository returns an empty in-memory identity repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]domain.Identity),
		byEmail: make(map[string]string),
	}
}

// GetByID returns a copy of the identity for id, or nil.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	i.Metadata = domain.CloneMetadata(i.Metadata)
	return &i, nil
}

// GetByEmail returns a copy of the local identity for email, or nil.
func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	i := r.byID[id]
	i.Metadata = domain.CloneMetadata(i.Metadata)
	return &i, nil
}

// Create stores a copy of i.
func (r *MemoryRepository) Create(ctx context.Context, i *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i.Provider == domain.IdentityProviderLocal {
		if _, ok := r.byEmail[i.Email]; ok {
			return ErrDuplicateEmail
		}
		r.byEmail[i.Email] = i.ID
	}
	stored := *i
	stored.Metadata = domain.CloneMetadata(i.Metadata)
	r.byID[i.ID] = stored
	return nil
}
