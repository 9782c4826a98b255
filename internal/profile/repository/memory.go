package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"tutorhub/backend/internal/profile/domain"
)

// ErrDuplicateEmail is returned by Create when the email is taken.
var ErrDuplicateEmail = errors.New("profile email already exists")

// ErrProfileNotFound is returned by SetRole when no profile has the email.
var ErrProfileNotFound = errors.New("profile not found")

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory Repository used when no DATABASE_URL is configured.
type MemoryRepository struct {
	mu      sync.RWMutex
	byEmail map[string]domain.Profile
}

// NewMemoryRepository returns an empty in-memory profile repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byEmail: make(map[string]domain.Profile)}
}

// GetByEmail returns a copy of the stored profile, or nil if absent.
func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Create stores a copy of p.
func (r *MemoryRepository) Create(ctx context.Context, p *domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[p.Email]; ok {
		return ErrDuplicateEmail
	}
	r.byEmail[p.Email] = *p
	return nil
}

// SetRole updates the stored role for email.
func (r *MemoryRepository) SetRole(ctx context.Context, email string, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byEmail[email]
	if !ok {
		return ErrProfileNotFound
	}
	p.Role = role
	p.UpdatedAt = time.Now().UTC()
	r.byEmail[email] = p
	return nil
}

// Delete removes the profile with id, if present.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for email, p := range r.byEmail {
		if p.ID == id {
			delete(r.byEmail, email)
		}
	}
	return nil
}
