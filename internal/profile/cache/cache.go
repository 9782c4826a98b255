// Package cache is a Redis read-through cache in front of the profile store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tutorhub/backend/internal/profile/domain"
)

const keyPrefix = "tutorhub:profile:"

// Store is the profile lookup being cached.
type Store interface {
	GetByEmail(ctx context.Context, email string) (*domain.Profile, error)
}

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type cachedProfile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	Role      string    `json:"role"`
	UserType  string    `json:"user_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CachedStore serves profiles from Redis and falls back to the wrapped store on a miss.
// Only found profiles are cached. Redis failures are logged and never fail a lookup.
type CachedStore struct {
	next   Store
	client redisClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisClient returns a go-redis client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(addr),
		Password: strings.TrimSpace(password),
		DB:       db,
	})
}

// New wraps next with a cache backed by client. logger may be nil.
func New(next Store, client redisClient, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{next: next, client: client, ttl: ttl, logger: logger.Named("profile_cache")}
}

// GetByEmail returns the cached profile for email, loading and caching it on a miss.
func (c *CachedStore) GetByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	key := keyPrefix + email
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cp cachedProfile
		if jerr := json.Unmarshal(raw, &cp); jerr == nil {
			return cp.profile(), nil
		}
		c.logger.Warn("dropping unreadable cache entry", zap.String("key", key))
		_ = c.client.Del(ctx, key).Err()
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	p, err := c.next.GetByEmail(ctx, email)
	if err != nil || p == nil {
		return p, err
	}
	encoded, err := json.Marshal(fromProfile(p))
	if err != nil {
		return p, nil
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return p, nil
}

// Invalidate drops the cached profile for email.
func (c *CachedStore) Invalidate(ctx context.Context, email string) error {
	return c.client.Del(ctx, keyPrefix+email).Err()
}

func fromProfile(p *domain.Profile) cachedProfile {
	return cachedProfile{
		ID:        p.ID,
		Email:     p.Email,
		FullName:  p.FullName,
		Role:      string(p.Role),
		UserType:  string(p.UserType),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (cp cachedProfile) profile() *domain.Profile {
	return &domain.Profile{
		ID:        cp.ID,
		Email:     cp.Email,
		FullName:  cp.FullName,
		Role:      domain.Role(cp.Role),
		UserType:  domain.UserType(cp.UserType),
		CreatedAt: cp.CreatedAt,
		UpdatedAt: cp.UpdatedAt,
	}
}
