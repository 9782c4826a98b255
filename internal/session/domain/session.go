package domain

import (
	"fmt"
	"strings"
	"time"
)

// Metadata keys the reconciler reads from provider metadata. Anything else is ignored.
const (
	MetadataFullName = "full_name"
	MetadataRole     = "role"
	MetadataUserType = "user_type"
)

// Session is a provider-issued proof of authentication. A Session is never mutated;
// a refresh or re-login produces a new value.
type Session struct {
	Subject     string
	Email       string
	AccessToken string
	ExpiresAt   time.Time
	Metadata    map[string]any // raw provider metadata
}

// Expired reports whether the session's expiry is at or before now. A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(now)
}

// Claims is the typed view of the provider metadata keys the application consumes.
type Claims struct {
	FullName string
	Role     string
	UserType string
}

// ShapeError describes a known metadata key whose value has an unexpected type.
type ShapeError struct {
	Key string
	Got string
}

func (e ShapeError) Error() string {
	return fmt.Sprintf("metadata key %q: expected string, got %s", e.Key, e.Got)
}

// ParseClaims extracts the known keys from raw metadata. Values of the wrong type are
// skipped and reported; unknown keys are ignored.
func ParseClaims(md map[string]any) (Claims, []ShapeError) {
	var c Claims
	var problems []ShapeError
	for _, key := range []string{MetadataFullName, MetadataRole, MetadataUserType} {
		raw, ok := md[key]
		if !ok || raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			problems = append(problems, ShapeError{Key: key, Got: fmt.Sprintf("%T", raw)})
			continue
		}
		s = strings.TrimSpace(s)
		switch key {
		case MetadataFullName:
			c.FullName = s
		case MetadataRole:
			c.Role = s
		case MetadataUserType:
			c.UserType = s
		}
	}
	return c, problems
}

// NormalizeEmail lowercases and trims an email for lookups and comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
