package domain

import "time"

// Identity is a credential record for the password provider. ID is the session subject.
type Identity struct {
	ID           string
	Email        string
	Provider     IdentityProvider
	PasswordHash string // empty if not local
	// Metadata is copied into issued sessions as user metadata (full_name, user_type).
	Metadata  map[string]any
	CreatedAt time.Time
}

type IdentityProvider string

const (
	IdentityProviderLocal IdentityProvider = "local"
	IdentityProviderOAuth IdentityProvider = "oauth"
)

// CloneMetadata returns a shallow copy of md.
func CloneMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
