package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher turns sign-up passwords into the bcrypt hashes kept on identity rows and checks
// sign-in attempts against them. Plaintext never leaves the call.
type Hasher struct {
	Cost int
}

// NewHasher uses BCRYPT_COST when it is inside bcrypt's range and clamps it otherwise.
// Zero or negative means bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash returns the hash stored for a new identity.
func (h *Hasher) Hash(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare is nil when password matches hash. A wrong password yields
// bcrypt.ErrMismatchedHashAndPassword; a malformed hash yields bcrypt's parse error.
func (h *Hasher) Compare(hash string, password []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), password)
}

// NeedsRehash is true when hash was made at another cost, or cannot be read, so a
// successful sign-in should store a fresh hash.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.Cost
}
