package reconciler

import (
	profiledomain "tutorhub/backend/internal/profile/domain"
)

// User is the merged view of a session and its profile. Values are never mutated after publication.
type User struct {
	Subject   string
	Email     string
	FullName  string
	UserType  profiledomain.UserType
	ProfileID string // empty when no profile enrichment was applied
}

// ReconciledIdentity is the process-wide answer to "who is signed in and with what role".
type ReconciledIdentity struct {
	User *User
	// Role is empty when no profile row enriched the user.
	Role    profiledomain.Role
	Loading bool
	// Initialized becomes true when the first resolution is applied and never reverts.
	Initialized bool
	Generation  uint64
}

// State is the coarse lifecycle position of a ReconciledIdentity.
type State int

const (
	StateUninitialized State = iota
	StateResolvedAnonymous
	StateResolvedAuthenticated
)

func (s State) String() string {
	switch s {
	case StateResolvedAnonymous:
		return "resolved_anonymous"
	case StateResolvedAuthenticated:
		return "resolved_authenticated"
	default:
		return "uninitialized"
	}
}

// State derives the lifecycle state from the snapshot.
func (id ReconciledIdentity) State() State {
	switch {
	case !id.Initialized:
		return StateUninitialized
	case id.User == nil:
		return StateResolvedAnonymous
	default:
		return StateResolvedAuthenticated
	}
}
