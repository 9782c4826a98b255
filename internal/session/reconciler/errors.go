package reconciler

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("reconciler: already initialized")
	// ErrNotInitialized is returned by Refresh before Initialize.
	ErrNotInitialized = errors.New("reconciler: not initialized")
	// ErrDisposed is returned once Dispose has run.
	ErrDisposed = errors.New("reconciler: disposed")
)

// StoreError reports a profile lookup failure other than not-found.
type StoreError struct {
	Email string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("profile store lookup %q: %v", e.Email, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Integrity warning kinds.
const (
	KindEmailMismatch = "email_mismatch"
	KindMetadataShape = "metadata_shape"
	KindInvalidRole   = "invalid_role"
)

// IntegrityWarning reports inconsistent data between the session and the profile store.
// The identity is still resolved; the warning is recorded for observability.
type IntegrityWarning struct {
	Kind         string
	Subject      string
	SessionEmail string
	ProfileEmail string
	Detail       string
}

func (w *IntegrityWarning) Error() string {
	switch w.Kind {
	case KindEmailMismatch:
		return fmt.Sprintf("integrity: session email %q does not match profile email %q", w.SessionEmail, w.ProfileEmail)
	default:
		return fmt.Sprintf("integrity: %s: %s", w.Kind, w.Detail)
	}
}
