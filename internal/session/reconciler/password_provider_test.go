package reconciler

import (
	"context"
	"testing"
	"time"

	identityrepo "tutorhub/backend/internal/identity/repository"
	"tutorhub/backend/internal/identity/service"
	profiledomain "tutorhub/backend/internal/profile/domain"
	profilerepo "tutorhub/backend/internal/profile/repository"
	"tutorhub/backend/internal/security"
)

func TestReconciler_WithPasswordProvider(t *testing.T) {
	tokens, err := security.NewTestTokenProvider(time.Hour)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	profiles := profilerepo.NewMemoryRepository()
	provider := service.NewPasswordProvider(identityrepo.NewMemoryRepository(), profiles, security.NewHasher(4), tokens, nil)
	ctx := context.Background()
	if _, err := provider.SignUp(ctx, "center@x.com", "Center-Pass-2024", "Bright Minds", profiledomain.UserTypeCenter); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	r, err := New(provider, profiles, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Dispose()
	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if r.Snapshot().State() != StateResolvedAnonymous {
		t.Fatalf("State = %v, want anonymous", r.Snapshot().State())
	}

	if _, err := provider.SignInWithPassword(ctx, "center@x.com", "Center-Pass-2024"); err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	waitFor(t, "signed in", func() bool {
		id := r.Snapshot()
		return id.User != nil && !id.Loading
	})
	id := r.Snapshot()
	if id.Role != profiledomain.RoleUser || id.User.UserType != profiledomain.UserTypeCenter || id.User.FullName != "Bright Minds" {
		t.Errorf("identity = %+v role %q", id.User, id.Role)
	}

	if err := r.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if r.Snapshot().User != nil {
		t.Error("User should be nil after SignOut")
	}
}
