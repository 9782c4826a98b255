package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	identitydomain "tutorhub/backend/internal/identity/domain"
	identityrepo "tutorhub/backend/internal/identity/repository"
	profiledomain "tutorhub/backend/internal/profile/domain"
	profilerepo "tutorhub/backend/internal/profile/repository"
	"tutorhub/backend/internal/security"
	sessiondomain "tutorhub/backend/internal/session/domain"
)

// Sentinel errors returned to sign-in and sign-up callers for display.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
)

// IdentityRepo is the minimal identity repository needed by the provider.
type IdentityRepo interface {
	GetByEmail(ctx context.Context, email string) (*identitydomain.Identity, error)
	Create(ctx context.Context, i *identitydomain.Identity) error
}

// ProfileRepo is the minimal profile repository needed by sign-up.
type ProfileRepo interface {
	GetByEmail(ctx context.Context, email string) (*profiledomain.Profile, error)
	Create(ctx context.Context, p *profiledomain.Profile) error
	Delete(ctx context.Context, id string) error
}

// PasswordProvider is an in-process auth provider holding one current session for the process.
// Session changes are delivered to subscribers sequentially, in order. Subscribers must not call
// back into the provider from their callback.
type PasswordProvider struct {
	identities IdentityRepo
	profiles   ProfileRepo
	hasher     *security.Hasher
	tokens     *security.TokenProvider
	logger     *zap.Logger

	mu        sync.Mutex
	token     string
	listeners map[uint64]func(*sessiondomain.Session)
	nextID    uint64

	deliverMu sync.Mutex
}

// NewPasswordProvider returns a PasswordProvider with the given dependencies. logger may be nil.
func NewPasswordProvider(
	identities IdentityRepo,
	profiles ProfileRepo,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	logger *zap.Logger,
) *PasswordProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordProvider{
		identities: identities,
		profiles:   profiles,
		hasher:     hasher,
		tokens:     tokens,
		logger:     logger.Named("auth"),
		listeners:  make(map[uint64]func(*sessiondomain.Session)),
	}
}

// SignUp creates a local identity and its profile (role user). The caller signs in separately.
func (p *PasswordProvider) SignUp(ctx context.Context, email, password, fullName string, userType profiledomain.UserType) (*profiledomain.Profile, error) {
	email = sessiondomain.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := p.identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, &sessiondomain.ProviderError{Op: "sign_up", Err: err}
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	existingProfile, err := p.profiles.GetByEmail(ctx, email)
	if err != nil {
		return nil, &sessiondomain.ProviderError{Op: "sign_up", Err: err}
	}
	if existingProfile != nil {
		return nil, ErrEmailAlreadyRegistered
	}

	now := time.Now().UTC()
	fullName = strings.TrimSpace(fullName)
	profile := &profiledomain.Profile{
		ID:        uuid.New().String(),
		Email:     email,
		FullName:  fullName,
		Role:      profiledomain.RoleUser,
		UserType:  userType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	hashed, err := p.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	metadata := map[string]any{}
	if fullName != "" {
		metadata[sessiondomain.MetadataFullName] = fullName
	}
	if userType != "" {
		metadata[sessiondomain.MetadataUserType] = string(userType)
	}
	identity := &identitydomain.Identity{
		ID:           uuid.New().String(),
		Email:        email,
		Provider:     identitydomain.IdentityProviderLocal,
		PasswordHash: hashed,
		Metadata:     metadata,
		CreatedAt:    now,
	}
	if err := p.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, profilerepo.ErrDuplicateEmail) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, &sessiondomain.ProviderError{Op: "sign_up", Err: err}
	}
	if err := p.identities.Create(ctx, identity); err != nil {
		// The email stays registrable only if the profile created above goes with the identity.
		if derr := p.profiles.Delete(context.WithoutCancel(ctx), profile.ID); derr != nil {
			p.logger.Error("auth: could not remove profile after failed sign-up",
				zap.String("email", email), zap.String("profile_id", profile.ID), zap.Error(derr))
		}
		if errors.Is(err, identityrepo.ErrDuplicateEmail) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, &sessiondomain.ProviderError{Op: "sign_up", Err: err}
	}
	p.logger.Info("auth: signed up", zap.String("subject", identity.ID), zap.String("user_type", string(userType)))
	return profile, nil
}

// SignInWithPassword verifies the credentials, issues a session, makes it current and notifies subscribers.
func (p *PasswordProvider) SignInWithPassword(ctx context.Context, email, password string) (*sessiondomain.Session, error) {
	email = sessiondomain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	ident, err := p.identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, &sessiondomain.ProviderError{Op: "sign_in", Err: err}
	}
	if ident == nil || ident.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := p.hasher.Compare(ident.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if p.hasher.NeedsRehash(ident.PasswordHash) {
		p.logger.Info("auth: password hash uses outdated cost", zap.String("subject", ident.ID))
	}
	token, expiresAt, err := p.tokens.IssueSession(ident.ID, ident.Email, ident.Metadata)
	if err != nil {
		return nil, &sessiondomain.ProviderError{Op: "sign_in", Err: err}
	}
	s := &sessiondomain.Session{
		Subject:     ident.ID,
		Email:       ident.Email,
		AccessToken: token,
		ExpiresAt:   expiresAt,
		Metadata:    identitydomain.CloneMetadata(ident.Metadata),
	}
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
	p.deliver(s)
	return s, nil
}

// CurrentSession returns the current session, or nil when none is held. An expired or
// invalid token is dropped and subscribers receive a nil event.
func (p *PasswordProvider) CurrentSession(ctx context.Context) (*sessiondomain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &sessiondomain.ProviderError{Op: "current_session", Err: err}
	}
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()
	if token == "" {
		return nil, nil
	}
	claims, err := p.tokens.ValidateSession(token)
	if err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			p.logger.Debug("auth: session expired")
		} else {
			p.logger.Warn("auth: dropping invalid session token", zap.Error(err))
		}
		if p.dropToken(token) {
			p.deliver(nil)
		}
		return nil, nil
	}
	return sessionFromClaims(token, claims), nil
}

// Subscribe registers fn for session changes. The returned func removes it; calling it twice is a no-op.
func (p *PasswordProvider) Subscribe(fn func(*sessiondomain.Session)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// SignOut drops the current session and notifies subscribers.
func (p *PasswordProvider) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &sessiondomain.ProviderError{Op: "sign_out", Err: err}
	}
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
	p.deliver(nil)
	return nil
}

// dropToken clears the current token if it is still token. Reports whether it did.
func (p *PasswordProvider) dropToken(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != token {
		return false
	}
	p.token = ""
	return true
}

func (p *PasswordProvider) deliver(s *sessiondomain.Session) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	p.mu.Lock()
	fns := make([]func(*sessiondomain.Session), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func sessionFromClaims(token string, claims *security.SessionClaims) *sessiondomain.Session {
	s := &sessiondomain.Session{
		Subject:     claims.Subject,
		Email:       claims.Email,
		AccessToken: token,
		Metadata:    claims.Metadata,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s
}

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	ok, _ := regexp.MatchString(simpleEmail, email)
	if !ok {
		return errors.New("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return errors.New("password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return errors.New("password must contain at least one number")
	}
	if !hasSymbol {
		return errors.New("password must contain at least one symbol")
	}
	return nil
}
