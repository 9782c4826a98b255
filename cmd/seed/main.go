// seed creates development accounts for local testing. Idempotent: existing emails are skipped.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"tutorhub/backend/internal/config"
	"tutorhub/backend/internal/db"
	identityrepo "tutorhub/backend/internal/identity/repository"
	identityservice "tutorhub/backend/internal/identity/service"
	"tutorhub/backend/internal/platform/logging"
	profiledomain "tutorhub/backend/internal/profile/domain"
	profilecache "tutorhub/backend/internal/profile/cache"
	profilerepo "tutorhub/backend/internal/profile/repository"
	"tutorhub/backend/internal/security"
)

const devPassword = "TutorHub-Dev-2026!"

type account struct {
	email    string
	fullName string
	userType profiledomain.UserType
	role     profiledomain.Role
}

var accounts = []account{
	{email: "admin@tutorhub.dev", fullName: "Dev Admin", role: profiledomain.RoleAdmin},
	{email: "teacher@tutorhub.dev", fullName: "Dev Teacher", userType: profiledomain.UserTypeTeacher, role: profiledomain.RoleUser},
	{email: "student@tutorhub.dev", fullName: "Dev Student", userType: profiledomain.UserTypeStudent, role: profiledomain.RoleUser},
	{email: "center@tutorhub.dev", fullName: "Dev Learning Center", userType: profiledomain.UserTypeCenter, role: profiledomain.RoleUser},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{ServiceName: "tutorhub-seed", Environment: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer conn.Close()

	// Sign-up never issues a token, so an ephemeral key is enough here.
	priv, pub, err := security.GenerateDevKey()
	if err != nil {
		logger.Fatal("dev key", zap.Error(err))
	}
	tokens := security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.SessionTTL())
	profiles := profilerepo.NewPostgresRepository(conn)
	provider := identityservice.NewPasswordProvider(
		identityrepo.NewPostgresRepository(conn),
		profiles,
		security.NewHasher(cfg.BcryptCost),
		tokens,
		logger,
	)

	var cache invalidator
	if cfg.RedisAddr != "" {
		client := profilecache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer client.Close()
		cache = profilecache.New(profiles, client, cfg.ProfileCacheTTL(), logger)
	}

	created, err := seed(context.Background(), provider, profiles, cache, logger)
	if err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
	logger.Info("seed completed", zap.Int("created", created))
	for _, a := range accounts {
		fmt.Printf("%s login: %s / %s\n", a.fullName, a.email, devPassword)
	}
}

type signUpper interface {
	SignUp(ctx context.Context, email, password, fullName string, userType profiledomain.UserType) (*profiledomain.Profile, error)
}

type roleSetter interface {
	SetRole(ctx context.Context, email string, role profiledomain.Role) error
}

type invalidator interface {
	Invalidate(ctx context.Context, email string) error
}

// seed signs up every account that does not exist yet and returns how many were created.
// cache, when set, has its entry dropped for every account whose role changed.
func seed(ctx context.Context, provider signUpper, profiles roleSetter, cache invalidator, logger *zap.Logger) (int, error) {
	created := 0
	for _, a := range accounts {
		_, err := provider.SignUp(ctx, a.email, devPassword, a.fullName, a.userType)
		switch {
		case errors.Is(err, identityservice.ErrEmailAlreadyRegistered):
			logger.Info("account exists, skipping", zap.String("email", a.email))
			continue
		case err != nil:
			return created, fmt.Errorf("sign up %s: %w", a.email, err)
		}
		if a.role != profiledomain.RoleUser {
			if err := profiles.SetRole(ctx, a.email, a.role); err != nil {
				return created, fmt.Errorf("set role %s: %w", a.email, err)
			}
			if cache != nil {
				if err := cache.Invalidate(ctx, a.email); err != nil {
					logger.Warn("profile cache invalidation failed", zap.String("email", a.email), zap.Error(err))
				}
			}
		}
		created++
	}
	return created, nil
}
