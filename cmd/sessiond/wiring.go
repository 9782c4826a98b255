package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tutorhub/backend/internal/config"
	"tutorhub/backend/internal/db"
	"tutorhub/backend/internal/db/migrate"
	identityrepo "tutorhub/backend/internal/identity/repository"
	identityservice "tutorhub/backend/internal/identity/service"
	"tutorhub/backend/internal/platform/logging"
	policydomain "tutorhub/backend/internal/policy/domain"
	"tutorhub/backend/internal/policy/engine"
	profilecache "tutorhub/backend/internal/profile/cache"
	profilerepo "tutorhub/backend/internal/profile/repository"
	"tutorhub/backend/internal/security"
	"tutorhub/backend/internal/session/reconciler"
	"tutorhub/backend/internal/telemetry"
	teleotel "tutorhub/backend/internal/telemetry/otel"
	"tutorhub/backend/internal/telemetry/producer"
)

type dependencies struct {
	provider *identityservice.PasswordProvider
	profiles profilerepo.Repository
	lookup   reconciler.ProfileStore
	emitter  telemetry.EventEmitter

	conn  *sql.DB
	kafka *producer.KafkaProducer
	redis *redis.Client
}

func newDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, providers *teleotel.Providers) (*dependencies, error) {
	d := &dependencies{}

	emitters := telemetry.Multi{teleotel.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic, logger); kp != nil {
		d.kafka = kp
		emitters = append(emitters, kp)
		logger.Info("session events also written to kafka", zap.String("topic", cfg.TelemetryKafkaTopic))
	}
	d.emitter = emitters

	var identities identityservice.IdentityRepo
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory identity and profile stores")
		identities = identityrepo.NewMemoryRepository()
		d.profiles = profilerepo.NewMemoryRepository()
	} else {
		conn, err := db.OpenContext(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		d.conn = conn
		if version, dirty, err := migrate.Version(cfg.DatabaseURL); err != nil {
			logger.Warn("could not read schema version", zap.Error(err))
		} else if dirty {
			logger.Warn("database schema is dirty", zap.Uint("version", version))
		} else {
			logger.Info("database schema", zap.Uint("version", version))
		}
		identities = identityrepo.NewPostgresRepository(conn)
		d.profiles = profilerepo.NewPostgresRepository(conn)
	}

	d.lookup = d.profiles
	if cfg.RedisAddr != "" {
		d.redis = profilecache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := d.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, profile cache will fall back to the store", zap.Error(err))
		}
		d.lookup = profilecache.New(d.profiles, d.redis, cfg.ProfileCacheTTL(), logger)
	}

	tokens, err := newTokenProvider(cfg, logger)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.provider = identityservice.NewPasswordProvider(identities, d.profiles, security.NewHasher(cfg.BcryptCost), tokens, logger)
	return d, nil
}

func (d *dependencies) Close() {
	if d.kafka != nil {
		_ = d.kafka.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.conn != nil {
		_ = d.conn.Close()
	}
}

func newTokenProvider(cfg *config.Config, logger *zap.Logger) (*security.TokenProvider, error) {
	if cfg.UsesDevKey() {
		logger.Warn("JWT keys not configured, generating an ephemeral development key")
		priv, pub, err := security.GenerateDevKey()
		if err != nil {
			return nil, fmt.Errorf("dev key: %w", err)
		}
		return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.SessionTTL()), nil
	}
	priv, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("JWT_PRIVATE_KEY: %w", err)
	}
	pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("JWT_PUBLIC_KEY: %w", err)
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.SessionTTL()), nil
}

type guardedRoute struct {
	raw   string
	route policydomain.Route
}

func parseRoutes(raw string) ([]guardedRoute, error) {
	var out []guardedRoute
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, err := policydomain.ParseRoute(part)
		if err != nil {
			return nil, err
		}
		out = append(out, guardedRoute{raw: part, route: r})
	}
	return out, nil
}

// loadPolicy reads a Rego module from path. An empty path selects the built-in rules.
func loadPolicy(path string) (*policydomain.Policy, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &policydomain.Policy{Name: filepath.Base(path), Rules: string(raw)}, nil
}

func logSnapshot(ctx context.Context, base *zap.Logger, guard engine.Evaluator, routes []guardedRoute, id reconciler.ReconciledIdentity) {
	logger := logging.WithTrace(ctx, base)
	fields := []zap.Field{
		zap.String("state", id.State().String()),
		zap.Bool("loading", id.Loading),
		zap.Uint64("generation", id.Generation),
	}
	if id.User != nil {
		fields = append(fields,
			zap.String("subject", id.User.Subject),
			zap.String("email", id.User.Email),
			zap.String("user_type", string(id.User.UserType)),
		)
	}
	if id.Role != "" {
		fields = append(fields, zap.String("role", string(id.Role)))
	}
	logger.Info("session snapshot", fields...)

	for _, gr := range routes {
		decision, err := guard.Evaluate(ctx, id, gr.route)
		if err != nil {
			logger.Warn("route guard failed", zap.String("route", gr.raw), zap.Error(err))
			continue
		}
		logger.Info("route decision", zap.String("route", gr.raw), zap.String("decision", string(decision)))
	}
}

type refresher interface {
	Refresh() error
}

// refreshOnSignal asks r for a fresh provider read each time sig fires, until ctx is done.
// It is the operator's retry after a ProviderError left the reconciler without a session.
func refreshOnSignal(ctx context.Context, sig <-chan os.Signal, r refresher, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if err := r.Refresh(); err != nil {
				logger.Warn("session refresh rejected", zap.Error(err))
				continue
			}
			logger.Info("session refresh requested")
		}
	}
}
