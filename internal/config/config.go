// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultSessionTTL           = time.Hour
	defaultProviderTimeout      = 5 * time.Second
	defaultProfileLookupTimeout = 3 * time.Second
	defaultProfileCacheTTL      = time.Minute
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory credential and profile stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY.
	// Both empty generates an ephemeral key at startup, which is rejected when Env is production.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	JWTPublicKey  string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	// SessionTTLRaw is the session token lifetime (e.g. "1h"). Read via SessionTTL.
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// ProviderTimeoutRaw bounds each auth provider call made by the reconciler (e.g. "5s").
	ProviderTimeoutRaw string `mapstructure:"PROVIDER_TIMEOUT"`
	// ProfileLookupTimeoutRaw bounds each profile store lookup made by the reconciler (e.g. "3s").
	ProfileLookupTimeoutRaw string `mapstructure:"PROFILE_LOOKUP_TIMEOUT"`

	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// OTLPEndpoint is the collector address; empty disables export.
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Telemetry (optional). When Kafka brokers are set, session events are also written to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	TelemetryKafkaTopic   string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// RedisAddr enables the profile lookup cache when set (e.g. "localhost:6379").
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// ProfileCacheTTLRaw is how long a cached profile is served before the store is consulted again.
	ProfileCacheTTLRaw string `mapstructure:"PROFILE_CACHE_TTL"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiPushRate caps Loki pushes per second; 0 disables the limit.
	LokiPushRate  float64 `mapstructure:"LOKI_PUSH_RATE"`
	LokiPushBurst int     `mapstructure:"LOKI_PUSH_BURST"`
	// MetricsAddr is the worker's Prometheus listen address (e.g. ":9102"); empty disables it.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "tutorhub-auth")
	v.SetDefault("JWT_AUDIENCE", "tutorhub-app")
	v.SetDefault("SESSION_TTL", "1h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PROVIDER_TIMEOUT", "5s")
	v.SetDefault("PROFILE_LOOKUP_TIMEOUT", "3s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "tutorhub-sessiond")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "tutorhub-session-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "tutorhub-telemetry-worker")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("PROFILE_CACHE_TTL", "1m")
	v.SetDefault("LOKI_PUSH_RATE", 0)
	v.SetDefault("LOKI_PUSH_BURST", 10)
	v.SetDefault("METRICS_ADDR", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if (cfg.JWTPrivateKey == "") != (cfg.JWTPublicKey == "") {
		return nil, errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if cfg.IsProduction() && cfg.UsesDevKey() {
		return nil, errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.LokiPushRate < 0 {
		return nil, errors.New("config: LOKI_PUSH_RATE must not be negative")
	}
	if cfg.LokiPushBurst <= 0 {
		cfg.LokiPushBurst = 10
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// UsesDevKey reports whether no signing key pair is configured.
func (c *Config) UsesDevKey() bool {
	return c.JWTPrivateKey == "" && c.JWTPublicKey == ""
}

// SessionTTL parses SESSION_TTL. Returns 1h if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	return parsePositive(c.SessionTTLRaw, defaultSessionTTL)
}

// ProviderTimeout parses PROVIDER_TIMEOUT. Returns 5s if unset or invalid.
func (c *Config) ProviderTimeout() time.Duration {
	return parsePositive(c.ProviderTimeoutRaw, defaultProviderTimeout)
}

// ProfileLookupTimeout parses PROFILE_LOOKUP_TIMEOUT. Returns 3s if unset or invalid.
func (c *Config) ProfileLookupTimeout() time.Duration {
	return parsePositive(c.ProfileLookupTimeoutRaw, defaultProfileLookupTimeout)
}

// ProfileCacheTTL parses PROFILE_CACHE_TTL. Returns 1m if unset or invalid.
func (c *Config) ProfileCacheTTL() time.Duration {
	return parsePositive(c.ProfileCacheTTLRaw, defaultProfileCacheTTL)
}

func parsePositive(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
