// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session store backends selectable via SESSION_STORE.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Session-limit policy modes selectable via SESSION_LIMIT_POLICY.
const (
	LimitPolicyAllow       = "allow"
	LimitPolicyEvictOldest = "evict_oldest"
	LimitPolicyReject      = "reject"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the REST API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint (e.g. :9090). Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Required when SessionStore is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SessionStore selects the refresh session backend: postgres (default) or memory (local dev only).
	SessionStore string `mapstructure:"SESSION_STORE"`

	// JWTSecret is the shared HMAC secret (HS256). Used when no key pair is configured.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim on access and refresh tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim on access and refresh tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh session lifetime (e.g. "720h" for 30 days).
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// MaxSessionsPerUser is the number of live refresh sessions a user may hold before the limit policy applies.
	MaxSessionsPerUser int `mapstructure:"MAX_SESSIONS_PER_USER"`
	// SessionLimitPolicy is what login does once the limit is reached: allow, evict_oldest or reject.
	SessionLimitPolicy string `mapstructure:"SESSION_LIMIT_POLICY"`
	// SessionLimitPolicyFile is an optional Rego module overriding the built-in session-limit policy.
	SessionLimitPolicyFile string `mapstructure:"SESSION_LIMIT_POLICY_FILE"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level: debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses for security events.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SecurityEventsTopic is the Kafka topic security events are written to.
	SecurityEventsTopic string `mapstructure:"SECURITY_EVENTS_TOPIC"`

	// Worker-only: RedisAddr enables the sweeper lock so only one replica sweeps per interval.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// SweepIntervalRaw is how often expired sessions are deleted (e.g. "1h").
	SweepIntervalRaw string `mapstructure:"SWEEP_INTERVAL"`
	// SweepLockTTLRaw bounds how long one sweep may hold the lock (e.g. "5m").
	SweepLockTTLRaw string `mapstructure:"SWEEP_LOCK_TTL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SESSION_STORE", StorePostgres)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "easybaby-auth")
	v.SetDefault("JWT_AUDIENCE", "easybaby-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "720h") // 30d
	v.SetDefault("MAX_SESSIONS_PER_USER", 5)
	v.SetDefault("SESSION_LIMIT_POLICY", LimitPolicyAllow)
	v.SetDefault("SESSION_LIMIT_POLICY_FILE", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "easybaby-backend")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_EVENTS_TOPIC", "easybaby-security-events")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("SWEEP_LOCK_TTL", "5m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	switch cfg.SessionStore {
	case StorePostgres, StoreMemory:
	default:
		return nil, errors.New("config: SESSION_STORE must be postgres or memory")
	}
	if cfg.SessionStore == StoreMemory && cfg.IsProduction() {
		return nil, errors.New("config: SESSION_STORE=memory must not be used when APP_ENV=production")
	}

	if (cfg.JWTPrivateKey == "") != (cfg.JWTPublicKey == "") {
		return nil, errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if cfg.IsProduction() && cfg.JWTSecret == "" && cfg.JWTPrivateKey == "" {
		return nil, errors.New("config: JWT_SECRET or a JWT key pair must be set when APP_ENV=production")
	}

	if cfg.MaxSessionsPerUser == 0 {
		cfg.MaxSessionsPerUser = 5
	}
	if cfg.MaxSessionsPerUser < 0 {
		return nil, errors.New("config: MAX_SESSIONS_PER_USER must be positive")
	}

	cfg.SessionLimitPolicy = strings.ToLower(strings.TrimSpace(cfg.SessionLimitPolicy))
	switch cfg.SessionLimitPolicy {
	case "":
		cfg.SessionLimitPolicy = LimitPolicyAllow
	case LimitPolicyAllow, LimitPolicyEvictOldest, LimitPolicyReject:
	default:
		return nil, errors.New("config: SESSION_LIMIT_POLICY must be allow, evict_oldest or reject")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parsePositiveDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parsePositiveDuration(c.JWTRefreshTTL, 720*time.Hour)
}

// SweepInterval parses SweepIntervalRaw. Returns 1h if unset or invalid.
func (c *Config) SweepInterval() time.Duration {
	return parsePositiveDuration(c.SweepIntervalRaw, time.Hour)
}

// SweepLockTTL parses SweepLockTTLRaw. Returns 5m if unset or invalid.
func (c *Config) SweepLockTTL() time.Duration {
	return parsePositiveDuration(c.SweepLockTTLRaw, 5*time.Minute)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the Kafka security-event sink is enabled (non-empty list).
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parsePositiveDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
