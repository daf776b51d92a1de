// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/fernwood/siteauth/pkg/config"
)

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8010"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"siteauth"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"siteauth_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"siteauth"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Redis (login rate limiting; optional)
	RedisAddr     string `env:"REDIS_ADDR" envDefault:""`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka (lifecycle events; optional)
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"" envSeparator:","`

	// Admin surface
	MasterAPIKey string `env:"MASTER_API_KEY" envDefault:""`

	// Token lifetimes
	SessionTokenTTL      time.Duration `env:"SESSION_TOKEN_TTL" envDefault:"1h"`
	VerificationTokenTTL time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"24h"`
	ResetTokenTTL        time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	ChangeTokenTTL       time.Duration `env:"CHANGE_TOKEN_TTL" envDefault:"1h"`

	// Expired token sweeping
	PurgeInterval  time.Duration `env:"PURGE_INTERVAL" envDefault:"1h"`
	ResetRetention time.Duration `env:"RESET_RETENTION" envDefault:"720h"`

	// Auth policy
	RequireVerifiedLogin bool `env:"REQUIRE_VERIFIED_LOGIN" envDefault:"true"`

	// Login rate limiting (active only when Redis is configured)
	LoginRateLimit  int           `env:"LOGIN_RATE_LIMIT" envDefault:"10"`
	LoginRateWindow time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"15m"`

	// Outbound email provider; logging fallback is used when unset.
	EmailAPIURL string `env:"EMAIL_API_URL" envDefault:""`
	EmailAPIKey string `env:"EMAIL_API_KEY" envDefault:""`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Tracing
	TracingEnabled    bool    `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint      string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TracingSampleRate float64 `env:"TRACING_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load siteauth config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	for _, ttl := range []struct {
		name string
		d    time.Duration
	}{
		{"SESSION_TOKEN_TTL", cfg.SessionTokenTTL},
		{"VERIFICATION_TOKEN_TTL", cfg.VerificationTokenTTL},
		{"RESET_TOKEN_TTL", cfg.ResetTokenTTL},
		{"CHANGE_TOKEN_TTL", cfg.ChangeTokenTTL},
	} {
		if ttl.d <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %s", ttl.name, ttl.d)
		}
	}

	// Outside development the admin surface must be guarded by an explicitly
	// set, strong key. An empty key disables it entirely, which is allowed.
	if cfg.Environment != "development" && cfg.MasterAPIKey != "" && len(cfg.MasterAPIKey) < 32 {
		return nil, fmt.Errorf("MASTER_API_KEY must be at least 32 characters long, got %d", len(cfg.MasterAPIKey))
	}

	if cfg.EmailAPIURL != "" && cfg.EmailAPIKey == "" {
		return nil, fmt.Errorf("EMAIL_API_KEY must be set when EMAIL_API_URL is configured")
	}

	return cfg, nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}
