package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all configuration for the Gatekeeper server.
type Config struct {
	Port int    `env:"GATEKEEPER_PORT,default=8080"`
	Env  string `env:"GATEKEEPER_ENV,default=development"`

	DatabaseURL             string        `env:"DATABASE_URL,required"`
	DatabaseMaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=25"`
	DatabaseMaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	DatabaseConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=5m"`

	RedisURL string `env:"REDIS_URL,required"`

	// Fixed rate-limit window and the bounded timeout applied to every
	// counter-store and key-lookup round trip.
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW,default=60s"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT,default=500ms"`

	// Per-class request limits for one window.
	APIRateLimit       int `env:"API_RATE_LIMIT,default=60"`
	AnonymousRateLimit int `env:"ANONYMOUS_RATE_LIMIT,default=20"`

	// Route classification rules. Longest matching prefix wins.
	PublicPaths      []string `env:"PUBLIC_PATHS,delimiter=;,default=/api/v1/health;/metrics"`
	SessionPaths     []string `env:"SESSION_PATHS,delimiter=;,default=/dashboard"`
	RateLimitedPaths []string `env:"RATE_LIMITED_PATHS,delimiter=;,default=/api/"`

	Realm     string `env:"AUTH_REALM,default=gatekeeper"`
	LoginPath string `env:"LOGIN_PATH,default=/login"`

	// Subjects allowed to reset rate-limit windows. Empty means the
	// admin surface is disabled.
	AdminUserIDs []uuid.UUID `env:"ADMIN_USER_IDS"`

	CORSOrigins []string `env:"CORS_ORIGINS"`
	LogLevel    string   `env:"LOG_LEVEL,default=info"`

	// HTTP server timeouts
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`
}

// Load reads configuration from environment variables and returns a
// validated Config.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("GATEKEEPER_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.RedisURL)
	}
	if c.RateLimitWindow < time.Second {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s, got %s", c.RateLimitWindow)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if c.APIRateLimit < 1 {
		return fmt.Errorf("API_RATE_LIMIT must be at least 1, got %d", c.APIRateLimit)
	}
	if c.AnonymousRateLimit < 1 {
		return fmt.Errorf("ANONYMOUS_RATE_LIMIT must be at least 1, got %d", c.AnonymousRateLimit)
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("LOGIN_PATH must be an absolute path, got %q", c.LoginPath)
	}
	return nil
}

// WindowSeconds returns the rate-limit window length in whole seconds.
func (c *Config) WindowSeconds() int {
	return int(c.RateLimitWindow / time.Second)
}
