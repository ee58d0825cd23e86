// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"portalid/internal/core/tx"
)

// Store kinds.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

const devJWTSecret = "dev-secret-change-me"

// Config is the full set of settings shared by the server and seqctl.
type Config struct {
	Env             string        `env:"APP_ENV" envDefault:"development"`
	Port            string        `env:"APP_PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	Store      string `env:"SEQUENCE_STORE" envDefault:"sqlite"`
	Timezone   string `env:"SEQUENCE_TIMEZONE" envDefault:"UTC"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"portalid.db"`

	DatabaseURL  string        `env:"DATABASE_URL"`
	DBMaxConns   int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns   int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	AutoMigrate  bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	AuditEnabled bool          `env:"AUDIT_ENABLED" envDefault:"true"`
	BusyTimeout  time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"5s"`

	TxMaxAttempts int           `env:"TX_MAX_ATTEMPTS" envDefault:"5"`
	TxBaseDelay   time.Duration `env:"TX_BASE_DELAY" envDefault:"10ms"`
	TxMaxDelay    time.Duration `env:"TX_MAX_DELAY" envDefault:"200ms"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"portalid"`
	JWTTTL    time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`

	IdempotencyEnabled bool          `env:"IDEMPOTENCY_ENABLED" envDefault:"false"`
	IdempotencyTTL     time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	StatsInterval   time.Duration `env:"POOL_STATS_INTERVAL" envDefault:"1m"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize lower-cases the store kind and fills the development JWT secret.
func (c *Config) Normalize() {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.JWTSecret == "" && c.IsDevelopment() {
		c.JWTSecret = devJWTSecret
	}
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}
	return nil
}

// ValidateStore checks only the settings needed to open the counter store.
func (c Config) ValidateStore() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SEQUENCE_STORE=%s", StorePostgres)
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required when SEQUENCE_STORE=%s", StoreSQLite)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown SEQUENCE_STORE %q (want %s, %s or %s)", c.Store, StorePostgres, StoreSQLite, StoreMemory)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.TxMaxAttempts < 1 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be at least 1, got %d", c.TxMaxAttempts)
	}
	return nil
}

// IsDevelopment reports whether APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Location returns the time zone the epoch is derived in.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SEQUENCE_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RetryPolicy returns the store retry policy.
func (c Config) RetryPolicy() tx.RetryPolicy {
	return tx.RetryPolicy{
		MaxAttempts: c.TxMaxAttempts,
		BaseDelay:   c.TxBaseDelay,
		MaxDelay:    c.TxMaxDelay,
	}.Normalize()
}
