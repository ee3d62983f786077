package strata

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config consolidates store, pool and logging settings.
type Config struct {
	Database DatabaseConfig `json:"database"`
	Pool     PoolConfig     `json:"pool"`
	Logging  LoggingConfig  `json:"logging"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `json:"host" env:"STRATA_DB_HOST"`
	Port     int    `json:"port" env:"STRATA_DB_PORT"`
	Database string `json:"database" env:"STRATA_DB_NAME"`
	Username string `json:"username" env:"STRATA_DB_USER"`
	Password string `json:"password" env:"STRATA_DB_PASSWORD"`
	SSLMode  string `json:"sslMode" env:"STRATA_DB_SSLMODE"`
}

// PoolConfig contains connection checkout settings.
// MaxConnections bounds concurrent checkouts, AcquireTimeout bounds the wait
// for a free connection, StatementTimeout bounds a single query execution.
type PoolConfig struct {
	MaxConnections   int           `json:"maxConnections" env:"STRATA_POOL_MAX_CONNECTIONS"`
	AcquireTimeout   time.Duration `json:"acquireTimeout" env:"STRATA_POOL_ACQUIRE_TIMEOUT"`
	StatementTimeout time.Duration `json:"statementTimeout" env:"STRATA_POOL_STATEMENT_TIMEOUT"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level    string `json:"level" env:"STRATA_LOG_LEVEL"`
	Encoding string `json:"encoding" env:"STRATA_LOG_ENCODING"`
}

// DefaultConfig returns a config with sane local-development defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "strata",
			Username: "postgres",
			Password: "postgres",
			SSLMode:  "disable",
		},
		Pool: PoolConfig{
			MaxConnections:   10,
			AcquireTimeout:   5 * time.Second,
			StatementTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// LoadConfig returns the defaults overridden by environment variables.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for values the store cannot run with.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return NewValidationError("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return NewValidationError(fmt.Sprintf("invalid database port %d", c.Database.Port))
	}
	if c.Database.Database == "" {
		return NewValidationError("database name is required")
	}
	if c.Pool.MaxConnections <= 0 {
		return NewValidationError("pool max connections must be positive")
	}
	if c.Pool.AcquireTimeout <= 0 {
		return NewValidationError("pool acquire timeout must be positive")
	}
	if c.Pool.StatementTimeout <= 0 {
		return NewValidationError("pool statement timeout must be positive")
	}
	return nil
}

// DSN assembles the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}
