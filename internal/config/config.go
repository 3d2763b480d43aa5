// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config holds all runtime settings. Every field has a usable default so
// the server starts with no environment at all (in-memory store, no cache).
type Config struct {
	Addr         string        `env:"ADDR" envDefault:":8080"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	RedisURL     string        `env:"REDIS_URL"`
	LockTimeout  time.Duration `env:"LOCK_TIMEOUT" envDefault:"3s"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"2s"`
	InitialPurse string        `env:"INITIAL_PURSE" envDefault:"1200000000"`
	SquadCap     int           `env:"SQUAD_CAP" envDefault:"25"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`

	purse decimal.Decimal
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	purse, err := decimal.NewFromString(cfg.InitialPurse)
	if err != nil {
		return nil, fmt.Errorf("INITIAL_PURSE %q: %w", cfg.InitialPurse, err)
	}
	if purse.IsNegative() {
		return nil, fmt.Errorf("INITIAL_PURSE must be non-negative, got %s", purse)
	}
	cfg.purse = purse

	if cfg.SquadCap <= 0 {
		return nil, fmt.Errorf("SQUAD_CAP must be positive, got %d", cfg.SquadCap)
	}
	if cfg.LockTimeout <= 0 {
		return nil, fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", cfg.LockTimeout)
	}
	return cfg, nil
}

// Purse returns the initial team purse as a decimal.
func (c *Config) Purse() decimal.Decimal { return c.purse }
