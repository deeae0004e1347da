// Package config loads process configuration from the environment.
// Command-line flags, where present, override these values.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds settings shared by every stablecall command.
type Config struct {
	DBPath          string        `env:"STABLECALL_DB"               envDefault:"stablecall.db"`
	Listen          string        `env:"STABLECALL_LISTEN"           envDefault:"127.0.0.1:8547"`
	StrictLayout    bool          `env:"STABLECALL_STRICT_LAYOUT"`
	LogLevel        string        `env:"STABLECALL_LOG_LEVEL"        envDefault:"info"`
	ShutdownTimeout time.Duration `env:"STABLECALL_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load parses Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cfg.Level(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Level returns LogLevel as a slog level ("debug", "info", "warn", "error").
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("STABLECALL_LOG_LEVEL: %w", err)
	}
	return level, nil
}
