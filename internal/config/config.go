// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

// Package config loads service configuration from a YAML file and
// command-line flags. Flags win over the file, the file wins over defaults.
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/allcleardev/allclear-service/internal/xdg"
)

// RedisConfig holds backing-store connection settings.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// PostgresConfig holds account-directory connection settings.
type PostgresConfig struct {
	URL string `koanf:"url"`
}

// TicketConfig holds one-time-code lifetimes.
type TicketConfig struct {
	RegistrationTTL time.Duration `koanf:"registration_ttl"`
	PhoneTokenTTL   time.Duration `koanf:"phone_token_ttl"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig holds the metrics listener settings.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Config is the full service configuration. Session durations are fixed
// expiration classes, not configuration; see the session package constants.
type Config struct {
	Redis    RedisConfig    `koanf:"redis"`
	Postgres PostgresConfig `koanf:"postgres"`
	Tickets  TicketConfig   `koanf:"tickets"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`

	// Dev switches the backing store to an in-process map, for local
	// development without Redis.
	Dev bool `koanf:"dev"`
}

// Default returns the configuration used when no file or flag overrides a key.
func Default() Config {
	return Config{
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Tickets: TicketConfig{
			RegistrationTTL: 30 * time.Minute,
			PhoneTokenTTL:   15 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path, and flags, in
// ascending precedence. An empty path falls back to the XDG default location;
// a missing file there is not an error. Flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "load flags").
				Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").
			With("path", path).
			Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if !c.Dev && c.Redis.Addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("redis.addr cannot be empty")
	}
	if c.Tickets.RegistrationTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("tickets.registration_ttl must be positive")
	}
	if c.Tickets.PhoneTokenTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("tickets.phone_token_ttl must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return oops.Code("CONFIG_INVALID").
			With("format", c.Log.Format).
			Errorf("log.format must be text or json")
	}
	return nil
}
