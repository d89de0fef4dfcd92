// Package config loads colabd configuration from defaults, an optional
// YAML file and the process environment, in that order of precedence
// (later layers win).
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/blockwise/colabd/internal/logging"
)

// DefaultRetentionMS is how long an empty workspace is kept before its
// state is discarded, in milliseconds.
const DefaultRetentionMS = 120_000

// Config holds the full colabd runtime configuration.
type Config struct {
	// Port is the TCP port the HTTP/WebSocket server listens on.
	Port int `koanf:"port"`

	// Env is the deployment environment ("development", "production", ...).
	Env string `koanf:"env"`

	// JoinTokenSecret signs and verifies workspace join tickets.
	JoinTokenSecret string `koanf:"join_token_secret"`

	// CronSecret is the legacy shared secret. It doubles as the ticket
	// signing secret when JoinTokenSecret is unset.
	CronSecret string `koanf:"cron_secret"`

	// EmptyWorkspaceRetentionMS overrides DefaultRetentionMS.
	EmptyWorkspaceRetentionMS int64 `koanf:"empty_workspace_retention_ms"`

	// MaxConns caps concurrent TCP connections. Zero means unlimited.
	MaxConns int `koanf:"max_conns"`

	// LogLevel is the minimum log level ("debug", "info", "warn", "error").
	LogLevel string `koanf:"log_level"`
}

// envKeys maps process environment variables to config keys. Variables
// not listed here are ignored. The names are fixed by the deployment
// contract with the editor frontend, so no mechanical prefix transform
// can derive them.
var envKeys = map[string]string{
	"PORT":                               "port",
	"NODE_ENV":                           "env",
	"COLAB_JOIN_TOKEN_SECRET":            "join_token_secret",
	"CRON_SECRET":                        "cron_secret",
	"COLAB_EMPTY_WORKSPACE_RETENTION_MS": "empty_workspace_retention_ms",
	"COLAB_MAX_CONNS":                    "max_conns",
	"COLAB_LOG_LEVEL":                    "log_level",
}

func defaults() map[string]any {
	return map[string]any{
		"port":                         4000,
		"env":                          "development",
		"join_token_secret":            "",
		"cron_secret":                  "",
		"empty_workspace_retention_ms": int64(DefaultRetentionMS),
		"max_conns":                    0,
		"log_level":                    "info",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped
// when path is empty) and the process environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Empty-valued variables count as unset so that PORT= does not
	// clobber the default with a zero.
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return envKeys[key], value
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges. A production config without any secret is
// valid; the ticket verifier then refuses every admission rather than
// falling back to the development secret.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.EmptyWorkspaceRetentionMS < 0 {
		return fmt.Errorf("empty_workspace_retention_ms must not be negative, got %d", c.EmptyWorkspaceRetentionMS)
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max_conns must not be negative, got %d", c.MaxConns)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return nil
}

// SlogLevel returns the configured log level. Call Validate first; an
// unparseable level falls back to info here.
func (c *Config) SlogLevel() slog.Level {
	l, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// Addr returns the listen address, e.g. ":4000".
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Production reports whether the config targets a production deployment.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Retention returns the empty-workspace retention as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.EmptyWorkspaceRetentionMS) * time.Millisecond
}
