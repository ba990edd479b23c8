// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the flox user configuration.
//
// The file is YAML and is looked up in this order:
//
//   - $FLOX_CONFIG_FILE
//   - $XDG_CONFIG_HOME/flox/flox.yaml
//   - ~/.config/flox/flox.yaml
//
// A missing file is not an error; [Default] values apply. A few
// environment variables override the file regardless of its content,
// because flox sets them for its own child processes:
// _FLOX_SERVICES_ACTIVATE_TIMEOUT, FLOX_RUNTIME_DIR, FLOX_CACHE_DIR and
// FLOX_SHELL.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the user configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// ServicesStartTimeout bounds how long starting services waits
	// for the supervisor socket to answer.
	ServicesStartTimeout time.Duration `yaml:"services_start_timeout"`

	// WatchdogPollInterval is how often a watchdog rechecks its
	// activation when no event wakes it earlier.
	WatchdogPollInterval time.Duration `yaml:"watchdog_poll_interval"`

	// RuntimeDir holds activation registries and supervisor sockets.
	// Empty means $XDG_RUNTIME_DIR/flox, falling back to
	// <cache_dir>/run.
	RuntimeDir string `yaml:"runtime_dir"`

	// CacheDir holds pulled remote environments. Empty means
	// $XDG_CACHE_HOME/flox or ~/.cache/flox.
	CacheDir string `yaml:"cache_dir"`

	// Shell overrides shell detection for activation.
	Shell string `yaml:"shell"`

	// FloxHubURL is recorded in the pointer of environments pulled
	// from FloxHub.
	FloxHubURL string `yaml:"floxhub_url"`
}

// Environment variables that override file values.
const (
	ConfigFileEnvVar      = "FLOX_CONFIG_FILE"
	StartTimeoutEnvVar    = "_FLOX_SERVICES_ACTIVATE_TIMEOUT"
	RuntimeDirEnvVar      = "FLOX_RUNTIME_DIR"
	CacheDirEnvVar        = "FLOX_CACHE_DIR"
	ShellEnvVar           = "FLOX_SHELL"
	defaultFloxHubURL     = "https://hub.flox.dev"
	defaultStartTimeout   = 2 * time.Second
	defaultWatchdogPeriod = 100 * time.Millisecond
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel:             "warn",
		ServicesStartTimeout: defaultStartTimeout,
		WatchdogPollInterval: defaultWatchdogPeriod,
		FloxHubURL:           defaultFloxHubURL,
	}
}

// Load reads the configuration file, if any, and applies environment
// overrides.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the configuration at path. A missing file yields the
// defaults with environment overrides applied.
func LoadFile(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := config.applyEnvironment(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// Path returns the configuration file location, whether or not it
// exists.
func Path() (string, error) {
	if path := os.Getenv(ConfigFileEnvVar); path != "" {
		return path, nil
	}
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "flox", "flox.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating config file: %w", err)
	}
	return filepath.Join(home, ".config", "flox", "flox.yaml"), nil
}

func (c *Config) applyEnvironment() error {
	if value := os.Getenv(StartTimeoutEnvVar); value != "" {
		seconds, err := strconv.ParseFloat(value, 64)
		if err != nil || seconds <= 0 {
			return fmt.Errorf("%s must be a positive number of seconds, got %q", StartTimeoutEnvVar, value)
		}
		c.ServicesStartTimeout = time.Duration(seconds * float64(time.Second))
	}
	if value := os.Getenv(RuntimeDirEnvVar); value != "" {
		c.RuntimeDir = value
	}
	if value := os.Getenv(CacheDirEnvVar); value != "" {
		c.CacheDir = value
	}
	if value := os.Getenv(ShellEnvVar); value != "" {
		c.Shell = value
	}
	return nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ServicesStartTimeout <= 0 {
		return fmt.Errorf("services_start_timeout must be positive, got %s", c.ServicesStartTimeout)
	}
	if c.WatchdogPollInterval <= 0 {
		return fmt.Errorf("watchdog_poll_interval must be positive, got %s", c.WatchdogPollInterval)
	}
	return nil
}

// Level returns LogLevel as a slog level.
func (c *Config) Level() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelWarn
	}
	return level
}

func parseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", name)
}

// ResolveCacheDir returns the cache directory.
func (c *Config) ResolveCacheDir() (string, error) {
	if c.CacheDir != "" {
		return c.CacheDir, nil
	}
	if base := os.Getenv("XDG_CACHE_HOME"); base != "" {
		return filepath.Join(base, "flox"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating cache directory: %w", err)
	}
	return filepath.Join(home, ".cache", "flox"), nil
}

// ResolveRuntimeDir returns the directory holding per-environment
// runtime state. It is kept short because supervisor socket paths live
// beneath it.
func (c *Config) ResolveRuntimeDir() (string, error) {
	if c.RuntimeDir != "" {
		return c.RuntimeDir, nil
	}
	if base := os.Getenv("XDG_RUNTIME_DIR"); base != "" {
		return filepath.Join(base, "flox"), nil
	}
	cache, err := c.ResolveCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cache, "run"), nil
}
