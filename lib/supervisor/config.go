// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/flox/flox/lib/atomicfile"
)

// DefaultStopGracePeriod is how long a stopped service has between
// SIGTERM and SIGKILL.
const DefaultStopGracePeriod = 3 * time.Second

// Config is the supervisor's YAML configuration, written by the client
// that launches it.
type Config struct {
	// Socket is the control socket path.
	Socket string `yaml:"socket"`

	// LogDir receives services.<name>.log files. Empty disables
	// file logging.
	LogDir string `yaml:"log_dir,omitempty"`

	System string `yaml:"system,omitempty"`

	// Environment is added to every service's environment, on top of
	// the supervisor's own.
	Environment map[string]string `yaml:"environment,omitempty"`

	Services map[string]ServiceConfig `yaml:"services"`

	StopGracePeriod time.Duration `yaml:"stop_grace_period,omitempty"`
}

// ServiceConfig is one supervised service.
type ServiceConfig struct {
	Command         string            `yaml:"command"`
	Vars            map[string]string `yaml:"vars,omitempty"`
	IsDaemon        bool              `yaml:"is_daemon,omitempty"`
	ShutdownCommand string            `yaml:"shutdown_command,omitempty"`
}

// Names returns the configured service names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) gracePeriod() time.Duration {
	if c.StopGracePeriod > 0 {
		return c.StopGracePeriod
	}
	return DefaultStopGracePeriod
}

// Validate checks the fields the supervisor cannot run without.
func (c *Config) Validate() error {
	if c.Socket == "" {
		return fmt.Errorf("supervisor config has no socket path")
	}
	for name, service := range c.Services {
		if service.Command == "" {
			return fmt.Errorf("service '%s' has no command", name)
		}
		if service.IsDaemon && service.ShutdownCommand == "" {
			return fmt.Errorf("service '%s' is a daemon and requires a shutdown command", name)
		}
	}
	return nil
}

// Encode renders c as YAML.
func (c *Config) Encode() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding supervisor config: %w", err)
	}
	return data, nil
}

// Digest identifies the rendered config. Two configs with the same
// digest start the same services the same way.
func (c *Config) Digest() (string, error) {
	data, err := c.Encode()
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

// WriteConfig atomically writes c to path.
func WriteConfig(path string, c *Config) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating supervisor config directory: %w", err)
	}
	return atomicfile.Write(path, data, 0o600)
}

// LoadConfig reads and validates the config at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading supervisor config: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing supervisor config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LockPath is the singleton lock that sits beside socketPath.
func LockPath(socketPath string) string {
	return filepath.Join(filepath.Dir(socketPath), "services.lock")
}
