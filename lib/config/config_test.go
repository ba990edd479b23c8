// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate clears every variable Load consults.
func isolate(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		ConfigFileEnvVar, StartTimeoutEnvVar, RuntimeDirEnvVar, CacheDirEnvVar,
		ShellEnvVar, "XDG_CONFIG_HOME", "XDG_RUNTIME_DIR", "XDG_CACHE_HOME",
	} {
		t.Setenv(name, "")
	}
}

func TestDefault(t *testing.T) {
	config := Default()
	if config.ServicesStartTimeout != 2*time.Second {
		t.Errorf("ServicesStartTimeout = %s, want 2s", config.ServicesStartTimeout)
	}
	if config.WatchdogPollInterval != 100*time.Millisecond {
		t.Errorf("WatchdogPollInterval = %s, want 100ms", config.WatchdogPollInterval)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default().Validate(): %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	isolate(t)
	t.Setenv(ConfigFileEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))

	config, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if config.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", config.LogLevel)
	}
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "flox.yaml")
	content := `
log_level: debug
services_start_timeout: 5s
watchdog_poll_interval: 250ms
runtime_dir: /run/user/1000/custom
shell: zsh
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if config.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", config.Level())
	}
	if config.ServicesStartTimeout != 5*time.Second {
		t.Errorf("ServicesStartTimeout = %s", config.ServicesStartTimeout)
	}
	if config.WatchdogPollInterval != 250*time.Millisecond {
		t.Errorf("WatchdogPollInterval = %s", config.WatchdogPollInterval)
	}
	if config.Shell != "zsh" {
		t.Errorf("Shell = %q", config.Shell)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "flox.yaml")
	if err := os.WriteFile(path, []byte("services_start_timeout: 5s\nshell: zsh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(StartTimeoutEnvVar, "0.5")
	t.Setenv(ShellEnvVar, "fish")
	t.Setenv(RuntimeDirEnvVar, "/tmp/flox-run")

	config, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if config.ServicesStartTimeout != 500*time.Millisecond {
		t.Errorf("ServicesStartTimeout = %s, want 500ms", config.ServicesStartTimeout)
	}
	if config.Shell != "fish" {
		t.Errorf("Shell = %q, want fish", config.Shell)
	}
	if dir, _ := config.ResolveRuntimeDir(); dir != "/tmp/flox-run" {
		t.Errorf("ResolveRuntimeDir = %q", dir)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     string
		want    string
	}{
		{name: "bad level", content: "log_level: loud\n", want: "log_level must be one of"},
		{name: "zero timeout", content: "services_start_timeout: 0s\n", want: "services_start_timeout must be positive"},
		{name: "bad env timeout", env: "soon", want: StartTimeoutEnvVar},
		{name: "malformed yaml", content: "log_level: [\n", want: "parsing config"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			isolate(t)
			path := filepath.Join(t.TempDir(), "flox.yaml")
			if err := os.WriteFile(path, []byte(test.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if test.env != "" {
				t.Setenv(StartTimeoutEnvVar, test.env)
			}
			_, err := LoadFile(path)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("error = %v, want containing %q", err, test.want)
			}
		})
	}
}

func TestResolveRuntimeDir(t *testing.T) {
	isolate(t)
	config := Default()

	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if dir, _ := config.ResolveRuntimeDir(); dir != "/run/user/1000/flox" {
		t.Errorf("with XDG_RUNTIME_DIR: %q", dir)
	}

	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("XDG_CACHE_HOME", "/home/u/.cache")
	if dir, _ := config.ResolveRuntimeDir(); dir != "/home/u/.cache/flox/run" {
		t.Errorf("cache fallback: %q", dir)
	}
}
