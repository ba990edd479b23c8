// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	original := &Config{
		Socket: "/run/flox/abc/services.sock",
		System: "x86_64-linux",
		Services: map[string]ServiceConfig{
			"postgres": {Command: "postgres -D $PGDATA", Vars: map[string]string{"PGDATA": "/data"}},
			"redis":    {Command: "redis-server --daemonize yes", IsDaemon: true, ShutdownCommand: "redis-cli shutdown"},
		},
		StopGracePeriod: 5 * time.Second,
	}
	if err := WriteConfig(path, original); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want, _ := original.Digest()
	got, _ := loaded.Digest()
	if got != want {
		t.Errorf("digest changed across a round trip: %s != %s", got, want)
	}
	if loaded.gracePeriod() != 5*time.Second {
		t.Errorf("grace period = %v", loaded.gracePeriod())
	}
	if strings.Join(loaded.Names(), ",") != "postgres,redis" {
		t.Errorf("names = %v", loaded.Names())
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{"no socket", Config{}, "supervisor config has no socket path"},
		{"no command", Config{Socket: "s", Services: map[string]ServiceConfig{"a": {}}}, "service 'a' has no command"},
		{
			"daemon without shutdown",
			Config{Socket: "s", Services: map[string]ServiceConfig{"d": {Command: "x", IsDaemon: true}}},
			"service 'd' is a daemon and requires a shutdown command",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.config.Validate()
			if err == nil || err.Error() != test.want {
				t.Errorf("Validate() = %v, want %q", err, test.want)
			}
		})
	}
}

func TestDefaultGracePeriod(t *testing.T) {
	if got := (&Config{}).gracePeriod(); got != DefaultStopGracePeriod {
		t.Errorf("gracePeriod = %v", got)
	}
}

func TestLockPath(t *testing.T) {
	if got := LockPath("/run/flox/abc/services.sock"); got != "/run/flox/abc/services.lock" {
		t.Errorf("LockPath = %s", got)
	}
}
