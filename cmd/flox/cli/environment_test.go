// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"path/filepath"
	"testing"

	"github.com/flox/flox/lib/activate"
	"github.com/flox/flox/lib/config"
)

func TestLocatorReadsSocketOverride(t *testing.T) {
	cfg := config.Default()
	cfg.RuntimeDir = t.TempDir()
	cfg.CacheDir = t.TempDir()

	override := filepath.Join(t.TempDir(), "test.sock")
	t.Setenv(activate.SocketEnvVar, override)
	locator, err := Locator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if locator.RuntimeDir != cfg.RuntimeDir || locator.SocketOverride != override {
		t.Errorf("locator = %+v", locator)
	}

	t.Setenv(activate.SocketEnvVar, "")
	if locator, _ = Locator(cfg); locator.SocketOverride != "" {
		t.Errorf("SocketOverride = %q with the variable empty", locator.SocketOverride)
	}
}
