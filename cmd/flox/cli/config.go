// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"sync"

	"github.com/flox/flox/lib/config"
)

var loadConfig = sync.OnceValues(config.Load)

// Config returns the user configuration, loaded once per process.
func Config() (*config.Config, error) {
	return loadConfig()
}
