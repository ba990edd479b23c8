// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package procstat

import (
	"context"
	"time"
)

func waitPidfd(context.Context, int, time.Duration) bool { return false }
