// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the helper binaries
// flox starts in the background, flox-watchdog and flox-services.
// Nobody reads their stderr once they are detached, so both log JSON
// to a rotating file and only write to stderr before the log is open.
package process
