// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil collects helpers shared by tests across flox
// packages: short socket directories, bounded channel assertions, and
// polling for conditions that depend on real child processes.
//
// Every helper that waits takes an explicit timeout and fails the test
// with a message instead of hanging.
package testutil
