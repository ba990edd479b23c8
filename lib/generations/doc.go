// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package generations records the manifest history of a FloxHub
// environment.
//
// Every mutation of a tracked environment stores the resulting
// manifest and lockfile as a new numbered generation and makes it
// live. Switching back to an older generation records a history event
// instead of a new snapshot. Snapshots are stored zstd-compressed in a
// SQLite database at .flox/generations.db.
//
// The history records the command that caused each event as
// [ProgramName] followed by the arguments, never the process's own
// argv[0].
package generations
