// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases through a small pool of
// zombiezen.com/go/sqlite connections with shared pragmas.
//
// Every connection gets:
//
//   - journal_mode=WAL, so a reader never blocks the writer;
//   - synchronous=NORMAL;
//   - busy_timeout=5000, so two flox processes editing the same
//     environment wait for each other instead of failing with
//     SQLITE_BUSY;
//   - foreign_keys=ON.
//
// Callers write SQL directly with sqlitex.Execute and manage
// transactions with sqlitex.ImmediateTransaction.
package sqlitepool
