// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package activations is the on-disk record of which activations of an
// environment instance are alive and which of them owns the service
// supervisor.
//
// The record is activations.json in the instance state directory. All
// access goes through a transaction ([Open], [Update], [Read]) that
// holds an exclusive lock on the activations.json.lock sidecar for its
// whole duration. The sidecar exists because the JSON file itself is
// replaced by rename on every commit, and a lock on a replaced inode
// protects nothing.
//
// The document is versioned. A file written by an incompatible flox
// is reported with [UnsupportedVersionError], which lists the PIDs of
// the activations recorded in it, and is never rewritten.
package activations
