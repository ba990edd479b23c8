// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog ends an activation when the process that owns it
// exits. One watchdog runs per activation, detached from the user's
// shell, so cleanup happens even when the shell is killed outright.
//
// [Run] watches the activation's owning PID (pidfd where available,
// polling otherwise) and the registry directory (fsnotify, so a PID
// attach is noticed at once). When the owner is gone and no
// unexpired grace period holds the record, the watchdog removes the
// activation under the registry lock. If that leaves the registry
// empty it shuts the supervisor down and waits for its socket to
// disappear before committing, so a concurrent status query sees
// either a live supervisor or no socket at all. Every completed
// cleanup logs "finished cleanup".
//
// The watchdog never signals the user's shell. Its only channels are
// the registry and the supervisor socket.
package watchdog
