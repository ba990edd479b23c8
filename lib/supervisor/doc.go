// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs an environment's services. One supervisor
// runs per environment instance, guarded by a lock file next to its
// control socket. It owns every service child process: each runs in
// its own process group, has its output captured into an in-memory
// ring and a rotating log file, and is stopped with SIGTERM followed
// by SIGKILL (or the service's shutdown command).
//
// The supervisor is driven over a [control] socket with these actions:
//
//   - list: state of every configured service
//   - config: names of the loaded services and the config digest
//   - start, stop, restart: {name}
//   - logs: streaming {names, tail, follow}
//   - shutdown: stop everything, reply, then exit
//
// Clients normally reach it through the services package rather than
// calling these actions directly.
package supervisor
