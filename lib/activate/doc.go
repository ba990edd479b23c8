// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package activate enters an environment.
//
// An activation is admitted into the environment instance's activation
// registry, gets a state directory and a detached watchdog, runs the
// manifest's on-activate hook, optionally starts services, and is then
// rendered for the caller: an rc file and shell argv for an interactive
// shell, a script for in-place evaluation, or an argv for a command.
//
// Activations nest. The layers active in a process tree travel in
// _FLOX_ACTIVE_ENVIRONMENTS as a JSON array, newest first, and are held
// in memory as a [Layer] list pointing outwards.
package activate
