// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package environment locates flox environments on disk and derives the
// paths every other package agrees on.
//
// An environment lives in a .flox directory:
//
//	.flox/
//	  env.json             pointer: name, and owner for FloxHub-tracked environments
//	  env/manifest.toml    the manifest
//	  env/manifest.lock    the lockfile, when one has been produced
//	  env.lock             mutation lock
//	  generations.db       generation history (FloxHub-tracked only)
//	  log/                 watchdog and service logs
//	  run/                 build cache and out-links
//
// Runtime state that must not outlive a reboot (activation registry,
// activation state directories, supervisor socket) lives under the
// runtime directory in a subdirectory named by the instance key. Two
// activations share a supervisor exactly when their instance keys are
// equal: path environments are keyed by their .flox directory, remote
// environments by owner/name, so activating the same remote environment
// from several working directories still yields a single supervisor.
package environment
