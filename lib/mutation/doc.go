// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package mutation changes an environment's working manifest.
//
// Every change runs the same sequence: refuse if the environment is
// active at a pinned generation in the calling process, take the
// environment's mutation lock, rewrite the manifest (and lockfile),
// and, for FloxHub-tracked environments, record the result as a new
// live generation. Switching and pulling restore an existing
// generation instead of creating one.
package mutation
