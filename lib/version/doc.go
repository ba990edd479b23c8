// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package version holds build information for the flox binaries.
//
// The variables are injected at build time with -ldflags -X and default
// to "unknown" / "0.0.0-dev" in development builds and tests.
package version
