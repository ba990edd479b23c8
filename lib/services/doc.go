// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package services is the user-facing side of an environment's
// supervisor: it validates service names against the manifest,
// launches a supervisor when none is running, and translates
// supervisor replies into the messages flox prints.
//
// Name validation is all-or-nothing. When any requested name is
// unknown or unavailable on the current system, nothing is started
// and every problem is reported together in a [ValidationError].
package services
