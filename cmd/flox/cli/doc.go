// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the flox binary.
//
// A [Command] tree dispatches on the first positional argument and
// binds flags from tagged params structs with [BindFlags]. Errors are
// returned as [ToolError] values carrying a category and an optional
// hint; [ExitError] ends the process with a given status and no
// message. [Messages] prints the ✔/!/✘ status lines users see, and
// [EnvironmentFlags] selects the environment a command works on.
package cli
