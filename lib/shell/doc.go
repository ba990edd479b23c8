// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package shell renders activation snippets for the shells flox
// supports. The set is closed: [Bash], [Zsh], [Fish] and [Tcsh]. Each
// one turns a shell-agnostic [Snippet] (ordered exports, unsets, files
// to source, raw commands) into source text with that shell's quoting
// rules, and knows how to start itself interactively with a generated
// rc file.
//
// Callers above this package never branch on the shell kind; they
// build a Snippet and hand it to whichever Shell was detected.
package shell
