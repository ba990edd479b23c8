// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package shell

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Var is one exported environment variable.
type Var struct {
	Name  string
	Value string
}

// Snippet is a shell-agnostic description of what an activation does
// to a shell session. Render emits, in order: unsets, exports, sources,
// commands.
type Snippet struct {
	Exports  []Var
	Unsets   []string
	Sources  []string
	Commands []string
}

// Invocation is how to start a shell interactively.
type Invocation struct {
	Args []string
	Env  []Var
}

// Shell is one supported shell.
type Shell interface {
	// Name is the shell's executable name.
	Name() string

	// Render returns source text for s.
	Render(s Snippet) string

	// RCFileName is the file name the rc file must have in its
	// directory for [Shell.Interactive] to pick it up.
	RCFileName() string

	// Interactive returns the argv and extra environment that start an
	// interactive shell sourcing rcfile.
	Interactive(rcfile string) Invocation

	// PIDVariable expands to the PID of the running shell.
	PIDVariable() string

	// Quote returns s as a single word in the shell's syntax.
	Quote(s string) string

	sealed()
}

// Parse maps a shell name or path to a Shell.
func Parse(name string) (Shell, error) {
	switch filepath.Base(strings.TrimSpace(name)) {
	case "bash":
		return Bash{}, nil
	case "zsh":
		return Zsh{}, nil
	case "fish":
		return Fish{}, nil
	case "tcsh", "csh":
		return Tcsh{}, nil
	}
	return nil, fmt.Errorf("unsupported shell %q (supported: bash, zsh, fish, tcsh)", name)
}

// Detect chooses the user's shell: the configured name when set, then
// $SHELL, then bash. An explicitly configured but unsupported shell is
// an error; an unsupported $SHELL falls back to bash.
func Detect(configured string) (Shell, error) {
	if configured != "" {
		return Parse(configured)
	}
	if fromEnv, err := Parse(os.Getenv("SHELL")); err == nil {
		return fromEnv, nil
	}
	return Bash{}, nil
}

// Names lists the supported shells.
func Names() []string { return []string{"bash", "zsh", "fish", "tcsh"} }

// singleQuote quotes s for POSIX-style shells.
func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
