// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package shell

import (
	"path/filepath"
	"strings"
)

// Bash is GNU bash.
type Bash struct{}

func (Bash) Name() string          { return "bash" }
func (Bash) RCFileName() string    { return "activate.bash" }
func (Bash) PIDVariable() string   { return "$$" }
func (Bash) Quote(s string) string { return singleQuote(s) }
func (Bash) Render(s Snippet) string {
	return renderPOSIX(s)
}

func (Bash) Interactive(rcfile string) Invocation {
	return Invocation{Args: []string{"bash", "--rcfile", rcfile, "-i"}}
}

func (Bash) sealed() {}

// Zsh is the Z shell. It has no --rcfile flag, so the rc file is named
// .zshrc and its directory passed as ZDOTDIR.
type Zsh struct{}

func (Zsh) Name() string          { return "zsh" }
func (Zsh) RCFileName() string    { return ".zshrc" }
func (Zsh) PIDVariable() string   { return "$$" }
func (Zsh) Quote(s string) string { return singleQuote(s) }
func (Zsh) Render(s Snippet) string {
	return renderPOSIX(s)
}

func (Zsh) Interactive(rcfile string) Invocation {
	return Invocation{
		Args: []string{"zsh", "-i"},
		Env:  []Var{{Name: "ZDOTDIR", Value: filepath.Dir(rcfile)}},
	}
}

func (Zsh) sealed() {}

func renderPOSIX(s Snippet) string {
	var b strings.Builder
	for _, name := range s.Unsets {
		b.WriteString("unset " + name + ";\n")
	}
	for _, v := range s.Exports {
		b.WriteString("export " + v.Name + "=" + singleQuote(v.Value) + ";\n")
	}
	for _, path := range s.Sources {
		b.WriteString("source " + singleQuote(path) + ";\n")
	}
	for _, command := range s.Commands {
		b.WriteString(command + "\n")
	}
	return b.String()
}
