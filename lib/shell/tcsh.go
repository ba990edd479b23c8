// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package shell

import "strings"

// Tcsh is the TENEX C shell. It cannot be pointed at an alternate rc
// file, so the interactive shell is a login-less tcsh that sources the
// rc file and then replaces itself with an interactive one.
type Tcsh struct{}

func (Tcsh) Name() string          { return "tcsh" }
func (Tcsh) RCFileName() string    { return "activate.tcsh" }
func (Tcsh) PIDVariable() string   { return "$$" }
func (Tcsh) Quote(s string) string { return tcshQuote(s) }

func (Tcsh) Render(s Snippet) string {
	var b strings.Builder
	for _, name := range s.Unsets {
		b.WriteString("unsetenv " + name + ";\n")
	}
	for _, v := range s.Exports {
		b.WriteString("setenv " + v.Name + " " + tcshQuote(v.Value) + ";\n")
	}
	for _, path := range s.Sources {
		b.WriteString("source " + tcshQuote(path) + ";\n")
	}
	for _, command := range s.Commands {
		b.WriteString(command + "\n")
	}
	return b.String()
}

func (Tcsh) Interactive(rcfile string) Invocation {
	return Invocation{Args: []string{"tcsh", "-c", "source " + tcshQuote(rcfile) + " && exec tcsh -i"}}
}

func (Tcsh) sealed() {}

// tcshQuote is single quoting plus escapes for history expansion and
// newlines, which tcsh processes even inside single quotes.
func tcshQuote(s string) string {
	s = strings.ReplaceAll(s, "'", `'\''`)
	s = strings.ReplaceAll(s, "!", `\!`)
	s = strings.ReplaceAll(s, "\n", "\\\n")
	return "'" + s + "'"
}
