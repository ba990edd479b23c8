// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package shell

import "strings"

// Fish is the friendly interactive shell.
type Fish struct{}

func (Fish) Name() string          { return "fish" }
func (Fish) RCFileName() string    { return "activate.fish" }
func (Fish) PIDVariable() string   { return "$fish_pid" }
func (Fish) Quote(s string) string { return fishQuote(s) }

func (Fish) Render(s Snippet) string {
	var b strings.Builder
	for _, name := range s.Unsets {
		b.WriteString("set -e " + name + ";\n")
	}
	for _, v := range s.Exports {
		b.WriteString("set -gx " + v.Name + " " + fishQuote(v.Value) + ";\n")
	}
	for _, path := range s.Sources {
		b.WriteString("source " + fishQuote(path) + ";\n")
	}
	for _, command := range s.Commands {
		b.WriteString(command + "\n")
	}
	return b.String()
}

func (Fish) Interactive(rcfile string) Invocation {
	return Invocation{Args: []string{"fish", "--init-command", "source " + fishQuote(rcfile), "-i"}}
}

func (Fish) sealed() {}

// fishQuote quotes s for fish, where backslash and single quote are the
// only escapes inside single quotes.
func fishQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
