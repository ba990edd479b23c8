// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Messages prints user-facing status lines. Colors are used only when
// the writer is a terminal that supports them.
type Messages struct {
	w       io.Writer
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	plain   lipgloss.Style
}

// NewMessages returns a Messages writing to w.
func NewMessages(w io.Writer) *Messages {
	renderer := lipgloss.NewRenderer(w)
	return &Messages{
		w:       w,
		success: renderer.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		warning: renderer.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		failure: renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		plain:   renderer.NewStyle(),
	}
}

// Stderr is the process-wide message printer.
var Stderr = NewMessages(os.Stderr)

func (m *Messages) Success(message string) { m.line(m.success, "✔", message) }
func (m *Messages) Warning(message string) { m.line(m.warning, "!", message) }
func (m *Messages) Error(message string)   { m.line(m.failure, "✘", message) }

// Plain prints message without a prefix.
func (m *Messages) Plain(message string) {
	fmt.Fprintln(m.w, m.plain.Render(message))
}

func (m *Messages) line(style lipgloss.Style, prefix, message string) {
	fmt.Fprintf(m.w, "%s %s\n", style.Render(prefix), message)
}
