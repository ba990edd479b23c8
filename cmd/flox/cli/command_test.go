// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func noop(context.Context, []string, *slog.Logger) error { return nil }

func TestExecuteDispatchesToNestedSubcommand(t *testing.T) {
	var called string
	var received []string
	root := &Command{
		Name: "flox",
		Subcommands: []*Command{
			{Name: "activate", Run: func(_ context.Context, args []string, _ *slog.Logger) error {
				called = "activate"
				return nil
			}},
			{Name: "services", Subcommands: []*Command{
				{Name: "start", Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					called = "services start"
					received = args
					return nil
				}},
			}},
		},
	}

	if err := root.Execute([]string{"services", "start", "web", "db"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "services start" || !slices.Equal(received, []string{"web", "db"}) {
		t.Errorf("dispatched to %q with %v", called, received)
	}
}

func TestExecuteParsesParams(t *testing.T) {
	type activateParams struct {
		Mode          string `flag:"mode,m" desc:"activation mode"`
		StartServices bool   `flag:"start-services" desc:"start services"`
	}
	var params activateParams
	var received []string
	command := &Command{
		Name:   "activate",
		Params: func() any { return &params },
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			received = args
			return nil
		},
	}

	err := command.Execute([]string{"-m", "run", "--start-services", "--", "make", "-j4"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if params.Mode != "run" || !params.StartServices {
		t.Errorf("params = %+v", params)
	}
	if !slices.Equal(received, []string{"make", "-j4"}) {
		t.Errorf("args = %v, want [make -j4]", received)
	}
}

func TestExecuteUnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "logs",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("logs", pflag.ContinueOnError)
			flagSet.Bool("follow", false, "follow output")
			flagSet.Int("tail", 15, "lines")
			return flagSet
		},
		Run: noop,
	}

	err := command.Execute([]string{"--folow"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "did you mean --follow?") {
		t.Errorf("error = %q", err)
	}
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Category != CategoryValidation {
		t.Errorf("error is not a validation ToolError: %#v", err)
	}
}

func TestExecuteUnknownSubcommand(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		notWant string
	}{
		{input: "servces", want: `did you mean "services"?`},
		{input: "zzzzzzzzzz", want: `unknown command "zzzzzzzzzz"`, notWant: "did you mean"},
		{input: "_activation", want: `unknown command "_activation"`, notWant: "_activations"},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			root := &Command{
				Name: "flox",
				Subcommands: []*Command{
					{Name: "services", Run: noop},
					{Name: "activate", Run: noop},
					{Name: "_activations", Hidden: true, Run: noop},
				},
			}
			err := root.Execute([]string{test.input})
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %q, want %q", err, test.want)
			}
			if test.notWant != "" && strings.Contains(err.Error(), test.notWant) {
				t.Errorf("error = %q, should not contain %q", err, test.notWant)
			}
		})
	}
}

func TestExecuteHiddenCommandStillDispatches(t *testing.T) {
	called := false
	root := &Command{
		Name: "flox",
		Subcommands: []*Command{
			{Name: "_activations", Hidden: true, Subcommands: []*Command{
				{Name: "attach", Run: func(context.Context, []string, *slog.Logger) error {
					called = true
					return nil
				}},
			}},
		},
	}
	if err := root.Execute([]string{"_activations", "attach"}); err != nil || !called {
		t.Fatalf("hidden command not run: %v", err)
	}
	var buffer bytes.Buffer
	root.PrintHelp(&buffer)
	if strings.Contains(buffer.String(), "_activations") {
		t.Errorf("help lists hidden command:\n%s", buffer.String())
	}
}

func TestExecuteSubcommandRequired(t *testing.T) {
	root := &Command{Name: "flox", Subcommands: []*Command{{Name: "activate", Run: noop}}}
	err := root.Execute(nil)
	if err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %v, want subcommand required", err)
	}
}

func TestVerbosityLowersLevel(t *testing.T) {
	tests := []struct {
		args []string
		want slog.Level
	}{
		{args: []string{"run"}, want: slog.LevelWarn},
		{args: []string{"-v", "run"}, want: slog.LevelInfo},
		{args: []string{"-vv", "run"}, want: slog.LevelDebug},
		{args: []string{"--verbose", "-v", "run"}, want: slog.LevelDebug},
	}
	for _, test := range tests {
		t.Run(strings.Join(test.args, " "), func(t *testing.T) {
			var got slog.Level
			var run *Command
			run = &Command{Name: "run", Run: func(context.Context, []string, *slog.Logger) error {
				got = run.level()
				return nil
			}}
			root := &Command{Name: "flox", LogLevel: slog.LevelWarn, Subcommands: []*Command{run}}
			if err := root.Execute(test.args); err != nil {
				t.Fatal(err)
			}
			if got != test.want {
				t.Errorf("level = %v, want %v", got, test.want)
			}
		})
	}
}

func TestPrintHelp(t *testing.T) {
	var params struct {
		JSONOutput
		Tail int `flag:"tail,n" desc:"lines to show" default:"15"`
	}
	command := &Command{
		Name:        "logs",
		Description: "Show the logs of a service.",
		Usage:       "flox services logs [flags] <name>",
		Params:      func() any { return &params },
		Examples: []Example{
			{Description: "Follow the web server", Command: "flox services logs --follow web"},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()
	for _, want := range []string{
		"Show the logs of a service.",
		"flox services logs [flags] <name>",
		"Flags:",
		"--tail",
		"--json",
		"# Follow the web server",
		"flox services logs --follow web",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\n%s", want, output)
		}
	}
}

func TestFullName(t *testing.T) {
	root := &Command{Name: "flox"}
	services := &Command{Name: "services", parent: root}
	start := &Command{Name: "start", parent: services}
	if got := start.fullName(); got != "flox services start" {
		t.Errorf("fullName = %q", got)
	}
	if start.root() != root {
		t.Error("root() did not walk to the top")
	}
}
