// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package generations implements "flox generations".
package generations

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/flox/flox/cmd/flox/cli"
	"github.com/flox/flox/cmd/flox/mutate"
	"github.com/flox/flox/lib/activate"
	"github.com/flox/flox/lib/environment"
	"github.com/flox/flox/lib/generations"
	"github.com/flox/flox/lib/shell"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Command returns the generations command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "generations",
		Summary: "Inspect and switch the generations of a FloxHub environment",
		Description: `Every change to a FloxHub environment is stored as a numbered
generation. One generation is live: it is what activations use unless
they pin another with --generation.`,
		Subcommands: []*cli.Command{
			historyCommand(),
			listCommand(),
			switchCommand(),
			rollbackCommand(),
		},
	}
}

type listParams struct {
	cli.JSONOutput
	cli.EnvironmentFlags
}

// openStore opens the generation database of the selected environment.
func openStore(flags *cli.EnvironmentFlags, logger *slog.Logger) (*generations.Store, *environment.Instance, error) {
	selection, err := flags.Select()
	if err != nil {
		return nil, nil, err
	}
	instance := selection.Instance
	if !instance.Tracked() {
		return nil, nil, mutate.Categorize(activate.ErrGenerationsUnsupported)
	}
	store, err := generations.Open(generations.Config{Path: instance.GenerationsPath(), Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return store, instance, nil
}

func historyCommand() *cli.Command {
	var params listParams
	return &cli.Command{
		Name:    "history",
		Summary: "Show the changes made to the environment, newest first",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			store, _, err := openStore(&params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			events, err := store.History(ctx)
			if err != nil {
				return err
			}
			reverse(events)
			if done, err := params.EmitJSON(events); done {
				return err
			}
			return writeHistory(os.Stdout, events)
		},
	}
}

func listCommand() *cli.Command {
	var params listParams
	return &cli.Command{
		Name:    "list",
		Summary: "List generations, newest first",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			store, _, err := openStore(&params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			list, err := store.List(ctx)
			if err != nil {
				return err
			}
			reverse(list)
			if done, err := params.EmitJSON(list); done {
				return err
			}
			return writeList(os.Stdout, list)
		},
	}
}

type switchParams struct {
	cli.EnvironmentFlags
}

func switchCommand() *cli.Command {
	var params switchParams
	return &cli.Command{
		Name:    "switch",
		Summary: "Make a generation live",
		Usage:   "flox generations switch [flags] <generation>",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("switch requires exactly one generation number")
			}
			generation, err := strconv.Atoi(args[0])
			if err != nil || generation < 1 {
				return cli.Validation("invalid generation %q: expected a positive number", args[0])
			}
			editor, err := mutate.OpenEditor(&params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			if err := editor.Switch(ctx, generation); err != nil {
				return mutate.Categorize(err)
			}
			cli.Stderr.Success(fmt.Sprintf("Switched to generation %d", generation))
			return nil
		},
	}
}

func rollbackCommand() *cli.Command {
	var params switchParams
	return &cli.Command{
		Name:    "rollback",
		Summary: "Switch back to the previously live generation",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			editor, err := mutate.OpenEditor(&params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			generation, err := editor.Rollback(ctx)
			if err != nil {
				return mutate.Categorize(err)
			}
			cli.Stderr.Success(fmt.Sprintf("Switched to generation %d", generation))
			return nil
		},
	}
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

// writeHistory prints one block per event, separated by blank lines.
func writeHistory(w io.Writer, events []generations.Event) error {
	var b strings.Builder
	for index, event := range events {
		if index > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Date:       %s\n", event.Timestamp.UTC().Format(timeLayout))
		fmt.Fprintf(&b, "Author:     %s\n", event.Author)
		fmt.Fprintf(&b, "Host:       %s\n", event.Hostname)
		fmt.Fprintf(&b, "Generation: %d\n", event.Generation)
		fmt.Fprintf(&b, "Command:    %s\n", formatCommand(event.Command))
		fmt.Fprintf(&b, "Summary:    %s\n", event.Description)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// formatCommand joins argv, quoting the arguments that need it.
func formatCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		if arg != "" && strings.IndexFunc(arg, needsQuote) < 0 {
			quoted[i] = arg
		} else {
			quoted[i] = shell.Bash{}.Quote(arg)
		}
	}
	return strings.Join(quoted, " ")
}

func needsQuote(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@,+%", r))
}

func writeList(w io.Writer, list []generations.Generation) error {
	var b strings.Builder
	for index, generation := range list {
		if index > 0 {
			b.WriteString("\n")
		}
		live, lastLive := "", generation.LastActive.UTC().Format(timeLayout)
		if generation.Current {
			live, lastLive = " (live)", "Now"
		}
		fmt.Fprintf(&b, "Generation:  %d%s\n", generation.ID, live)
		fmt.Fprintf(&b, "Description: %s\n", generation.Description)
		fmt.Fprintf(&b, "Created:     %s\n", generation.Created.UTC().Format(timeLayout))
		fmt.Fprintf(&b, "Last Live:   %s\n", lastLive)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

