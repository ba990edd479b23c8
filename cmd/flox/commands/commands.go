// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the flox command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	activatecmd "github.com/flox/flox/cmd/flox/activate"
	activationscmd "github.com/flox/flox/cmd/flox/activations"
	"github.com/flox/flox/cmd/flox/cli"
	generationscmd "github.com/flox/flox/cmd/flox/generations"
	mutatecmd "github.com/flox/flox/cmd/flox/mutate"
	servicescmd "github.com/flox/flox/cmd/flox/services"
	"github.com/flox/flox/lib/version"
)

// Root returns the complete flox command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "flox",
		Description: `Flox: reproducible development environments.

Activate an environment to enter its shell, run its services in the
background, and move between the generations of a FloxHub
environment.`,
		Subcommands: []*cli.Command{
			activatecmd.Command(),
			servicescmd.Command(),
			generationscmd.Command(),
			mutatecmd.InstallCommand(),
			mutatecmd.UninstallCommand(),
			mutatecmd.EditCommand(),
			mutatecmd.UpgradeCommand(),
			mutatecmd.PullCommand(),
			activationscmd.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(context.Context, []string, *slog.Logger) error {
					fmt.Printf("flox %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{Description: "Enter the environment in the current directory", Command: "flox activate"},
			{Description: "Activate and start services", Command: "flox activate --start-services"},
			{Description: "Show service status", Command: "flox services status"},
		},
	}
}
