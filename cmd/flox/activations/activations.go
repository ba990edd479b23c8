// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package activations implements the hidden "_activations" commands
// invoked by activation scripts.
package activations

import (
	"context"
	"log/slog"

	"github.com/flox/flox/cmd/flox/cli"
	"github.com/flox/flox/lib/activate"
)

// Command returns the hidden _activations command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:        "_activations",
		Hidden:      true,
		Subcommands: []*cli.Command{attachCommand()},
	}
}

type attachParams struct {
	RegistryDir string `flag:"registry-dir" desc:"state directory holding the activation registry"`
	ID          string `flag:"id" desc:"activation id"`
	PID         int    `flag:"pid" desc:"process to attach"`
	RemovePID   int    `flag:"remove-pid" desc:"provisional PID to replace"`
}

func attachCommand() *cli.Command {
	var params attachParams
	return &cli.Command{
		Name:    "attach",
		Summary: "Attach a shell to an in-place activation",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := validate(params); err != nil {
				return err
			}
			logger.Debug("attaching activation", "id", params.ID, "pid", params.PID, "provisional", params.RemovePID)
			return activate.Attach(ctx, params.RegistryDir, params.ID, params.PID, params.RemovePID)
		},
	}
}

func validate(params attachParams) error {
	switch {
	case params.RegistryDir == "":
		return cli.Validation("--registry-dir is required")
	case params.ID == "":
		return cli.Validation("--id is required")
	case params.PID <= 0:
		return cli.Validation("--pid must be a positive process id")
	}
	return nil
}
