// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package services implements "flox services".
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/flox/flox/cmd/flox/cli"
	"github.com/flox/flox/lib/activate"
	"github.com/flox/flox/lib/environment"
	"github.com/flox/flox/lib/generations"
	"github.com/flox/flox/lib/manifest"
	"github.com/flox/flox/lib/services"
	"github.com/flox/flox/lib/supervisor"
)

// Command returns the services command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "services",
		Summary: "Interact with the environment's services",
		Description: `Start, stop and inspect the services defined in the manifest.

Services run under one supervisor per environment, shared by every
activation of it. The supervisor shuts down when the last activation
exits.`,
		Subcommands: []*cli.Command{
			startCommand(),
			stopCommand(),
			restartCommand(),
			statusCommand(),
			logsCommand(),
		},
	}
}

type namesParams struct {
	cli.EnvironmentFlags
}

func startCommand() *cli.Command {
	var params namesParams
	return &cli.Command{
		Name:    "start",
		Summary: "Start services",
		Usage:   "flox services start [flags] [<name>...]",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, layer, err := activeTarget(ctx, "start", &params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			_, err = activate.StartServices(ctx, target, layer.ActivationID, args)
			return categorize(err)
		},
	}
}

func stopCommand() *cli.Command {
	var params namesParams
	return &cli.Command{
		Name:    "stop",
		Summary: "Stop running services",
		Usage:   "flox services stop [flags] [<name>...]",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, _, err := activeTarget(ctx, "stop", &params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			return categorize(target.Stop(ctx, args))
		},
	}
}

func restartCommand() *cli.Command {
	var params namesParams
	return &cli.Command{
		Name:    "restart",
		Summary: "Restart services",
		Usage:   "flox services restart [flags] [<name>...]",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, layer, err := activeTarget(ctx, "restart", &params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			_, err = activate.RestartServices(ctx, target, layer.ActivationID, args)
			return categorize(err)
		},
	}
}

type statusParams struct {
	cli.JSONOutput
	cli.EnvironmentFlags
}

func statusCommand() *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show the status of services",
		Usage:   "flox services status [flags] [<name>...]",
		Params:  func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, err := open(ctx, &params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			states, err := target.Status(ctx, args)
			if err != nil {
				return categorize(err)
			}
			if done, err := params.EmitJSON(states); done {
				return err
			}
			return writeStatusTable(os.Stdout, states)
		},
	}
}

type logsParams struct {
	cli.EnvironmentFlags
	Follow bool `flag:"follow,f" desc:"follow the output of the services"`
	Tail   int  `flag:"tail,n" desc:"number of lines to show" default:"15"`
}

func logsCommand() *cli.Command {
	var params logsParams
	return &cli.Command{
		Name:    "logs",
		Summary: "Show the output of services",
		Usage:   "flox services logs [flags] [<name>...]",
		Params:  func() any { return &params },
		Examples: []cli.Example{
			{Description: "Show the last lines of one service", Command: "flox services logs web"},
			{Description: "Follow every service", Command: "flox services logs --follow"},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, err := open(ctx, &params.EnvironmentFlags, logger)
			if err != nil {
				return err
			}
			return categorize(target.Logs(ctx, args, params.Follow, params.Tail, os.Stdout))
		},
	}
}

// open builds the service manager for the selected environment.
func open(ctx context.Context, flags *cli.EnvironmentFlags, logger *slog.Logger) (*services.Manager, error) {
	selection, err := flags.Select()
	if err != nil {
		return nil, err
	}
	return newManager(ctx, selection, os.Environ(), logger)
}

// activeTarget is open for commands that need the calling process to be
// inside an activation of the environment.
func activeTarget(ctx context.Context, action string, flags *cli.EnvironmentFlags, logger *slog.Logger) (*services.Manager, *activate.Layer, error) {
	selection, err := flags.Select()
	if err != nil {
		return nil, nil, err
	}
	layer, err := requireActivation(selection, action)
	if err != nil {
		return nil, nil, err
	}
	manager, err := newManager(ctx, selection, os.Environ(), logger)
	return manager, layer, err
}

// requireActivation returns the innermost layer of the selected
// environment. action names the command in the error.
func requireActivation(selection *cli.Selection, action string) (*activate.Layer, error) {
	layer := selection.Chain.Find(selection.Instance.Key())
	if layer == nil {
		notActivated := &cli.ToolError{Category: cli.CategoryValidation, Err: &services.NotActivatedError{Action: action}}
		return nil, notActivated.WithHint(fmt.Sprintf(
			"Activate the environment first with 'flox activate -d %s'.", selection.Instance.Project))
	}
	return layer, nil
}

// newManager loads the manifest the environment is active with: the
// pinned generation's when the calling activation pinned one, else the
// working manifest.
func newManager(ctx context.Context, selection *cli.Selection, environ []string, logger *slog.Logger) (*services.Manager, error) {
	instance := selection.Instance
	data, err := instance.ReadManifest()
	if err != nil {
		return nil, err
	}
	if layer := selection.Chain.Find(instance.Key()); layer != nil && layer.Generation != nil {
		source, err := pinnedSource(ctx, instance, *layer.Generation)
		if err != nil {
			return nil, err
		}
		data = source.Manifest
	}
	parsed, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}
	return &services.Manager{
		Instance:    instance,
		Manifest:    parsed,
		System:      environment.CurrentSystem(),
		Environment: activate.ServiceEnvironment(environ, parsed),
		Starter:     services.ProcessStarter{LogFile: filepath.Join(instance.LogDir(), "services.supervisor.log")},
		Timeout:     selection.Config.ServicesStartTimeout,
		Out:         cli.Stderr,
		Logger:      logger,
	}, nil
}

func pinnedSource(ctx context.Context, instance *environment.Instance, generation int) (environment.Source, error) {
	store, err := generations.Open(generations.Config{Path: instance.GenerationsPath()})
	if err != nil {
		return environment.Source{}, err
	}
	defer store.Close()
	return store.Resolve(ctx, generation)
}

// writeStatusTable prints NAME STATUS PID, leaving PID blank for
// services without a process.
func writeStatusTable(w io.Writer, states []supervisor.ProcessState) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tPID")
	for _, state := range states {
		pid := ""
		if !state.Status.Stopped() && state.PID > 0 {
			pid = strconv.Itoa(state.PID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", state.Name, state.Status, pid)
	}
	return tw.Flush()
}

func categorize(err error) error {
	var (
		validation *services.ValidationError
		stale      *services.StaleConfigError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &validation), errors.Is(err, services.ErrFollowNeedsName):
		return cli.Wrap(cli.CategoryValidation, err)
	case errors.As(err, &stale):
		return cli.Wrap(cli.CategoryConflict, err)
	case errors.Is(err, services.ErrNoServices), errors.Is(err, services.ErrNoServicesForSystem):
		return cli.Wrap(cli.CategoryNotFound, err)
	case errors.Is(err, services.ErrNotStarted), errors.Is(err, services.ErrSocketNotReady):
		return cli.Wrap(cli.CategoryTransient, err)
	}
	return err
}
