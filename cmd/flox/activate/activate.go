// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package activate implements "flox activate".
package activate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/flox/flox/cmd/flox/cli"
	"github.com/flox/flox/lib/activate"
	"github.com/flox/flox/lib/activations"
	"github.com/flox/flox/lib/environment"
	"github.com/flox/flox/lib/generations"
	"github.com/flox/flox/lib/services"
	"github.com/flox/flox/lib/shell"
	"github.com/flox/flox/lib/watchdog"
)

// SupervisorLogName is the supervisor's own log file in the
// environment's log directory.
const SupervisorLogName = "services.supervisor.log"

type activateParams struct {
	cli.EnvironmentFlags
	Mode          string `flag:"mode,m" desc:"activation mode: dev or run (default: the manifest's options.activate.mode, else dev)"`
	StartServices bool   `flag:"start-services,s" desc:"start the environment's services"`
	Generation    int    `flag:"generation" desc:"activate a FloxHub generation instead of the live manifest"`
	PrintScript   bool   `flag:"print-script" desc:"print the activation script for eval instead of starting a shell"`
}

// Command returns the activate command.
func Command() *cli.Command {
	var params activateParams
	return &cli.Command{
		Name:    "activate",
		Summary: "Enter the environment",
		Description: `Activate an environment.

Without a command, starts an interactive shell in the environment. When
stdout is not a terminal, or with --print-script, prints a script for
the calling shell to evaluate instead. With a command after "--", runs
that command in the environment and exits with its status.`,
		Usage:  "flox activate [flags] [-- <command> [args...]]",
		Params: func() any { return &params },
		Examples: []cli.Example{
			{Description: "Start a shell in the environment of the current directory", Command: "flox activate"},
			{Description: "Activate in the current shell", Command: `eval "$(flox activate)"`},
			{Description: "Run a command with services running", Command: "flox activate -s -- make test"},
			{Description: "Use generation 3 of a FloxHub environment", Command: "flox activate -r alice/web --generation 3"},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return run(ctx, &params, args, logger)
		},
	}
}

func run(ctx context.Context, params *activateParams, args []string, logger *slog.Logger) error {
	if params.Generation < 0 {
		return cli.Validation("--generation must be a positive number, got %d", params.Generation)
	}
	selection, err := params.Select()
	if err != nil {
		return err
	}
	cfg, instance := selection.Config, selection.Instance

	sh, err := shell.Detect(cfg.Shell)
	if err != nil {
		return cli.Validation("%w", err)
	}
	servicesToStart, err := parseServicesToStart(os.Getenv(activate.ServicesToStartEnvVar))
	if err != nil {
		return cli.Validation("%w", err)
	}

	request := activate.Request{
		Instance:        instance,
		Mode:            params.Mode,
		StartServices:   params.StartServices,
		ServicesToStart: servicesToStart,
		Shell:           sh,
		Invocation:      chooseInvocation(args, params.PrintScript, term.IsTerminal(int(os.Stdout.Fd()))),
		Command:         args,
		Chain:           selection.Chain,
	}
	if params.Generation > 0 {
		generation := params.Generation
		request.Generation = &generation
	}

	controller := &activate.Controller{
		Builder:              environment.NixBuilder{System: environment.CurrentSystem()},
		ResolveGeneration:    resolveGeneration,
		Watchdog:             watchdog.ProcessSpawner{},
		WatchdogPollInterval: cfg.WatchdogPollInterval,
		Starter:              services.ProcessStarter{LogFile: filepath.Join(instance.LogDir(), SupervisorLogName)},
		StartTimeout:         cfg.ServicesStartTimeout,
		Out:                  cli.Stderr,
		Logger:               logger,
	}
	result, err := controller.Activate(ctx, request)
	if err != nil {
		var hookErr *activate.HookError
		if errors.As(err, &hookErr) {
			cli.Stderr.Error(hookErr.Error())
			return &cli.ExitError{Code: hookErr.Code}
		}
		return categorize(err)
	}

	switch request.Invocation {
	case activate.InPlace:
		if !result.AlreadyActive {
			fmt.Print(result.Script)
		}
		return nil
	default:
		return execute(result)
	}
}

// chooseInvocation picks how the environment is entered.
func chooseInvocation(command []string, printScript, stdoutIsTerminal bool) activate.Invocation {
	switch {
	case len(command) > 0:
		return activate.Command
	case printScript || !stdoutIsTerminal:
		return activate.InPlace
	}
	return activate.Interactive
}

// parseServicesToStart decodes the JSON array of service names a
// parent "flox services start" passes down.
func parseServicesToStart(value string) ([]string, error) {
	if value == "" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(value), &names); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", activate.ServicesToStartEnvVar, err)
	}
	return names, nil
}

func resolveGeneration(ctx context.Context, instance *environment.Instance, generation int) (environment.Source, error) {
	store, err := generations.Open(generations.Config{Path: instance.GenerationsPath()})
	if err != nil {
		return environment.Source{}, err
	}
	defer store.Close()
	return store.Resolve(ctx, generation)
}

// categorize maps activation failures onto CLI error categories.
func categorize(err error) error {
	var (
		alreadyActive *activate.AlreadyActiveError
		invalidMode   *activate.InvalidModeError
		modeMismatch  *activations.ModeMismatchError
		unsupported   *activations.UnsupportedVersionError
		missing       *generations.NotFoundError
		servicesErr   *activate.ServicesError
	)
	switch {
	case errors.As(err, &alreadyActive):
		return cli.Wrap(cli.CategoryConflict, err)
	case errors.As(err, &invalidMode), errors.Is(err, activate.ErrGenerationsUnsupported):
		return cli.Wrap(cli.CategoryValidation, err)
	case errors.As(err, &modeMismatch), errors.As(err, &unsupported):
		return cli.Wrap(cli.CategoryConflict, err)
	case errors.As(err, &missing):
		return cli.Wrap(cli.CategoryNotFound, err)
	case errors.As(err, &servicesErr):
		return cli.Wrap(cli.CategoryTransient, err)
	}
	return err
}

// execute replaces the flox process with the activation's shell or
// command. The process keeps its PID, which is the one recorded as the
// activation's owner.
func execute(result *activate.Result) error {
	if len(result.Exec) == 0 {
		return cli.Internal("activation produced nothing to run")
	}
	path, err := lookPath(result.Exec[0], result.ExecEnv)
	if err != nil {
		return cli.NotFound("%w", err)
	}
	if err := syscall.Exec(path, result.Exec, result.ExecEnv); err != nil {
		return fmt.Errorf("executing %s: %w", result.Exec[0], err)
	}
	return nil
}

// lookPath resolves name against the PATH in environ, which is the
// activated PATH rather than the one flox was started with.
func lookPath(name string, environ []string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	var pathList string
	for _, entry := range environ {
		if value, ok := strings.CutPrefix(entry, "PATH="); ok {
			pathList = value
		}
	}
	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("command %q not found in the activated PATH", name)
}
