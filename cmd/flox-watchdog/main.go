// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Flox-watchdog outlives one activation and cleans up after it. It
// is spawned detached by "flox activate" and waits for the
// activation's owning process to exit, then removes the activation
// from the registry. When the last activation of an environment is
// gone it shuts the services supervisor down.
//
// Signals:
//
//	SIGUSR1          clean up now, even if the owner is alive
//	SIGINT, SIGTERM  stop watching without cleaning up
//	SIGQUIT          same as SIGTERM
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/flox/flox/lib/activations"
	"github.com/flox/flox/lib/process"
	"github.com/flox/flox/lib/version"
	"github.com/flox/flox/lib/watchdog"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(watchdog.Binary, err)
	}
}

func run(argv []string) error {
	args, showVersion, err := parseArgs(argv)
	if err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("%s %s\n", watchdog.Binary, version.Full())
		return nil
	}

	logger, closeLog := process.NewLogger(args.LogFile, slog.LevelDebug)
	defer closeLog()

	if args.LogFile != "" {
		err := watchdog.PruneLogs(filepath.Dir(args.LogFile), watchdog.DefaultKeepLogs, activeIn(args.RegistryDir))
		if err != nil {
			logger.Warn("pruning old watchdog logs", "error", err)
		}
	}

	signals := make(chan os.Signal, 4)
	signal.Notify(signals, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signals)

	config := args.Config()
	config.Logger = logger
	config.Signals = signals

	outcome, err := watchdog.Run(context.Background(), config)
	if err != nil {
		logger.Error("watchdog failed", "error", err)
		return err
	}
	logger.Info("watchdog finished", "outcome", outcome.String())
	return nil
}

func parseArgs(argv []string) (watchdog.Args, bool, error) {
	var (
		args        watchdog.Args
		showVersion bool
	)
	flags := pflag.NewFlagSet(watchdog.Binary, pflag.ContinueOnError)
	flags.StringVar(&args.ActivationID, "activation-id", "", "activation to watch (required)")
	flags.StringVar(&args.RegistryDir, "registry-dir", "", "state directory holding activations.json (required)")
	flags.StringVar(&args.SocketPath, "socket", "", "services supervisor control socket")
	flags.StringVar(&args.StateDir, "state-dir", "", "activation state directory removed on cleanup")
	flags.StringVar(&args.LogFile, "log-file", "", "write a JSON log to this file instead of stderr")
	flags.DurationVar(&args.PollInterval, "poll-interval", watchdog.DefaultPollInterval, "how often to check the owning process")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(argv); err != nil {
		return watchdog.Args{}, false, err
	}
	if showVersion {
		return args, true, nil
	}
	var missing []string
	if args.ActivationID == "" {
		missing = append(missing, "--activation-id")
	}
	if args.RegistryDir == "" {
		missing = append(missing, "--registry-dir")
	}
	if len(missing) > 0 {
		return watchdog.Args{}, false, fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	return args, false, nil
}

// activeIn returns a predicate reporting activations still present in
// the registry in dir. A registry that cannot be read protects every
// log.
func activeIn(dir string) func(string) bool {
	registry, err := activations.Read(context.Background(), dir)
	if err != nil {
		return func(string) bool { return true }
	}
	return func(id string) bool {
		_, ok := registry.Get(id)
		return ok
	}
}
