// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Flox-services supervises the services of one environment. It reads
// the YAML configuration written by "flox services start" or "flox
// activate --start-services", serves the control socket named there,
// and runs until asked to shut down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/flox/flox/lib/process"
	"github.com/flox/flox/lib/services"
	"github.com/flox/flox/lib/supervisor"
	"github.com/flox/flox/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(services.SupervisorBinary, err)
	}
}

func run(argv []string) error {
	var (
		configPath  string
		logFile     string
		showVersion bool
	)
	flags := pflag.NewFlagSet(services.SupervisorBinary, pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "supervisor configuration file (required)")
	flags.StringVar(&logFile, "log-file", "", "write a JSON log to this file instead of stderr")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(argv); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("%s %s\n", services.SupervisorBinary, version.Full())
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	logger, closeLog := process.NewLogger(logFile, slog.LevelInfo)
	defer closeLog()

	config, err := supervisor.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("supervisor starting", "socket", config.Socket, "services", len(config.Services))
	if err := supervisor.Run(ctx, config, logger); err != nil {
		logger.Error("supervisor failed", "error", err)
		return err
	}
	logger.Info("supervisor stopped")
	return nil
}
