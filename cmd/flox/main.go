// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"

	"github.com/flox/flox/cmd/flox/cli"
	"github.com/flox/flox/cmd/flox/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that already reported the failure, or that forward a
		// child's exit status, return an error with an exit code.
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		cli.Stderr.Error(cli.Wrap(cli.CategoryInternal, err).Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := cli.Config()
	if err != nil {
		return err
	}
	root := commands.Root()
	root.LogLevel = cfg.Level()
	return root.Execute(os.Args[1:])
}
