// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// SupervisorBinary is the executable that runs a supervisor.
const SupervisorBinary = "flox-services"

// Starter launches a supervisor for the config at configPath. It
// returns once the launch is under way; readiness is checked by the
// caller.
type Starter interface {
	Launch(ctx context.Context, configPath string) error
}

// ProcessStarter runs the supervisor binary as a detached process in
// its own session, so it outlives the shell that started it.
type ProcessStarter struct {
	// Binary is the supervisor executable. Empty means
	// [FindSupervisorBinary].
	Binary string

	// LogFile receives the supervisor's own log.
	LogFile string
}

func (s ProcessStarter) Launch(ctx context.Context, configPath string) error {
	binary := s.Binary
	if binary == "" {
		found, err := FindSupervisorBinary()
		if err != nil {
			return err
		}
		binary = found
	}

	args := []string{"--config", configPath}
	if s.LogFile != "" {
		args = append(args, "--log-file", s.LogFile)
	}
	cmd := exec.Command(binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	// Stdin, Stdout and Stderr stay nil: the child gets /dev/null and
	// holds no descriptor of the user's terminal.
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launching %s: %w", SupervisorBinary, err)
	}
	return cmd.Process.Release()
}

// FindSupervisorBinary looks for flox-services next to the running
// executable, then on PATH.
func FindSupervisorBinary() (string, error) {
	if executable, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(executable), SupervisorBinary)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	path, err := exec.LookPath(SupervisorBinary)
	if err != nil {
		return "", fmt.Errorf("%s not found next to flox or on PATH: %w", SupervisorBinary, err)
	}
	return path, nil
}
