// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Binary is the executable that runs one watchdog.
const Binary = "flox-watchdog"

// Args is what an activation hands to its watchdog process.
type Args struct {
	ActivationID string
	RegistryDir  string
	SocketPath   string
	StateDir     string

	// LogFile receives the watchdog's JSON log.
	LogFile string

	PollInterval time.Duration
}

// Flags renders a as the command line flox-watchdog parses.
func (a Args) Flags() []string {
	flags := []string{
		"--activation-id", a.ActivationID,
		"--registry-dir", a.RegistryDir,
		"--socket", a.SocketPath,
		"--state-dir", a.StateDir,
	}
	if a.LogFile != "" {
		flags = append(flags, "--log-file", a.LogFile)
	}
	if a.PollInterval > 0 {
		flags = append(flags, "--poll-interval", a.PollInterval.String())
	}
	return flags
}

// Config converts parsed arguments into a [Config]. The caller adds
// the logger and signal channel.
func (a Args) Config() Config {
	return Config{
		ActivationID: a.ActivationID,
		RegistryDir:  a.RegistryDir,
		SocketPath:   a.SocketPath,
		StateDir:     a.StateDir,
		PollInterval: a.PollInterval,
	}
}

// Spawner starts a watchdog for an activation.
type Spawner interface {
	Spawn(ctx context.Context, args Args) error
}

// ProcessSpawner runs the watchdog binary detached in its own session,
// so that it survives the terminal closing under the activation.
type ProcessSpawner struct {
	// Binary is the watchdog executable. Empty means [FindBinary].
	Binary string
}

func (s ProcessSpawner) Spawn(_ context.Context, args Args) error {
	binary := s.Binary
	if binary == "" {
		found, err := FindBinary()
		if err != nil {
			return err
		}
		binary = found
	}
	cmd := exec.Command(binary, args.Flags()...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning %s: %w", Binary, err)
	}
	return cmd.Process.Release()
}

// FindBinary looks for flox-watchdog next to the running executable,
// then on PATH.
func FindBinary() (string, error) {
	if executable, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(executable), Binary)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	path, err := exec.LookPath(Binary)
	if err != nil {
		return "", fmt.Errorf("%s not found next to flox or on PATH: %w", Binary, err)
	}
	return path, nil
}
