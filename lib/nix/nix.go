// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package nix runs the Nix CLI on behalf of flox. Binary resolution
// checks PATH first (NixOS, nix develop) and then the default profile
// of a multi-user installation, which is often not on PATH for
// non-login shells.
package nix

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultProfileBin = "/nix/var/nix/profiles/default/bin"

// BuildenvEnvVar names the variable pointing at the Nix expression that
// turns a manifest lockfile into an environment.
const BuildenvEnvVar = "FLOX_BUILDENV_NIX"

// FindBinary resolves a Nix binary such as "nix" or "nix-store".
func FindBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	fallback := filepath.Join(defaultProfileBin, name)
	if _, err := os.Stat(fallback); err == nil {
		return fallback, nil
	}

	return "", fmt.Errorf("%s not found on PATH or at %s", name, fallback)
}

// Run executes "nix <args>" and returns stdout. Stderr is captured for
// the error message.
func Run(ctx context.Context, args ...string) (string, error) {
	binaryPath, err := FindBinary("nix")
	if err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, binaryPath, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", formatError("nix", args, &stderr, err)
	}
	return stdout.String(), nil
}

// Outputs are the store paths of a built environment. Develop is the
// full environment used in dev mode; Runtime omits development
// dependencies and is used in run mode.
type Outputs struct {
	Develop string
	Runtime string
}

// BuildEnvironment realises the environment described by lockfile and
// points outLink at the develop output. The buildenv expression comes
// from $FLOX_BUILDENV_NIX.
func BuildEnvironment(ctx context.Context, lockfile, outLink string) (Outputs, error) {
	expression := os.Getenv(BuildenvEnvVar)
	if expression == "" {
		return Outputs{}, fmt.Errorf("%s is not set; cannot build environment", BuildenvEnvVar)
	}

	output, err := Run(ctx, "build",
		"--no-write-lock-file",
		"--file", expression,
		"--argstr", "manifestLock", lockfile,
		"--out-link", outLink,
		"--print-out-paths",
	)
	if err != nil {
		return Outputs{}, err
	}
	return parseOutputs(output)
}

// parseOutputs reads the --print-out-paths listing. The develop output
// comes first; an expression with a single output serves both modes.
func parseOutputs(output string) (Outputs, error) {
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, err := StoreDirectory(line); err != nil {
			return Outputs{}, fmt.Errorf("unexpected nix build output: %w", err)
		}
		paths = append(paths, line)
	}
	switch len(paths) {
	case 0:
		return Outputs{}, fmt.Errorf("nix build printed no output paths")
	case 1:
		return Outputs{Develop: paths[0], Runtime: paths[0]}, nil
	default:
		return Outputs{Develop: paths[0], Runtime: paths[1]}, nil
	}
}

const storePrefix = "/nix/store/"

// StoreDirectory returns the top-level store entry containing path:
//
//	"/nix/store/abc-env/bin/hello" → "/nix/store/abc-env"
func StoreDirectory(path string) (string, error) {
	if !strings.HasPrefix(path, storePrefix) {
		return "", fmt.Errorf("path %q is not under %s", path, storePrefix)
	}
	remainder := path[len(storePrefix):]
	if remainder == "" {
		return "", fmt.Errorf("path %q has no store entry name", path)
	}
	if slash := strings.IndexByte(remainder, '/'); slash != -1 {
		return path[:len(storePrefix)+slash], nil
	}
	return path, nil
}

func formatError(binaryName string, args []string, stderr *bytes.Buffer, err error) error {
	commandString := binaryName + " " + strings.Join(args, " ")
	if stderrText := strings.TrimSpace(stderr.String()); stderrText != "" {
		return fmt.Errorf("%s: %s", commandString, stderrText)
	}
	return fmt.Errorf("%s: %w", commandString, err)
}
