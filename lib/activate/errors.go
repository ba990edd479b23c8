// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package activate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrGenerationsUnsupported rejects --generation on a path environment.
var ErrGenerationsUnsupported = errors.New("Generations are only available for environments tracked on FloxHub.")

// AlreadyActiveError refuses a second interactive activation of the
// same environment build in one process tree.
type AlreadyActiveError struct {
	Name string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("Environment '%s' is already active.", e.Name)
}

// InvalidModeError reports a mode other than dev or run.
type InvalidModeError struct {
	Mode string
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid activation mode '%s': expected 'dev' or 'run'", e.Mode)
}

// HookError reports a failing on-activate hook. Its exit code becomes
// the exit code of flox.
type HookError struct {
	Code int
}

func (e *HookError) Error() string {
	return fmt.Sprintf("Running hook on-activate failed with exit code %d.", e.Code)
}

func (e *HookError) ExitCode() int { return e.Code }

const servicesPrefix = "Failed to start services: "

// ServicesError wraps a failure to start services during activation.
type ServicesError struct {
	Err error
}

func (e *ServicesError) Error() string {
	message := e.Err.Error()
	if strings.HasPrefix(message, servicesPrefix) {
		return message
	}
	return servicesPrefix + message
}

func (e *ServicesError) Unwrap() error { return e.Err }
