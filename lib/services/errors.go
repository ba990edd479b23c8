// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotStarted means no supervisor answers for the environment.
	ErrNotStarted = errors.New("Services not started or quit unexpectedly.")

	// ErrSocketNotReady means a launched supervisor did not answer
	// within the start timeout.
	ErrSocketNotReady = errors.New("Failed to start services: service manager socket not ready")

	// ErrFollowNeedsName rejects a non-following logs request for
	// anything other than one service.
	ErrFollowNeedsName = errors.New("A single service name is required when the --follow flag is not specified")

	// ErrNotActivated matches a *NotActivatedError.
	ErrNotActivated = errors.New("environment is not activated")

	// ErrNoServices means the manifest defines no services at all.
	ErrNoServices = errors.New("Environment does not have any services defined.")

	// ErrNoServicesForSystem matches a *NoServicesForSystemError.
	ErrNoServicesForSystem = errors.New("no services defined for the current system")
)

// NotActivatedError rejects a services command that changes process
// state from outside an activation of the environment.
type NotActivatedError struct {
	Action string
}

func (e *NotActivatedError) Error() string {
	return fmt.Sprintf("Cannot %s services for an environment that is not activated.", e.Action)
}

func (e *NotActivatedError) Is(target error) bool {
	return target == ErrNotActivated
}

// NoServicesForSystemError means the manifest defines services, but
// none of them is available on System.
type NoServicesForSystemError struct {
	System string
}

func (e *NoServicesForSystemError) Error() string {
	return fmt.Sprintf("Environment does not have any services defined for '%s'.", e.System)
}

func (e *NoServicesForSystemError) Is(target error) bool {
	return target == ErrNoServicesForSystem
}

func doesNotExist(name string) string {
	return fmt.Sprintf("Service '%s' does not exist.", name)
}

func notAvailable(name, system string) string {
	return fmt.Sprintf("Service '%s' is not available on '%s'.", name, system)
}

// ValidationError lists every problem found with a set of requested
// service names.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "\n")
}

// StaleConfigError names services the running supervisor was started
// without. They were added to the manifest after it launched.
type StaleConfigError struct {
	Names []string
}

func (e *StaleConfigError) Error() string {
	problems := make([]string, len(e.Names))
	for i, name := range e.Names {
		problems[i] = doesNotExist(name)
	}
	return strings.Join(problems, "\n")
}

// Hint tells the user how to load the new definitions.
func (e *StaleConfigError) Hint() string {
	return "The running services were started from an older manifest. " +
		"Stop all services with 'flox services stop' and start them again to load the latest definitions."
}
