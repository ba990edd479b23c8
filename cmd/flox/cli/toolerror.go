// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies command errors.
type ErrorCategory string

const (
	// CategoryValidation is bad input: wrong arguments, unknown flags,
	// an invalid mode.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound is a missing environment, service or generation.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryForbidden is an operation the current activation does
	// not allow, such as editing a pinned generation.
	CategoryForbidden ErrorCategory = "forbidden"

	// CategoryConflict is an operation that contradicts existing state:
	// an environment already active, a mode mismatch.
	CategoryConflict ErrorCategory = "conflict"

	// CategoryTransient is a failure that may succeed on retry, such as
	// a supervisor socket that never came up.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal is everything else.
	CategoryInternal ErrorCategory = "internal"
)

// ToolError is a categorized command error with an optional hint
// telling the user what to do next.
type ToolError struct {
	Category ErrorCategory
	Err      error

	// Hint is appended to the message after a blank line.
	Hint string
}

func (e *ToolError) Error() string {
	if e.Hint == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + "\n\n" + e.Hint
}

func (e *ToolError) Unwrap() error { return e.Err }

// WithHint sets Hint and returns the receiver.
func (e *ToolError) WithHint(hint string) *ToolError {
	e.Hint = hint
	return e
}

func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

func Forbidden(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryForbidden, Err: fmt.Errorf(format, args...)}
}

func Conflict(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryConflict, Err: fmt.Errorf(format, args...)}
}

func Transient(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}

// Wrap categorizes err, carrying over a hint from any error in its
// chain that has a Hint method. A ToolError already in the chain is
// returned unchanged.
func Wrap(category ErrorCategory, err error) error {
	if err == nil {
		return nil
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return err
	}
	wrapped := &ToolError{Category: category, Err: err}
	var hinted interface{ Hint() string }
	if errors.As(err, &hinted) {
		wrapped.Hint = hinted.Hint()
	}
	return wrapped
}
