// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flox/flox/lib/control"
	"github.com/flox/flox/lib/lock"
)

// ShutdownAndWait asks the supervisor on socketPath to shut down and
// waits, up to timeout, for its socket to disappear and its lock to be
// released. A socket nobody answers on is removed. No socket means
// nothing to do.
func ShutdownAndWait(ctx context.Context, socketPath string, timeout time.Duration) error {
	if !control.Exists(socketPath) {
		return nil
	}
	err := NewClient(socketPath).Shutdown(ctx)
	switch {
	case errors.Is(err, control.ErrNoSocket):
		return nil
	case errors.Is(err, control.ErrUnreachable):
		if !control.Exists(socketPath) {
			return nil
		}
		if removeErr := os.Remove(socketPath); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("removing stale supervisor socket: %w", removeErr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("shutting down supervisor: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = timeout
	return backoff.Retry(func() error {
		if control.Exists(socketPath) {
			return fmt.Errorf("supervisor socket %s still present", socketPath)
		}
		guard, err := lock.TryAcquire(LockPath(socketPath))
		if err != nil {
			return fmt.Errorf("supervisor still holds its lock: %w", err)
		}
		return guard.Release()
	}, backoff.WithContext(policy, ctx))
}
