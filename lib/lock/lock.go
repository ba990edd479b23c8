// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package lock provides exclusive advisory file locks. Every piece of
// state that several flox processes share is covered by one: the
// activation record store, the supervisor singleton, and the
// environment's manifest.
//
// The locks are flock(2) locks. The kernel drops them when the holding
// process exits, so a crashed holder never wedges the environment.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrBusy is returned by [TryAcquire] when another holder has the lock.
var ErrBusy = errors.New("lock is held by another process")

// retryDelay is how often a blocked [Acquire] retries.
const retryDelay = 20 * time.Millisecond

// Guard is a held lock. Release it exactly once; further calls are
// no-ops.
type Guard struct {
	path  string
	file  *flock.Flock
	mutex sync.Mutex
	held  bool
}

// Acquire blocks until the exclusive lock at path is held or ctx is
// done. The lock file and its parent directory are created if missing.
func Acquire(ctx context.Context, path string) (*Guard, error) {
	file, err := newFlock(path)
	if err != nil {
		return nil, err
	}
	locked, err := file.TryLockContext(ctx, retryDelay)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("waiting for lock %s: %w", path, ctxErr)
		}
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("waiting for lock %s: %w", path, ctx.Err())
	}
	return &Guard{path: path, file: file, held: true}, nil
}

// TryAcquire takes the lock without waiting. It returns an error
// wrapping [ErrBusy] when the lock is held elsewhere.
func TryAcquire(path string) (*Guard, error) {
	file, err := newFlock(path)
	if err != nil {
		return nil, err
	}
	locked, err := file.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", path, ErrBusy)
	}
	return &Guard{path: path, file: file, held: true}, nil
}

// Path returns the lock file path.
func (g *Guard) Path() string { return g.path }

// Release drops the lock. The lock file itself is left in place:
// removing it would let a concurrent waiter lock an unlinked inode
// while a newcomer locks a fresh file at the same path.
func (g *Guard) Release() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if !g.held {
		return nil
	}
	g.held = false
	if err := g.file.Close(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", g.path, err)
	}
	return nil
}

func newFlock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory for %s: %w", path, err)
	}
	return flock.New(path), nil
}
