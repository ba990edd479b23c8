// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package procstat answers whether a process is still alive and waits
// for processes flox did not start itself, such as the shell that owns
// an activation.
package procstat

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Alive reports whether pid names a running process. A zombie counts
// as dead: its owner has exited and is only waiting to be reaped, and
// an activation owned by it must be cleaned up.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	statuses, err := proc.Status()
	if err != nil {
		// The process may have vanished between the two calls. Fall
		// back to a signal-0 check, which cannot see zombies but does
		// see existence.
		return signalZero(pid)
	}
	for _, status := range statuses {
		if status == process.Zombie {
			return false
		}
	}
	return true
}

// AliveFunc is the signature of [Alive], for injection into code that
// tests substitute.
type AliveFunc func(pid int) bool

func signalZero(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Exited returns a channel that is closed once pid has exited or ctx is
// done. Where the kernel supports pidfds the wait is event driven;
// otherwise pid is polled every interval.
func Exited(ctx context.Context, pid int, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if waitPidfd(ctx, pid, interval) {
			return
		}
		poll(ctx, pid, interval)
	}()
	return done
}

func poll(ctx context.Context, pid int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for Alive(pid) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
