// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package procstat

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// waitPidfd blocks until pid exits or ctx is done, using a pidfd. It
// returns false without waiting when pidfds are unavailable, leaving
// the caller to poll.
func waitPidfd(ctx context.Context, pid int, interval time.Duration) bool {
	fd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		// ESRCH: already gone, nothing to wait for.
		return errors.Is(err, unix.ESRCH)
	}
	defer unix.Close(fd)

	// The poll timeout bounds how long a cancelled ctx goes unnoticed.
	timeout := int(interval / time.Millisecond)
	if timeout <= 0 {
		timeout = 100
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		if ctx.Err() != nil {
			return true
		}
		ready, err := unix.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return false
		}
		if ready > 0 {
			return true
		}
		// A zombie owner whose parent never reaps it still reads
		// readable, but guard against platforms that report late.
		if !Alive(pid) {
			return true
		}
	}
}
