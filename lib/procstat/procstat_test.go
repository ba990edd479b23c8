// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package procstat

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/flox/flox/lib/testutil"
)

func TestAliveSelf(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("Alive(self) = false")
	}
}

func TestAliveInvalid(t *testing.T) {
	for _, pid := range []int{0, -1} {
		if Alive(pid) {
			t.Errorf("Alive(%d) = true", pid)
		}
	}
}

func TestAliveZombieIsDead(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting true: %v", err)
	}
	pid := cmd.Process.Pid
	// Not calling Wait leaves the child as a zombie.
	testutil.Eventually(t, 5*time.Second, func() bool { return !Alive(pid) },
		"exited child %d should not count as alive before it is reaped", pid)
	cmd.Wait()
}

func TestExitedClosesWhenProcessExits(t *testing.T) {
	cmd := exec.Command("sleep", "0.2")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting sleep: %v", err)
	}
	reaped := make(chan struct{})
	go func() {
		cmd.Wait()
		close(reaped)
	}()

	exited := Exited(context.Background(), cmd.Process.Pid, 20*time.Millisecond)
	testutil.RequireClosed(t, exited, 5*time.Second, "Exited did not close after the process ended")
	<-reaped
}

func TestExitedClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exited := Exited(ctx, os.Getpid(), 20*time.Millisecond)

	select {
	case <-exited:
		t.Fatal("Exited closed for a live process")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	testutil.RequireClosed(t, exited, 5*time.Second, "Exited did not close after cancel")
}
