// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/flox/flox/lib/activations"
	"github.com/flox/flox/lib/testutil"
)

// syncBuffer is a log sink safe for concurrent handlers.
type syncBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

type fixture struct {
	registryDir string
	socketPath  string
	logs        *syncBuffer
	shutdowns   atomic.Int32
}

func newFixture(t *testing.T, records ...activations.Activation) *fixture {
	t.Helper()
	f := &fixture{
		registryDir: t.TempDir(),
		socketPath:  filepath.Join(testutil.SocketDir(t), "services.sock"),
		logs:        &syncBuffer{},
	}
	err := activations.Update(context.Background(), f.registryDir, func(registry *activations.Registry) error {
		for _, record := range records {
			if err := registry.Add(record); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(f.registryDir, record.ID), 0o700); err != nil {
				return err
			}
		}
		if len(records) > 0 {
			return registry.SetServiceOwner(records[0].ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding registry: %v", err)
	}
	return f
}

func (f *fixture) config(id string, alive func(int) bool) Config {
	return Config{
		ActivationID: id,
		RegistryDir:  f.registryDir,
		SocketPath:   f.socketPath,
		StateDir:     filepath.Join(f.registryDir, id),
		PollInterval: 10 * time.Millisecond,
		Alive:        alive,
		Logger:       slog.New(slog.NewTextHandler(f.logs, nil)),
		// Tests wake the loop through the registry and the ticker
		// unless they supply their own exit channel.
		Exited: func(context.Context, int) <-chan struct{} { return nil },
		ShutdownSupervisor: func(ctx context.Context, socketPath string) error {
			f.shutdowns.Add(1)
			return nil
		},
	}
}

func (f *fixture) registry(t *testing.T) *activations.Registry {
	t.Helper()
	registry, err := activations.Read(context.Background(), f.registryDir)
	if err != nil {
		t.Fatalf("reading registry: %v", err)
	}
	return registry
}

func record(id string, pid int) activations.Activation {
	return activations.Activation{ID: id, PID: pid, Mode: "dev", StartedAt: time.Now()}
}

func TestCleanupOfLastActivation(t *testing.T) {
	f := newFixture(t, record("only", 1001))
	dead := func(int) bool { return false }

	outcome, err := Run(context.Background(), f.config("only", dead))
	if err != nil || outcome != CleanedUp {
		t.Fatalf("Run = %v, %v", outcome, err)
	}

	registry := f.registry(t)
	if !registry.IsEmpty() || registry.ServiceOwner != nil {
		t.Errorf("registry after cleanup = %+v", registry)
	}
	if f.shutdowns.Load() != 1 {
		t.Errorf("supervisor shutdowns = %d, want 1", f.shutdowns.Load())
	}
	if _, err := os.Stat(filepath.Join(f.registryDir, "only")); !os.IsNotExist(err) {
		t.Errorf("state directory survived cleanup: %v", err)
	}
	if !strings.Contains(f.logs.String(), `msg="finished cleanup"`) {
		t.Errorf("log lacks the completion line:\n%s", f.logs)
	}
}

func TestCleanupLeavesSiblingsAndServices(t *testing.T) {
	f := newFixture(t, record("owner", 1001), record("sibling", 1002))
	alive := func(pid int) bool { return pid == 1002 }

	outcome, err := Run(context.Background(), f.config("owner", alive))
	if err != nil || outcome != CleanedUp {
		t.Fatalf("Run = %v, %v", outcome, err)
	}

	registry := f.registry(t)
	if _, ok := registry.Get("sibling"); !ok || len(registry.Activations) != 1 {
		t.Errorf("activations = %+v, want only sibling", registry.Activations)
	}
	if registry.ServiceOwner == nil || *registry.ServiceOwner != "sibling" {
		t.Errorf("service owner = %v, want sibling", registry.ServiceOwner)
	}
	if f.shutdowns.Load() != 0 {
		t.Error("supervisor stopped while an activation remains")
	}
}

func TestCleanupPrunesOtherDeadActivations(t *testing.T) {
	f := newFixture(t, record("mine", 1001), record("crashed", 1002))
	outcome, err := Run(context.Background(), f.config("mine", func(int) bool { return false }))
	if err != nil || outcome != CleanedUp {
		t.Fatalf("Run = %v, %v", outcome, err)
	}
	if !f.registry(t).IsEmpty() {
		t.Error("dead sibling was not pruned")
	}
	if _, err := os.Stat(filepath.Join(f.registryDir, "crashed")); !os.IsNotExist(err) {
		t.Error("state directory of the pruned activation survived")
	}
	if f.shutdowns.Load() != 1 {
		t.Errorf("shutdowns = %d", f.shutdowns.Load())
	}
}

func TestWaitsForOwnerToExit(t *testing.T) {
	f := newFixture(t, record("a", 1001))
	var alive atomic.Bool
	alive.Store(true)
	exited := make(chan struct{})

	config := f.config("a", func(int) bool { return alive.Load() })
	config.PollInterval = time.Hour
	config.Exited = func(ctx context.Context, pid int) <-chan struct{} { return exited }

	done := make(chan Outcome, 1)
	go func() {
		outcome, err := Run(context.Background(), config)
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		done <- outcome
	}()

	select {
	case <-done:
		t.Fatal("watchdog returned while the owner was alive")
	case <-time.After(100 * time.Millisecond):
	}

	alive.Store(false)
	close(exited)
	if outcome := testutil.RequireReceive(t, done, 5*time.Second, "watchdog did not notice the exit"); outcome != CleanedUp {
		t.Errorf("outcome = %v", outcome)
	}
}

func TestRemovedElsewhere(t *testing.T) {
	f := newFixture(t, record("a", 1001))
	var alive atomic.Bool
	alive.Store(true)

	config := f.config("a", func(int) bool { return alive.Load() })
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := Run(context.Background(), config)
		done <- outcome
	}()

	err := activations.Update(context.Background(), f.registryDir, func(registry *activations.Registry) error {
		registry.Remove("a")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if outcome := testutil.RequireReceive(t, done, 5*time.Second, "watchdog did not notice removal"); outcome != RemovedElsewhere {
		t.Errorf("outcome = %v, want RemovedElsewhere", outcome)
	}
	if f.shutdowns.Load() != 0 {
		t.Error("a watchdog whose record was removed must not stop services")
	}
}

func TestProvisionalRecordHeldUntilExpiration(t *testing.T) {
	expiration := time.Now().Add(300 * time.Millisecond)
	provisional := record("inplace", 1001)
	provisional.Expiration = &expiration
	f := newFixture(t, provisional)

	started := time.Now()
	outcome, err := Run(context.Background(), f.config("inplace", func(int) bool { return false }))
	if err != nil || outcome != CleanedUp {
		t.Fatalf("Run = %v, %v", outcome, err)
	}
	if time.Now().Before(expiration) {
		t.Errorf("cleaned up after %v, before the expiration", time.Since(started))
	}
}

func TestAttachKeepsActivationAlive(t *testing.T) {
	expiration := time.Now().Add(200 * time.Millisecond)
	provisional := record("inplace", 1001)
	provisional.Expiration = &expiration
	f := newFixture(t, provisional)

	var shellAlive atomic.Bool
	config := f.config("inplace", func(pid int) bool { return pid == 2002 && shellAlive.Load() })
	exited := make(chan struct{})
	config.Exited = func(ctx context.Context, pid int) <-chan struct{} { return exited }

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := Run(context.Background(), config)
		done <- outcome
	}()

	shellAlive.Store(true)
	err := activations.Update(context.Background(), f.registryDir, func(registry *activations.Registry) error {
		return registry.Attach("inplace", 2002)
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
		t.Fatal("activation cleaned up although the attached shell is alive")
	case <-time.After(500 * time.Millisecond):
	}

	shellAlive.Store(false)
	close(exited)
	testutil.RequireReceive(t, done, 5*time.Second, "watchdog did not clean up after the shell exited")
}

func TestSignals(t *testing.T) {
	tests := []struct {
		signal  os.Signal
		outcome Outcome
		remains bool
	}{
		{syscall.SIGUSR1, CleanedUp, false},
		{syscall.SIGTERM, Interrupted, true},
		{syscall.SIGINT, Interrupted, true},
	}
	for _, test := range tests {
		t.Run(test.signal.String(), func(t *testing.T) {
			f := newFixture(t, record("a", 1001))
			signals := make(chan os.Signal, 1)
			config := f.config("a", func(int) bool { return true })
			config.PollInterval = time.Hour
			config.Signals = signals

			done := make(chan Outcome, 1)
			go func() {
				outcome, _ := Run(context.Background(), config)
				done <- outcome
			}()
			signals <- test.signal

			if outcome := testutil.RequireReceive(t, done, 5*time.Second, "watchdog ignored the signal"); outcome != test.outcome {
				t.Errorf("outcome = %v, want %v", outcome, test.outcome)
			}
			_, remains := f.registry(t).Get("a")
			if remains != test.remains {
				t.Errorf("record remains = %v, want %v", remains, test.remains)
			}
		})
	}
}
