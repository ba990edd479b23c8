// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package activations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestUpdateAndRead(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	err := Update(ctx, dir, func(registry *Registry) error {
		return registry.Add(Activation{ID: "first", PID: os.Getpid(), Mode: "dev"})
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	registry, err := Read(ctx, dir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if registry.Version != Version {
		t.Errorf("Version = %d", registry.Version)
	}
	if _, ok := registry.Get("first"); !ok {
		t.Error("activation not persisted")
	}
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	registry, err := Read(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !registry.IsEmpty() || registry.ServiceOwner != nil {
		t.Errorf("registry = %+v, want empty", registry)
	}
}

func TestUpdateFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	Update(ctx, dir, func(registry *Registry) error {
		return registry.Add(Activation{ID: "kept", PID: 1})
	})

	sentinel := errors.New("validation failed")
	err := Update(ctx, dir, func(registry *Registry) error {
		registry.Remove("kept")
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want sentinel", err)
	}

	registry, _ := Read(ctx, dir)
	if _, ok := registry.Get("kept"); !ok {
		t.Error("a failed Update must not persist its partial changes")
	}
}

func TestUnsupportedVersionLeavesFileIntact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	original := `{"version": 0, "activations": [{"id": "x", "attached_pids": [{"pid": 4321}, {"pid": 4322}]}]}`
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	err := Update(context.Background(), dir, func(registry *Registry) error {
		t.Error("mutate must not run for an incompatible registry")
		return nil
	})

	var unsupported *UnsupportedVersionError
	if !errors.As(err, &unsupported) {
		t.Fatalf("error = %v, want *UnsupportedVersionError", err)
	}
	if unsupported.Version != 0 {
		t.Errorf("Version = %d", unsupported.Version)
	}
	message := err.Error()
	if !strings.HasPrefix(message, "This environment has already been activated with an incompatible version of 'flox'.") {
		t.Errorf("message prefix: %q", message)
	}
	if !strings.Contains(message, "PIDs of the running activations: 4321, 4322") {
		t.Errorf("message does not list PIDs: %q", message)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != original {
		t.Errorf("registry was modified:\n%s", after)
	}

	// The lock must have been released despite the error.
	txn, err := Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Open after error: %v", err)
	}
	txn.Abort()
}

func TestCorruptRegistryNamesPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Read(context.Background(), dir)
	if err == nil || !strings.Contains(err.Error(), path) {
		t.Fatalf("error = %v, want mention of %s", err, path)
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	const writers = 20

	var group sync.WaitGroup
	for i := range writers {
		group.Add(1)
		go func() {
			defer group.Done()
			err := Update(ctx, dir, func(registry *Registry) error {
				return registry.Add(Activation{ID: fmt.Sprintf("act-%d", i), PID: 1000 + i, Mode: "dev"})
			})
			if err != nil {
				t.Errorf("Update %d: %v", i, err)
			}
		}()
	}
	group.Wait()

	registry, err := Read(ctx, dir)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(registry.Activations) != writers {
		t.Errorf("got %d activations, want %d: lost updates", len(registry.Activations), writers)
	}
}

func TestCommitTwiceFails(t *testing.T) {
	txn, err := Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := txn.Commit(); err == nil {
		t.Error("second Commit should fail")
	}
	txn.Abort()
}
