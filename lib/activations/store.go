// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package activations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/flox/flox/lib/atomicfile"
	"github.com/flox/flox/lib/lock"
)

const (
	// FileName is the registry document inside an instance state dir.
	FileName = "activations.json"

	// LockName is the sidecar lock guarding FileName.
	LockName = FileName + ".lock"
)

// UnsupportedVersionError reports a registry written by an
// incompatible flox.
type UnsupportedVersionError struct {
	Version int
	PIDs    []int
}

func (e *UnsupportedVersionError) Error() string {
	pids := make([]string, len(e.PIDs))
	for i, pid := range e.PIDs {
		pids[i] = strconv.Itoa(pid)
	}
	return "This environment has already been activated with an incompatible version of 'flox'.\n\n" +
		"Exit all activations of the environment and try again.\n" +
		"PIDs of the running activations: " + strings.Join(pids, ", ")
}

// Txn is an open, locked registry. Finish it with exactly one of Commit
// or Abort; both release the lock.
type Txn struct {
	path     string
	guard    *lock.Guard
	registry *Registry
	finished bool
}

// Open locks the registry in dir and reads it. A missing file reads as
// an empty registry. On error nothing is held.
func Open(ctx context.Context, dir string) (*Txn, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating activation state directory: %w", err)
	}
	guard, err := lock.Acquire(ctx, filepath.Join(dir, LockName))
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, FileName)
	registry, err := readFile(path)
	if err != nil {
		guard.Release()
		return nil, err
	}
	return &Txn{path: path, guard: guard, registry: registry}, nil
}

// Registry returns the document under edit.
func (t *Txn) Registry() *Registry { return t.registry }

// Commit writes the registry while the lock is still held, then
// releases the lock.
func (t *Txn) Commit() error {
	if t.finished {
		return fmt.Errorf("activation registry transaction already finished")
	}
	t.finished = true
	defer t.guard.Release()
	if err := atomicfile.WriteJSON(t.path, t.registry, 0o644); err != nil {
		return fmt.Errorf("writing activation registry: %w", err)
	}
	return nil
}

// Abort releases the lock without writing. Calling it after Commit is
// a no-op, so `defer txn.Abort()` is safe.
func (t *Txn) Abort() {
	if t.finished {
		return
	}
	t.finished = true
	t.guard.Release()
}

// Update runs mutate on the locked registry and commits the result. If
// mutate fails nothing is written.
func Update(ctx context.Context, dir string, mutate func(*Registry) error) error {
	txn, err := Open(ctx, dir)
	if err != nil {
		return err
	}
	defer txn.Abort()
	if err := mutate(txn.Registry()); err != nil {
		return err
	}
	return txn.Commit()
}

// Read returns a consistent snapshot of the registry.
func Read(ctx context.Context, dir string) (*Registry, error) {
	txn, err := Open(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer txn.Abort()
	return txn.Registry(), nil
}

func readFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading activation registry: %w", err)
	}

	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("parsing activation registry %s: %w", path, err)
	}
	if header.Version != Version {
		return nil, &UnsupportedVersionError{Version: header.Version, PIDs: salvagePIDs(data)}
	}

	registry := NewRegistry()
	if err := json.Unmarshal(data, registry); err != nil {
		return nil, fmt.Errorf("parsing activation registry %s: %w", path, err)
	}
	if registry.Activations == nil {
		registry.Activations = []Activation{}
	}
	return registry, nil
}

// salvagePIDs pulls PIDs out of a registry of unknown version so the
// user can find the shells to exit. Both the current layout (one pid
// per activation) and the older one (attached_pids lists) are read.
func salvagePIDs(data []byte) []int {
	var loose struct {
		Activations []struct {
			PID          int `json:"pid"`
			AttachedPIDs []struct {
				PID int `json:"pid"`
			} `json:"attached_pids"`
		} `json:"activations"`
	}
	if err := json.Unmarshal(data, &loose); err != nil {
		return nil
	}
	var pids []int
	for _, activation := range loose.Activations {
		if activation.PID > 0 {
			pids = append(pids, activation.PID)
		}
		for _, attached := range activation.AttachedPIDs {
			if attached.PID > 0 {
				pids = append(pids, attached.PID)
			}
		}
	}
	return pids
}
