// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package environment

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/flox/flox/lib/lock"
)

// DotFlox is the name of the directory holding an environment.
const DotFlox = ".flox"

// Kind distinguishes how an environment was located.
type Kind int

const (
	// KindPath is a local environment in a project directory.
	KindPath Kind = iota

	// KindManaged is a project-local checkout of a FloxHub environment.
	KindManaged

	// KindRemote is a FloxHub environment used through the local cache
	// (flox activate -r owner/name).
	KindRemote
)

// NotFoundError reports a directory without an environment.
type NotFoundError struct {
	Location string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Did not find an environment in '%s'", e.Location)
}

// Locator resolves environments relative to the runtime and cache
// directories chosen by the user configuration.
type Locator struct {
	RuntimeDir string
	CacheDir   string

	// SocketOverride replaces the supervisor socket path of every
	// instance. A value that is already a socket path under RuntimeDir,
	// as every activation exports, is ignored so that a nested
	// activation of another environment keeps its own socket.
	SocketOverride string
}

// Instance is one located environment.
type Instance struct {
	Kind    Kind
	Pointer Pointer

	// DotFlox is the absolute path of the .flox directory.
	DotFlox string

	// Project is the directory containing DotFlox. For remote
	// environments this is inside the cache.
	Project string

	key        string
	runtimeDir string
	socketPath string
}

// Open locates the environment in dir.
func (l Locator) Open(dir string) (*Instance, error) {
	absolute, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	dotFlox := filepath.Join(absolute, DotFlox)
	if info, err := os.Stat(dotFlox); err != nil || !info.IsDir() {
		return nil, &NotFoundError{Location: absolute}
	}
	if resolved, err := filepath.EvalSymlinks(dotFlox); err == nil {
		dotFlox = resolved
	}

	pointer, err := ReadPointer(filepath.Join(dotFlox, "env.json"))
	if err != nil {
		return nil, err
	}
	kind := KindPath
	if pointer.Tracked() {
		kind = KindManaged
	}
	return l.instance(kind, pointer, dotFlox, "path:"+dotFlox), nil
}

// OpenRemote locates the cached copy of the FloxHub environment
// reference ("owner/name"). Fetching it is not this package's job; a
// reference that has never been pulled is reported as not found.
func (l Locator) OpenRemote(reference string) (*Instance, error) {
	owner, name, ok := strings.Cut(reference, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid environment reference '%s': expected <owner>/<name>", reference)
	}
	dotFlox := filepath.Join(l.CacheDir, "remote", owner, name, DotFlox)
	if info, err := os.Stat(dotFlox); err != nil || !info.IsDir() {
		return nil, &NotFoundError{Location: reference}
	}
	pointer, err := ReadPointer(filepath.Join(dotFlox, "env.json"))
	if err != nil {
		return nil, err
	}
	if pointer.Owner == "" {
		pointer.Owner = owner
	}
	return l.instance(KindRemote, pointer, dotFlox, "remote:"+owner+"/"+name), nil
}

func (l Locator) instance(kind Kind, pointer Pointer, dotFlox, identity string) *Instance {
	sum := blake3.Sum256([]byte(identity))
	return &Instance{
		Kind:       kind,
		Pointer:    pointer,
		DotFlox:    dotFlox,
		Project:    filepath.Dir(dotFlox),
		key:        hex.EncodeToString(sum[:8]),
		runtimeDir: l.RuntimeDir,
		socketPath: l.socketOverride(),
	}
}

func (l Locator) socketOverride() string {
	if l.SocketOverride == "" {
		return ""
	}
	if filepath.Base(l.SocketOverride) == socketName && filepath.Dir(filepath.Dir(l.SocketOverride)) == filepath.Clean(l.RuntimeDir) {
		return ""
	}
	return l.SocketOverride
}

// Init creates a new path environment in dir with the given manifest.
func Init(dir, name string, manifest []byte) error {
	dotFlox := filepath.Join(dir, DotFlox)
	if _, err := os.Stat(dotFlox); err == nil {
		return fmt.Errorf("an environment already exists in '%s'", dir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", dotFlox, err)
	}
	if err := os.MkdirAll(filepath.Join(dotFlox, "env"), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dotFlox, err)
	}
	if err := os.WriteFile(filepath.Join(dotFlox, "env", "manifest.toml"), manifest, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return WritePointer(filepath.Join(dotFlox, "env.json"), Pointer{Name: name, Version: 1})
}

// Key identifies the instance for runtime state sharing.
func (i *Instance) Key() string { return i.key }

// Name returns the environment name.
func (i *Instance) Name() string { return i.Pointer.Name }

// Description returns the name users see: "name" or "owner/name".
func (i *Instance) Description() string {
	if i.Pointer.Owner != "" {
		return i.Pointer.Owner + "/" + i.Pointer.Name
	}
	return i.Pointer.Name
}

// Tracked reports whether the environment has FloxHub generations.
func (i *Instance) Tracked() bool { return i.Kind != KindPath }

func (i *Instance) ManifestPath() string { return filepath.Join(i.DotFlox, "env", "manifest.toml") }
func (i *Instance) LockfilePath() string { return filepath.Join(i.DotFlox, "env", "manifest.lock") }
func (i *Instance) LogDir() string       { return filepath.Join(i.DotFlox, "log") }
func (i *Instance) RunDir() string       { return filepath.Join(i.DotFlox, "run") }

// GenerationsPath is the generation database of a tracked environment.
func (i *Instance) GenerationsPath() string { return filepath.Join(i.DotFlox, "generations.db") }

// MutationLockPath guards edits of the manifest and generations.
func (i *Instance) MutationLockPath() string { return filepath.Join(i.DotFlox, "env.lock") }

// StateDir holds activations.json and per-activation state directories.
func (i *Instance) StateDir() string { return filepath.Join(i.runtimeDir, i.key) }

// ActivationDir is the state directory of one activation.
func (i *Instance) ActivationDir(activationID string) string {
	return filepath.Join(i.StateDir(), activationID)
}

const socketName = "services.sock"

// SocketPath is where this instance's supervisor listens.
func (i *Instance) SocketPath() string {
	if i.socketPath != "" {
		return i.socketPath
	}
	return filepath.Join(i.StateDir(), socketName)
}

// SupervisorConfigPath is the generated supervisor configuration.
func (i *Instance) SupervisorConfigPath() string {
	return filepath.Join(i.StateDir(), "services.yaml")
}

// SupervisorLockPath is held by the running supervisor for its lifetime.
func (i *Instance) SupervisorLockPath() string {
	return filepath.Join(i.StateDir(), "services.lock")
}

// LockMutation takes the environment's mutation lock, waiting while
// another process holds it until ctx is done. Use [lock.TryAcquire] on
// MutationLockPath to fail at once with [lock.ErrBusy] instead.
func (i *Instance) LockMutation(ctx context.Context) (*lock.Guard, error) {
	return lock.Acquire(ctx, i.MutationLockPath())
}

// ReadManifest returns the working manifest bytes.
func (i *Instance) ReadManifest() ([]byte, error) {
	data, err := os.ReadFile(i.ManifestPath())
	if err != nil {
		return nil, fmt.Errorf("reading manifest of '%s': %w", i.Description(), err)
	}
	return data, nil
}

// ReadLockfile returns the working lockfile, or nil if none exists.
func (i *Instance) ReadLockfile() ([]byte, error) {
	data, err := os.ReadFile(i.LockfilePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading lockfile of '%s': %w", i.Description(), err)
	}
	return data, nil
}
