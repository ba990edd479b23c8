// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/flox/flox/lib/activate"
	"github.com/flox/flox/lib/atomicfile"
	"github.com/flox/flox/lib/clock"
	"github.com/flox/flox/lib/environment"
	"github.com/flox/flox/lib/generations"
	"github.com/flox/flox/lib/manifest"
)

// ErrNoPreviousGeneration is returned by Rollback when only one
// generation has ever been live.
var ErrNoPreviousGeneration = errors.New("No previous generation to rollback to.")

// LockDigestKey is the lockfile field Upgrade stamps with the manifest
// digest.
const LockDigestKey = "manifest-digest"

// Editor applies changes to one environment.
type Editor struct {
	Instance *environment.Instance

	// Chain is the calling process's activation chain, checked for a
	// pinned generation of Instance.
	Chain *activate.Layer

	// Args are the command-line arguments recorded in history.
	Args []string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Outcome reports what a change did.
type Outcome struct {
	// Changed is false when the manifest already had the requested
	// content; nothing was written or recorded.
	Changed bool

	// Generation is the new live generation of a tracked environment,
	// or 0.
	Generation int

	// Added and Skipped list the install ids Install added and the ones
	// that were already present.
	Added   []string
	Skipped []string
}

func (e *Editor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Editor) openStore() (*generations.Store, error) {
	if !e.Instance.Tracked() {
		return nil, activate.ErrGenerationsUnsupported
	}
	return generations.Open(generations.Config{
		Path:   e.Instance.GenerationsPath(),
		Clock:  e.Clock,
		Logger: e.logger(),
	})
}

// locked runs fn under the mutation lock after the pinned-generation
// check.
func (e *Editor) locked(ctx context.Context, fn func() error) error {
	if err := activate.GuardMutation(e.Chain, e.Instance); err != nil {
		return err
	}
	guard, err := e.Instance.LockMutation(ctx)
	if err != nil {
		return err
	}
	defer guard.Release()
	return fn()
}

// apply rewrites the working source with change. change reports
// whether it modified the source and the history description.
func (e *Editor) apply(ctx context.Context, change func(source *environment.Source) (string, bool, error)) (Outcome, error) {
	var outcome Outcome
	err := e.locked(ctx, func() error {
		source, err := e.Instance.WorkingSource()
		if err != nil {
			return err
		}
		description, changed, err := change(&source)
		if err != nil || !changed {
			return err
		}
		if _, err := manifest.Parse(source.Manifest); err != nil {
			return err
		}
		if err := writeSource(e.Instance, source); err != nil {
			return err
		}
		outcome.Changed = true
		e.logger().Info("manifest updated", "environment", e.Instance.Description(), "change", description)

		if !e.Instance.Tracked() {
			return nil
		}
		store, err := e.openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		outcome.Generation, err = store.Add(ctx, source, generations.NewMetadata(description, e.Args))
		return err
	})
	return outcome, err
}

// writeSource replaces the working manifest and lockfile. A source
// without a lockfile removes the working one.
func writeSource(instance *environment.Instance, source environment.Source) error {
	if err := atomicfile.Write(instance.ManifestPath(), source.Manifest, 0o644); err != nil {
		return err
	}
	if source.Lockfile == nil {
		if err := os.Remove(instance.LockfilePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing lockfile: %w", err)
		}
		return nil
	}
	return atomicfile.Write(instance.LockfilePath(), source.Lockfile, 0o644)
}

// InstallID is the [install] key for pkgPath: its last attribute.
func InstallID(pkgPath string) string {
	if index := strings.LastIndexByte(pkgPath, '.'); index >= 0 {
		return pkgPath[index+1:]
	}
	return pkgPath
}

// Install adds an [install] entry for each package path. Packages
// whose id is already installed are reported in Outcome.Skipped.
func (e *Editor) Install(ctx context.Context, pkgPaths []string) (Outcome, error) {
	if len(pkgPaths) == 0 {
		return Outcome{}, errors.New("no packages given to install")
	}
	var added, skipped []string
	outcome, err := e.apply(ctx, func(source *environment.Source) (string, bool, error) {
		parsed, err := manifest.Parse(source.Manifest)
		if err != nil {
			return "", false, err
		}
		for _, pkgPath := range pkgPaths {
			id := InstallID(pkgPath)
			if _, ok := parsed.Install[id]; ok || slices.Contains(added, id) {
				skipped = append(skipped, id)
				continue
			}
			parsed.AddInstall(id, manifest.InstallEntry{PkgPath: pkgPath})
			added = append(added, id)
		}
		if len(added) == 0 {
			return "", false, nil
		}
		if source.Manifest, err = parsed.Encode(); err != nil {
			return "", false, err
		}
		return describePackages("installed", added), true, nil
	})
	if outcome.Changed {
		outcome.Added = added
	}
	outcome.Skipped = skipped
	return outcome, err
}

// Uninstall removes [install] entries by id. Every id must be
// installed; otherwise nothing is changed.
func (e *Editor) Uninstall(ctx context.Context, ids []string) (Outcome, error) {
	if len(ids) == 0 {
		return Outcome{}, errors.New("no packages given to uninstall")
	}
	return e.apply(ctx, func(source *environment.Source) (string, bool, error) {
		parsed, err := manifest.Parse(source.Manifest)
		if err != nil {
			return "", false, err
		}
		var problems []error
		for _, id := range ids {
			if err := parsed.RemoveInstall(id); err != nil {
				problems = append(problems, err)
			}
		}
		if len(problems) > 0 {
			return "", false, errors.Join(problems...)
		}
		if source.Manifest, err = parsed.Encode(); err != nil {
			return "", false, err
		}
		return describePackages("uninstalled", ids), true, nil
	})
}

// Replace sets the manifest to data, which must parse.
func (e *Editor) Replace(ctx context.Context, data []byte) (Outcome, error) {
	return e.apply(ctx, func(source *environment.Source) (string, bool, error) {
		if bytes.Equal(source.Manifest, data) {
			return "", false, nil
		}
		source.Manifest = data
		return "manually edited the manifest", true, nil
	})
}

// Upgrade stamps the lockfile with the digest of the current manifest.
// Resolving newer package versions is the job of the package catalog;
// this records that the lock was refreshed against the manifest.
func (e *Editor) Upgrade(ctx context.Context) (Outcome, error) {
	return e.apply(ctx, func(source *environment.Source) (string, bool, error) {
		if source.Lockfile == nil {
			return "", false, fmt.Errorf("environment '%s' has no lockfile to upgrade", e.Instance.Description())
		}
		var lock map[string]any
		if err := json.Unmarshal(source.Lockfile, &lock); err != nil {
			return "", false, fmt.Errorf("parsing lockfile of '%s': %w", e.Instance.Description(), err)
		}
		digest := manifest.Digest(source.Manifest)
		if lock[LockDigestKey] == digest {
			return "", false, nil
		}
		lock[LockDigestKey] = digest
		encoded, err := json.MarshalIndent(lock, "", "  ")
		if err != nil {
			return "", false, err
		}
		source.Lockfile = append(encoded, '\n')
		return "upgraded packages", true, nil
	})
}

// Switch makes generation live and restores its manifest as the
// working copy.
func (e *Editor) Switch(ctx context.Context, generation int) error {
	return e.locked(ctx, func() error {
		store, err := e.openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return e.switchLocked(ctx, store, generation)
	})
}

func (e *Editor) switchLocked(ctx context.Context, store *generations.Store, generation int) error {
	metadata := generations.NewMetadata(fmt.Sprintf("switched to generation %d", generation), e.Args)
	source, err := store.Switch(ctx, generation, metadata)
	if err != nil {
		return err
	}
	return writeSource(e.Instance, source)
}

// Rollback switches to the generation that was live before the current
// one and returns its number.
func (e *Editor) Rollback(ctx context.Context) (int, error) {
	var target int
	err := e.locked(ctx, func() error {
		store, err := e.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		live, ok, err := store.Current(ctx)
		if err != nil {
			return err
		}
		events, err := store.History(ctx)
		if err != nil {
			return err
		}
		for index := len(events) - 1; index >= 0; index-- {
			if !ok || events[index].Generation != live {
				target = events[index].Generation
				break
			}
		}
		if target == 0 {
			return ErrNoPreviousGeneration
		}
		return e.switchLocked(ctx, store, target)
	})
	return target, err
}

// Pull resets the working manifest to the live generation, discarding
// local edits.
func (e *Editor) Pull(ctx context.Context) (int, error) {
	var live int
	err := e.locked(ctx, func() error {
		store, err := e.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var ok bool
		if live, ok, err = store.Current(ctx); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("environment '%s' has no generations", e.Instance.Description())
		}
		source, err := store.Resolve(ctx, live)
		if err != nil {
			return err
		}
		return writeSource(e.Instance, source)
	})
	return live, err
}

func describePackages(verb string, ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + id + "'"
	}
	noun := "package"
	if len(ids) > 1 {
		noun = "packages"
	}
	return fmt.Sprintf("%s %s %s", verb, noun, strings.Join(quoted, ", "))
}
