// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package environment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flox/flox/lib/atomicfile"
	"github.com/flox/flox/lib/manifest"
	"github.com/flox/flox/lib/nix"
)

// Source is the manifest and lockfile an environment is built from:
// either the working copy or a generation snapshot.
type Source struct {
	Manifest []byte
	Lockfile []byte
}

// WorkingSource reads the instance's current manifest and lockfile.
func (i *Instance) WorkingSource() (Source, error) {
	manifestData, err := i.ReadManifest()
	if err != nil {
		return Source{}, err
	}
	lockfile, err := i.ReadLockfile()
	if err != nil {
		return Source{}, err
	}
	return Source{Manifest: manifestData, Lockfile: lockfile}, nil
}

// Digest identifies the source content for build caching.
func (s Source) Digest() string {
	combined := make([]byte, 0, len(s.Manifest)+len(s.Lockfile)+1)
	combined = append(combined, s.Manifest...)
	combined = append(combined, 0)
	combined = append(combined, s.Lockfile...)
	return manifest.Digest(combined)
}

// Outputs are the realised store paths of a built environment.
type Outputs = nix.Outputs

// Builder turns a source into store paths.
type Builder interface {
	Build(ctx context.Context, instance *Instance, source Source) (Outputs, error)
}

// NixBuilder builds through the Nix CLI and caches the result per
// source digest under .flox/run, so activating an unchanged environment
// does not invoke Nix at all.
type NixBuilder struct {
	System string
}

type buildRecord struct {
	Develop string `json:"develop"`
	Runtime string `json:"runtime"`
}

// Build returns the cached outputs for source, or builds them.
func (b NixBuilder) Build(ctx context.Context, instance *Instance, source Source) (Outputs, error) {
	if len(source.Lockfile) == 0 {
		return Outputs{}, fmt.Errorf("environment '%s' has no lockfile; lock it before activating", instance.Description())
	}

	runDir := instance.RunDir()
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return Outputs{}, fmt.Errorf("creating %s: %w", runDir, err)
	}
	base := filepath.Join(runDir, b.System+"."+instance.Name()+"."+source.Digest())
	recordPath := base + ".json"

	if outputs, ok := readBuildRecord(recordPath); ok {
		return outputs, nil
	}

	lockPath := base + ".lock"
	if err := atomicfile.Write(lockPath, source.Lockfile, 0o644); err != nil {
		return Outputs{}, err
	}
	outputs, err := nix.BuildEnvironment(ctx, lockPath, base)
	if err != nil {
		return Outputs{}, fmt.Errorf("building environment '%s': %w", instance.Description(), err)
	}
	if err := atomicfile.WriteJSON(recordPath, buildRecord{Develop: outputs.Develop, Runtime: outputs.Runtime}, 0o644); err != nil {
		return Outputs{}, err
	}
	return outputs, nil
}

// readBuildRecord returns a previous build result if its store paths
// still exist. A garbage-collected result is treated as a cache miss.
func readBuildRecord(path string) (Outputs, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Outputs{}, false
	}
	var record buildRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return Outputs{}, false
	}
	for _, storePath := range []string{record.Develop, record.Runtime} {
		if _, err := os.Stat(storePath); errors.Is(err, os.ErrNotExist) || storePath == "" {
			return Outputs{}, false
		}
	}
	return Outputs{Develop: record.Develop, Runtime: record.Runtime}, true
}
