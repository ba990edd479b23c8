// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest reads and edits the parts of an environment's
// manifest.toml that activation and services depend on. Package
// resolution is not done here: [install] entries are carried through
// unchanged apart from additions and removals.
package manifest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/zeebo/blake3"
)

var (
	// ErrInvalid wraps every error returned by Parse.
	ErrInvalid = errors.New("invalid manifest")

	// ErrNotInstalled is returned by RemoveInstall for an unknown id.
	ErrNotInstalled = errors.New("is not installed")
)

// Manifest is the parsed manifest.
type Manifest struct {
	Version  int                     `toml:"version"`
	Install  map[string]InstallEntry `toml:"install,omitempty"`
	Vars     map[string]string       `toml:"vars,omitempty"`
	Hook     *Hook                   `toml:"hook,omitempty"`
	Profile  *Profile                `toml:"profile,omitempty"`
	Services map[string]Service      `toml:"services,omitempty"`
	Options  *Options                `toml:"options,omitempty"`
}

// InstallEntry is one package in the [install] table.
type InstallEntry struct {
	PkgPath  string   `toml:"pkg-path"`
	Version  string   `toml:"version,omitempty"`
	Systems  []string `toml:"systems,omitempty"`
	Priority int      `toml:"priority,omitempty"`
}

// Hook holds the [hook] table.
type Hook struct {
	OnActivate string `toml:"on-activate,omitempty"`
}

// Profile holds scripts sourced into the user's shell on activation.
// Common is sourced before the shell-specific script.
type Profile struct {
	Common string `toml:"common,omitempty"`
	Bash   string `toml:"bash,omitempty"`
	Zsh    string `toml:"zsh,omitempty"`
	Fish   string `toml:"fish,omitempty"`
	Tcsh   string `toml:"tcsh,omitempty"`
}

// Service is one [services.<name>] table.
type Service struct {
	Command  string            `toml:"command"`
	Vars     map[string]string `toml:"vars,omitempty"`
	IsDaemon bool              `toml:"is-daemon,omitempty"`
	Shutdown *Shutdown         `toml:"shutdown,omitempty"`
	Systems  []string          `toml:"systems,omitempty"`
}

// Shutdown describes how to stop a service without signalling it.
type Shutdown struct {
	Command string `toml:"command"`
}

// Options holds the [options] table.
type Options struct {
	Systems  []string         `toml:"systems,omitempty"`
	Activate *ActivateOptions `toml:"activate,omitempty"`
}

// ActivateOptions holds [options.activate].
type ActivateOptions struct {
	Mode string `toml:"mode,omitempty"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	manifest, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return manifest, nil
}

// Parse decodes and validates manifest content.
func Parse(data []byte) (*Manifest, error) {
	var manifest Manifest
	decoder := toml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&manifest); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, column := decodeErr.Position()
			return nil, fmt.Errorf("%w at line %d, column %d: %w", ErrInvalid, row, column, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return &manifest, nil
}

// Validate checks the constraints the activation code relies on.
func (m *Manifest) Validate() error {
	switch mode := m.ActivateMode(); mode {
	case "", "dev", "run":
	default:
		return fmt.Errorf("invalid activate mode %q: expected 'dev' or 'run'", mode)
	}
	for _, name := range m.ServiceNames() {
		service := m.Services[name]
		if service.Command == "" {
			return fmt.Errorf("service '%s' has no command", name)
		}
		if service.IsDaemon && (service.Shutdown == nil || service.Shutdown.Command == "") {
			return fmt.Errorf("service '%s' is a daemon and requires a shutdown command", name)
		}
	}
	return nil
}

// Encode serializes the manifest back to TOML.
func (m *Manifest) Encode() ([]byte, error) {
	var buffer bytes.Buffer
	encoder := toml.NewEncoder(&buffer)
	encoder.SetIndentTables(true)
	if err := encoder.Encode(m); err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return buffer.Bytes(), nil
}

// Digest returns a short hex digest of raw manifest bytes, used to tell
// whether a cached build is still current.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// ActivateMode returns the manifest's default activation mode, or "".
func (m *Manifest) ActivateMode() string {
	if m.Options == nil || m.Options.Activate == nil {
		return ""
	}
	return m.Options.Activate.Mode
}

// OnActivate returns the on-activate hook script, or "".
func (m *Manifest) OnActivate() string {
	if m.Hook == nil {
		return ""
	}
	return m.Hook.OnActivate
}

// ProfileScript returns the [profile] script for key, which is
// "common" or a shell name, or "".
func (m *Manifest) ProfileScript(key string) string {
	if m.Profile == nil {
		return ""
	}
	switch key {
	case "common":
		return m.Profile.Common
	case "bash":
		return m.Profile.Bash
	case "zsh":
		return m.Profile.Zsh
	case "fish":
		return m.Profile.Fish
	case "tcsh":
		return m.Profile.Tcsh
	}
	return ""
}

// ProfileScripts returns the common script and the script for the
// named shell, skipping empty ones, in sourcing order.
func (m *Manifest) ProfileScripts(shell string) []string {
	var scripts []string
	for _, key := range []string{"common", shell} {
		if script := m.ProfileScript(key); script != "" {
			scripts = append(scripts, script)
		}
	}
	return scripts
}

// ServiceNames returns every service name in sorted order.
func (m *Manifest) ServiceNames() []string {
	names := make([]string, 0, len(m.Services))
	for name := range m.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AvailableOn reports whether the named service runs on system. A
// service without a systems list runs everywhere.
func (s Service) AvailableOn(system string) bool {
	return len(s.Systems) == 0 || slices.Contains(s.Systems, system)
}

// ServicesFor returns the services that run on system.
func (m *Manifest) ServicesFor(system string) map[string]Service {
	available := make(map[string]Service, len(m.Services))
	for name, service := range m.Services {
		if service.AvailableOn(system) {
			available[name] = service
		}
	}
	return available
}

// AddInstall adds or replaces an [install] entry. It reports whether
// the entry is new.
func (m *Manifest) AddInstall(id string, entry InstallEntry) bool {
	if m.Install == nil {
		m.Install = make(map[string]InstallEntry)
	}
	_, existed := m.Install[id]
	m.Install[id] = entry
	return !existed
}

// RemoveInstall deletes an [install] entry, returning an error naming
// id when it is absent.
func (m *Manifest) RemoveInstall(id string) error {
	if _, ok := m.Install[id]; !ok {
		return fmt.Errorf("package '%s' %w", id, ErrNotInstalled)
	}
	delete(m.Install, id)
	return nil
}
