// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package activate

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/flox/flox/lib/environment"
	"github.com/flox/flox/lib/manifest"
	"github.com/flox/flox/lib/shell"
)

// Variables set by an activation.
const (
	FloxEnvVar            = "FLOX_ENV"
	ProjectEnvVar         = "FLOX_ENV_PROJECT"
	DescriptionEnvVar     = "FLOX_ENV_DESCRIPTION"
	EnvDirsEnvVar         = "FLOX_ENV_DIRS"
	StartServicesEnvVar   = "FLOX_ACTIVATE_START_SERVICES"
	SocketEnvVar          = "_FLOX_SERVICES_SOCKET"
	StateDirEnvVar        = "_FLOX_ACTIVATION_STATE_DIR"
	ActivationIDEnvVar    = "_FLOX_ACTIVATION_ID"
	ServicesToStartEnvVar = "_FLOX_SERVICES_TO_START"
)

// exports computes the variables a layer sets, in export order:
// manifest [vars] first, then the flox variables. parent is the
// environment the layer is activated in.
func exports(parent map[string]string, parsed *manifest.Manifest, instance *environment.Instance, layer *Layer, chain string) []shell.Var {
	names := make([]string, 0, len(parsed.Vars))
	for name := range parsed.Vars {
		names = append(names, name)
	}
	slices.Sort(names)

	vars := make([]shell.Var, 0, len(names)+10)
	for _, name := range names {
		vars = append(vars, shell.Var{Name: name, Value: parsed.Vars[name]})
	}
	vars = append(vars,
		shell.Var{Name: FloxEnvVar, Value: layer.StorePath},
		shell.Var{Name: ProjectEnvVar, Value: instance.Project},
		shell.Var{Name: DescriptionEnvVar, Value: instance.Description()},
		shell.Var{Name: EnvDirsEnvVar, Value: prependList(layer.StorePath, parent[EnvDirsEnvVar])},
		shell.Var{Name: "PATH", Value: prependList(filepath.Join(layer.StorePath, "bin"), parent["PATH"])},
		shell.Var{Name: StartServicesEnvVar, Value: strconv.FormatBool(layer.StartServices)},
		shell.Var{Name: SocketEnvVar, Value: instance.SocketPath()},
		shell.Var{Name: StateDirEnvVar, Value: layer.StateDir},
		shell.Var{Name: ActivationIDEnvVar, Value: layer.ActivationID},
		shell.Var{Name: ChainEnvVar, Value: chain},
	)
	return vars
}

// ServiceEnvironment picks from environ the variables an activation
// of parsed exports, for services started from inside that activation.
// Variables missing from environ are left out.
func ServiceEnvironment(environ []string, parsed *manifest.Manifest) map[string]string {
	values := envMap(environ)
	names := []string{
		FloxEnvVar, ProjectEnvVar, DescriptionEnvVar, EnvDirsEnvVar, "PATH",
		StartServicesEnvVar, SocketEnvVar, StateDirEnvVar, ActivationIDEnvVar, ChainEnvVar,
	}
	for name := range parsed.Vars {
		names = append(names, name)
	}
	picked := make(map[string]string, len(names))
	for _, name := range names {
		if value, ok := values[name]; ok {
			picked[name] = value
		}
	}
	return picked
}

// unsets lists the variables an activation removes.
func unsets() []string { return []string{ServicesToStartEnvVar} }

func prependList(entry, list string) string {
	if list == "" {
		return entry
	}
	return entry + string(os.PathListSeparator) + list
}

// envMap indexes a KEY=VALUE list. Later entries win.
func envMap(environ []string) map[string]string {
	values := make(map[string]string, len(environ))
	for _, entry := range environ {
		if name, value, ok := strings.Cut(entry, "="); ok {
			values[name] = value
		}
	}
	return values
}

// applyEnv returns base with vars set and names in unset removed.
// Existing entries keep their position.
func applyEnv(base []string, vars []shell.Var, unset []string) []string {
	values := make(map[string]string, len(vars))
	for _, v := range vars {
		values[v.Name] = v.Value
	}
	result := make([]string, 0, len(base)+len(vars))
	seen := make(map[string]bool, len(vars))
	for _, entry := range base {
		name, _, _ := strings.Cut(entry, "=")
		if slices.Contains(unset, name) {
			continue
		}
		if value, ok := values[name]; ok {
			if seen[name] {
				continue
			}
			seen[name] = true
			result = append(result, name+"="+value)
			continue
		}
		result = append(result, entry)
	}
	for _, v := range vars {
		if !seen[v.Name] {
			seen[v.Name] = true
			result = append(result, v.Name+"="+values[v.Name])
		}
	}
	return result
}

func varsMap(vars []shell.Var) map[string]string {
	values := make(map[string]string, len(vars))
	for _, v := range vars {
		values[v.Name] = v.Value
	}
	return values
}

// profileKeys are the [profile] scripts in sourcing order, common
// first.
func profileKeys(shellName string) []string { return []string{"common", shellName} }

func profileFile(stateDir, key string) string {
	return filepath.Join(stateDir, "profile."+key)
}

// writeProfiles stores the layer's profile scripts for every shell in
// its state directory, so nested interactive shells of any kind can
// source them again.
func writeProfiles(stateDir string, parsed *manifest.Manifest) error {
	for _, key := range append([]string{"common"}, shell.Names()...) {
		script := parsed.ProfileScript(key)
		if script == "" {
			continue
		}
		if err := os.WriteFile(profileFile(stateDir, key), []byte(script), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// profileSources returns the profile scripts of layers that exist for
// shellName, in sourcing order.
func profileSources(layers []*Layer, shellName string) []string {
	var sources []string
	for _, layer := range layers {
		if layer.StateDir == "" {
			continue
		}
		for _, key := range profileKeys(shellName) {
			path := profileFile(layer.StateDir, key)
			if _, err := os.Stat(path); err == nil {
				sources = append(sources, path)
			}
		}
	}
	return sources
}
