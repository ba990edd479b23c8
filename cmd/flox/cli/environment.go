// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/flox/flox/lib/activate"
	"github.com/flox/flox/lib/config"
	"github.com/flox/flox/lib/environment"
)

// EnvironmentFlags selects the environment a command operates on.
// Embed it in a params struct; it binds -d/--dir and -r/--remote.
type EnvironmentFlags struct {
	Dir    string
	Remote string
}

// AddFlags registers the selection flags.
func (e *EnvironmentFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&e.Dir, "dir", "d", "", "path containing a .flox/ directory")
	flagSet.StringVarP(&e.Remote, "remote", "r", "", "a FloxHub environment, as <owner>/<name>")
}

// Locator returns the environment locator for cfg. The supervisor
// socket may be overridden through _FLOX_SERVICES_SOCKET.
func Locator(cfg *config.Config) (environment.Locator, error) {
	runtimeDir, err := cfg.ResolveRuntimeDir()
	if err != nil {
		return environment.Locator{}, err
	}
	cacheDir, err := cfg.ResolveCacheDir()
	if err != nil {
		return environment.Locator{}, err
	}
	return environment.Locator{
		RuntimeDir:     runtimeDir,
		CacheDir:       cacheDir,
		SocketOverride: os.Getenv(activate.SocketEnvVar),
	}, nil
}

// Open locates the selected environment. Without flags it uses the
// current directory, and if that holds no environment, the innermost
// environment of chain.
func (e *EnvironmentFlags) Open(cfg *config.Config, chain *activate.Layer) (*environment.Instance, error) {
	if e.Dir != "" && e.Remote != "" {
		return nil, Validation("--dir and --remote cannot be used together")
	}
	locator, err := Locator(cfg)
	if err != nil {
		return nil, err
	}
	if e.Remote != "" {
		return notFound(locator.OpenRemote(e.Remote))
	}
	if e.Dir != "" {
		return notFound(locator.Open(e.Dir))
	}

	instance, err := locator.Open(".")
	var missing *environment.NotFoundError
	if !errors.As(err, &missing) || chain == nil {
		return notFound(instance, err)
	}
	return notFound(openLayer(locator, chain))
}

// openLayer reopens the environment of an activation layer, as a remote
// environment when its .flox lives in the remote cache.
func openLayer(locator environment.Locator, layer *activate.Layer) (*environment.Instance, error) {
	remoteRoot := filepath.Join(locator.CacheDir, "remote")
	if relative, err := filepath.Rel(remoteRoot, filepath.Dir(layer.DotFlox)); err == nil && !strings.HasPrefix(relative, "..") {
		return locator.OpenRemote(filepath.ToSlash(relative))
	}
	return locator.Open(filepath.Dir(layer.DotFlox))
}

func notFound(instance *environment.Instance, err error) (*environment.Instance, error) {
	var missing *environment.NotFoundError
	if errors.As(err, &missing) {
		return nil, Wrap(CategoryNotFound, err)
	}
	return instance, err
}

// Selection is the environment a command acts on, with the context it
// was selected in.
type Selection struct {
	Config   *config.Config
	Instance *environment.Instance

	// Chain is the calling process's activation chain.
	Chain *activate.Layer
}

// Select loads the configuration and activation chain and opens the
// selected environment.
func (e *EnvironmentFlags) Select() (*Selection, error) {
	cfg, err := Config()
	if err != nil {
		return nil, err
	}
	chain, err := activate.ChainFromEnvironment()
	if err != nil {
		return nil, Internal("reading %s: %w", activate.ChainEnvVar, err)
	}
	instance, err := e.Open(cfg, chain)
	if err != nil {
		return nil, err
	}
	return &Selection{Config: cfg, Instance: instance, Chain: chain}, nil
}
