// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package activate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/flox/flox/lib/activations"
	"github.com/flox/flox/lib/atomicfile"
	"github.com/flox/flox/lib/clock"
	"github.com/flox/flox/lib/environment"
	"github.com/flox/flox/lib/manifest"
	"github.com/flox/flox/lib/procstat"
	"github.com/flox/flox/lib/services"
	"github.com/flox/flox/lib/shell"
	"github.com/flox/flox/lib/supervisor"
	"github.com/flox/flox/lib/watchdog"
)

// ProvisionalTimeout is how long an in-place activation is kept alive
// without a live owner, waiting for its shell to attach.
const ProvisionalTimeout = 10 * time.Second

// Invocation is how the activated environment is entered.
type Invocation int

const (
	// Interactive starts a new interactive shell.
	Interactive Invocation = iota

	// InPlace prints a script for the calling shell to evaluate.
	InPlace

	// Command runs Request.Command in the environment.
	Command
)

// Request describes one activation.
type Request struct {
	Instance *environment.Instance

	// Mode is "dev", "run" or "" for the manifest default.
	Mode string

	StartServices bool

	// ServicesToStart restricts StartServices to these names; empty
	// means all services.
	ServicesToStart []string

	// Generation pins a FloxHub generation instead of the working
	// manifest.
	Generation *int

	Shell      shell.Shell
	Invocation Invocation
	Command    []string

	// Chain is the set of layers already active in the calling process.
	Chain *Layer
}

// Result is what the caller does to enter the activation.
type Result struct {
	ActivationID string
	StateDir     string

	Env   []shell.Var
	Unset []string

	// Script is the snippet an in-place activation prints.
	Script string

	// Exec is the argv to exec for interactive and command
	// invocations, and ExecEnv its full environment.
	Exec    []string
	ExecEnv []string

	// AlreadyActive is set for an in-place activation of a layer that
	// is already active; Script is then empty.
	AlreadyActive bool
}

// Controller performs activations.
type Controller struct {
	Builder environment.Builder

	// ResolveGeneration loads the source of a pinned generation.
	ResolveGeneration func(ctx context.Context, instance *environment.Instance, generation int) (environment.Source, error)

	Watchdog             watchdog.Spawner
	WatchdogPollInterval time.Duration

	Starter      services.Starter
	StartTimeout time.Duration
	Out          services.Reporter
	System       string

	// FloxBinary is invoked by the in-place snippet to attach the
	// calling shell. Empty means the running executable.
	FloxBinary string

	// Environ is the environment activations start from. Nil means
	// os.Environ().
	Environ []string

	// HookOutput receives the on-activate hook's stdout and stderr.
	HookOutput io.Writer

	Clock  clock.Clock
	Alive  procstat.AliveFunc
	PID    int
	Logger *slog.Logger
}

func (c *Controller) applyDefaults() {
	if c.Environ == nil {
		c.Environ = os.Environ()
	}
	if c.HookOutput == nil {
		c.HookOutput = os.Stderr
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Alive == nil {
		c.Alive = procstat.Alive
	}
	if c.PID == 0 {
		c.PID = os.Getpid()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.System == "" {
		c.System = environment.CurrentSystem()
	}
	if c.FloxBinary == "" {
		if executable, err := os.Executable(); err == nil {
			c.FloxBinary = executable
		} else {
			c.FloxBinary = "flox"
		}
	}
}

// activation carries one Activate call through its lifecycle.
type activation struct {
	*Controller
	request   Request
	instance  *environment.Instance
	manifest  *manifest.Manifest
	layer     *Layer
	lifecycle *activations.Lifecycle
	logger    *slog.Logger
	admitted  bool
}

// Activate runs the activation described by request. On failure after
// admission the activation's record and state are removed again.
func (c *Controller) Activate(ctx context.Context, request Request) (*Result, error) {
	c.applyDefaults()
	instance := request.Instance
	if request.Shell == nil {
		request.Shell = shell.Bash{}
	}
	if request.Invocation == Command && len(request.Command) == 0 {
		return nil, errors.New("no command given to run in the environment")
	}

	source, err := c.source(ctx, request)
	if err != nil {
		return nil, err
	}
	parsed, err := manifest.Parse(source.Manifest)
	if err != nil {
		return nil, err
	}
	mode := request.Mode
	if mode == "" {
		mode = parsed.ActivateMode()
	}
	if mode == "" {
		mode = "dev"
	}
	if mode != "dev" && mode != "run" {
		return nil, &InvalidModeError{Mode: mode}
	}

	outputs, err := c.Builder.Build(ctx, instance, source)
	if err != nil {
		return nil, fmt.Errorf("building environment '%s': %w", instance.Description(), err)
	}
	storePath := outputs.Develop
	if mode == "run" && outputs.Runtime != "" {
		storePath = outputs.Runtime
	}

	if existing := request.Chain.Find(instance.Key()); existing != nil && existing.StorePath == storePath {
		switch request.Invocation {
		case Interactive:
			return nil, &AlreadyActiveError{Name: instance.Description()}
		case InPlace:
			return &Result{ActivationID: existing.ActivationID, StateDir: existing.StateDir, AlreadyActive: true}, nil
		}
	}

	id := activations.NewID()
	layer := Layer{
		Key:           instance.Key(),
		Name:          instance.Description(),
		DotFlox:       instance.DotFlox,
		StorePath:     storePath,
		Mode:          mode,
		Generation:    request.Generation,
		ActivationID:  id,
		StateDir:      instance.ActivationDir(id),
		StartServices: request.StartServices,
	}
	a := &activation{
		Controller: c,
		request:    request,
		instance:   instance,
		manifest:   parsed,
		layer:      request.Chain.Push(layer),
		lifecycle:  activations.NewLifecycle(id, c.Logger),
		logger:     c.Logger.With("activation_id", id, "environment", instance.Description()),
	}

	result, err := a.run(ctx)
	if err != nil {
		a.abandon(err)
		return nil, err
	}
	return result, nil
}

func (c *Controller) source(ctx context.Context, request Request) (environment.Source, error) {
	if request.Generation == nil {
		return request.Instance.WorkingSource()
	}
	if !request.Instance.Tracked() {
		return environment.Source{}, ErrGenerationsUnsupported
	}
	if c.ResolveGeneration == nil {
		return environment.Source{}, errors.New("generation resolution is not configured")
	}
	return c.ResolveGeneration(ctx, request.Instance, *request.Generation)
}

func (a *activation) run(ctx context.Context) (*Result, error) {
	if err := a.admit(ctx); err != nil {
		return nil, err
	}
	if err := a.lifecycle.Fire(ctx, activations.EventAdmit); err != nil {
		return nil, err
	}
	a.spawnWatchdog(ctx)

	if err := a.lifecycle.Fire(ctx, activations.EventRunHooks); err != nil {
		return nil, err
	}
	chainValue, err := a.layer.Encode()
	if err != nil {
		return nil, err
	}
	vars := exports(envMap(a.Environ), a.manifest, a.instance, a.layer, chainValue)
	environ := applyEnv(a.Environ, vars, unsets())
	if hook := a.manifest.OnActivate(); hook != "" {
		if err := a.runHook(ctx, hook, environ); err != nil {
			return nil, err
		}
	}

	if a.layer.StartServices {
		manager := &services.Manager{
			Instance:    a.instance,
			Manifest:    a.manifest,
			System:      a.System,
			Environment: varsMap(vars),
			Starter:     a.Starter,
			Timeout:     a.StartTimeout,
			Out:         a.Out,
			Logger:      a.logger,
		}
		if _, err := StartServices(ctx, manager, a.layer.ActivationID, a.request.ServicesToStart); err != nil {
			return nil, &ServicesError{Err: err}
		}
	}

	if err := activations.Update(ctx, a.instance.StateDir(), func(registry *activations.Registry) error {
		return registry.SetReady(a.layer.ActivationID)
	}); err != nil {
		return nil, err
	}
	if err := a.lifecycle.Fire(ctx, activations.EventActivate); err != nil {
		return nil, err
	}
	a.logger.Debug("activation ready", "mode", a.layer.Mode, "store_path", a.layer.StorePath)

	return a.render(vars, environ)
}

// admit registers the activation under the registry lock and creates
// its state directory.
func (a *activation) admit(ctx context.Context) error {
	now := a.Clock.Now()
	record := activations.Activation{
		ID:            a.layer.ActivationID,
		PID:           a.PID,
		StorePath:     a.layer.StorePath,
		Mode:          a.layer.Mode,
		StartServices: a.layer.StartServices,
		Generation:    a.layer.Generation,
		StartedAt:     now,
	}
	if a.request.Invocation == InPlace {
		expiration := now.Add(ProvisionalTimeout)
		record.Expiration = &expiration
	}

	var pruned []activations.Activation
	err := activations.Update(ctx, a.instance.StateDir(), func(registry *activations.Registry) error {
		pruned = registry.Prune(a.Alive, now)
		if err := registry.CheckMode(a.layer.Mode, a.layer.Generation); err != nil {
			return err
		}
		return registry.Add(record)
	})
	if err != nil {
		return err
	}
	a.admitted = true
	for _, dead := range pruned {
		a.logger.Info("pruned dead activation", "pruned_id", dead.ID, "pid", dead.PID)
		os.RemoveAll(a.instance.ActivationDir(dead.ID))
	}

	if err := os.MkdirAll(a.layer.StateDir, 0o700); err != nil {
		return fmt.Errorf("creating activation state directory: %w", err)
	}
	if err := writeProfiles(a.layer.StateDir, a.manifest); err != nil {
		return fmt.Errorf("writing profile scripts: %w", err)
	}
	return nil
}

// spawnWatchdog starts the activation's watchdog. Failure leaves the
// activation untracked but usable; a sibling's watchdog prunes it once
// its process is gone.
func (a *activation) spawnWatchdog(ctx context.Context) {
	if a.Watchdog == nil {
		a.logger.Warn("no watchdog configured; activation will not be cleaned up on exit")
		return
	}
	logDir := a.instance.LogDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		a.logger.Warn("creating log directory", "error", err)
	}
	args := watchdog.Args{
		ActivationID: a.layer.ActivationID,
		RegistryDir:  a.instance.StateDir(),
		SocketPath:   a.instance.SocketPath(),
		StateDir:     a.layer.StateDir,
		LogFile:      filepath.Join(logDir, watchdog.LogFileName(a.layer.ActivationID)),
		PollInterval: a.WatchdogPollInterval,
	}
	if err := a.Watchdog.Spawn(ctx, args); err != nil {
		a.logger.Warn("failed to spawn watchdog", "error", err)
	}
}

// runHook runs the on-activate hook in a throwaway bash. Its stdout goes
// to HookOutput as well, so nothing it prints ends up in an in-place
// script.
func (a *activation) runHook(ctx context.Context, script string, environ []string) error {
	cmd := exec.CommandContext(ctx, "bash", "-c", script)
	cmd.Env = environ
	cmd.Stdout = a.HookOutput
	cmd.Stderr = a.HookOutput
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return &HookError{Code: exitErr.ExitCode()}
	}
	if err != nil {
		return fmt.Errorf("running on-activate hook: %w", err)
	}
	return nil
}

func (a *activation) render(vars []shell.Var, environ []string) (*Result, error) {
	result := &Result{
		ActivationID: a.layer.ActivationID,
		StateDir:     a.layer.StateDir,
		Env:          vars,
		Unset:        unsets(),
	}
	sh := a.request.Shell

	switch a.request.Invocation {
	case Interactive:
		snippet := shell.Snippet{
			Exports: vars,
			Unsets:  result.Unset,
			Sources: profileSources(a.layer.Outermost(), sh.Name()),
		}
		rcfile := filepath.Join(a.layer.StateDir, sh.RCFileName())
		if err := atomicfile.Write(rcfile, []byte(sh.Render(snippet)), 0o644); err != nil {
			return nil, fmt.Errorf("writing shell rc file: %w", err)
		}
		invocation := sh.Interactive(rcfile)
		result.Exec = invocation.Args
		result.ExecEnv = applyEnv(environ, invocation.Env, nil)

	case InPlace:
		snippet := shell.Snippet{
			Exports:  vars,
			Unsets:   result.Unset,
			Sources:  profileSources([]*Layer{a.layer}, sh.Name()),
			Commands: []string{a.attachCommand(sh)},
		}
		result.Script = sh.Render(snippet)

	case Command:
		result.Exec = a.request.Command
		result.ExecEnv = environ
	}
	return result, nil
}

// attachCommand hands the provisional record over to the shell that
// evaluates the in-place script.
func (a *activation) attachCommand(sh shell.Shell) string {
	return strings.Join([]string{
		sh.Quote(a.FloxBinary), "_activations", "attach",
		"--registry-dir", sh.Quote(a.instance.StateDir()),
		"--id", a.layer.ActivationID,
		"--pid", sh.PIDVariable(),
		"--remove-pid", strconv.Itoa(a.PID),
	}, " ")
}

// abandon undoes an activation that failed. The watchdog, if it was
// spawned, sees the record disappear and exits.
func (a *activation) abandon(cause error) {
	ctx := context.Background()
	if err := a.lifecycle.Fire(ctx, activations.EventAbort); err != nil {
		a.logger.Debug("abort transition", "error", err)
	}
	if !a.admitted {
		return
	}
	a.logger.Info("abandoning failed activation", "error", cause)

	var empty bool
	err := activations.Update(ctx, a.instance.StateDir(), func(registry *activations.Registry) error {
		registry.Remove(a.layer.ActivationID)
		empty = registry.IsEmpty()
		return nil
	})
	if err != nil {
		a.logger.Warn("removing failed activation", "error", err)
		return
	}
	if empty {
		if err := supervisor.ShutdownAndWait(ctx, a.instance.SocketPath(), watchdog.DefaultSocketGoneTimeout); err != nil {
			a.logger.Warn("stopping services of failed activation", "error", err)
		}
	}
	os.RemoveAll(a.layer.StateDir)
}

// StartServices starts names through manager and makes activationID the
// service owner when this call launched the supervisor. The registry is
// read first so that an incompatible registry aborts before anything
// is started.
func StartServices(ctx context.Context, manager *services.Manager, activationID string, names []string) (services.StartResult, error) {
	return withServiceOwner(ctx, manager, activationID, func() (services.StartResult, error) {
		return manager.Start(ctx, names)
	})
}

// RestartServices is StartServices for restart, which relaunches the
// supervisor once every service has stopped.
func RestartServices(ctx context.Context, manager *services.Manager, activationID string, names []string) (services.StartResult, error) {
	return withServiceOwner(ctx, manager, activationID, func() (services.StartResult, error) {
		return manager.Restart(ctx, names)
	})
}

func withServiceOwner(ctx context.Context, manager *services.Manager, activationID string, run func() (services.StartResult, error)) (services.StartResult, error) {
	registryDir := manager.Instance.StateDir()
	if _, err := activations.Read(ctx, registryDir); err != nil {
		return services.StartResult{}, err
	}
	result, err := run()
	if err != nil {
		return result, err
	}
	if !result.Launched || activationID == "" {
		return result, nil
	}
	err = activations.Update(ctx, registryDir, func(registry *activations.Registry) error {
		if _, ok := registry.Get(activationID); !ok {
			return nil
		}
		return registry.SetServiceOwner(activationID)
	})
	if err != nil {
		return result, fmt.Errorf("recording service owner: %w", err)
	}
	return result, nil
}

// Attach replaces the provisional PID of activation id with pid. When
// provisional is non-zero the record is only changed while it still
// carries that PID, so a repeated attach is harmless.
func Attach(ctx context.Context, registryDir, id string, pid, provisional int) error {
	return activations.Update(ctx, registryDir, func(registry *activations.Registry) error {
		record, ok := registry.Get(id)
		if !ok {
			return fmt.Errorf("activation %s is not registered", id)
		}
		if provisional != 0 && record.PID != provisional {
			return nil
		}
		return registry.Attach(id, pid)
	})
}
