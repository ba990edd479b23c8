// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/flox/flox/lib/control"
	"github.com/flox/flox/lib/environment"
	"github.com/flox/flox/lib/manifest"
	"github.com/flox/flox/lib/supervisor"
)

const (
	// DefaultStartTimeout bounds the wait for a launched supervisor.
	DefaultStartTimeout = 2 * time.Second

	// DefaultTail is how many lines logs shows without --follow.
	DefaultTail = 15

	// staleShutdownTimeout bounds the wait for a stale supervisor to
	// go away before a fresh one is launched.
	staleShutdownTimeout = 10 * time.Second
)

// Reporter receives per-service outcome messages.
type Reporter interface {
	Success(message string)
	Warning(message string)
}

// Manager operates the services of one environment instance.
type Manager struct {
	Instance *environment.Instance
	Manifest *manifest.Manifest
	System   string

	// Environment is passed to every service: the activation's
	// FLOX_ENV, PATH and friends.
	Environment map[string]string

	Starter Starter
	Timeout time.Duration
	Out     Reporter
	Logger  *slog.Logger
}

// StartResult describes what Start or Restart did.
type StartResult struct {
	// Launched is true when the call brought up a new supervisor. The
	// calling activation then owns it.
	Launched bool

	Started []string
}

func (m *Manager) client() *supervisor.Client {
	return supervisor.NewClient(m.Instance.SocketPath())
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Manager) timeout() time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}
	return DefaultStartTimeout
}

// processStates lists the supervisor's services, mapping every
// transport failure to ErrNotStarted.
func (m *Manager) processStates(ctx context.Context) ([]supervisor.ProcessState, error) {
	states, err := m.client().List(ctx)
	if errors.Is(err, control.ErrNoSocket) || errors.Is(err, control.ErrUnreachable) {
		return nil, ErrNotStarted
	}
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	return states, nil
}

func allStopped(states []supervisor.ProcessState) bool {
	for _, state := range states {
		if !state.Status.Stopped() {
			return false
		}
	}
	return true
}

// resolveNames validates names against the manifest. An empty list
// means every service available on the system.
func (m *Manager) resolveNames(names []string) ([]string, error) {
	if len(m.Manifest.Services) == 0 {
		return nil, ErrNoServices
	}
	available := m.Manifest.ServicesFor(m.System)
	if len(available) == 0 {
		return nil, &NoServicesForSystemError{System: m.System}
	}
	if len(names) == 0 {
		resolved := make([]string, 0, len(available))
		for _, name := range m.Manifest.ServiceNames() {
			if _, ok := available[name]; ok {
				resolved = append(resolved, name)
			}
		}
		return resolved, nil
	}

	var problems []string
	for _, name := range names {
		service, ok := m.Manifest.Services[name]
		switch {
		case !ok:
			problems = append(problems, doesNotExist(name))
		case !service.AvailableOn(m.System):
			problems = append(problems, notAvailable(name, m.System))
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return dedupe(names), nil
}

func dedupe(names []string) []string {
	var result []string
	for _, name := range names {
		if !slices.Contains(result, name) {
			result = append(result, name)
		}
	}
	return result
}

// SupervisorConfig renders the supervisor configuration for the
// services available on the system.
func (m *Manager) SupervisorConfig() *supervisor.Config {
	config := &supervisor.Config{
		Socket:      m.Instance.SocketPath(),
		LogDir:      m.Instance.LogDir(),
		System:      m.System,
		Environment: m.Environment,
		Services:    make(map[string]supervisor.ServiceConfig),
	}
	for name, service := range m.Manifest.ServicesFor(m.System) {
		serviceConfig := supervisor.ServiceConfig{
			Command:  service.Command,
			Vars:     service.Vars,
			IsDaemon: service.IsDaemon,
		}
		if service.Shutdown != nil {
			serviceConfig.ShutdownCommand = service.Shutdown.Command
		}
		config.Services[name] = serviceConfig
	}
	return config
}

// launch replaces any idle supervisor with a fresh one built from the
// current manifest and waits for it to answer.
func (m *Manager) launch(ctx context.Context) error {
	socketPath := m.Instance.SocketPath()
	if err := supervisor.ShutdownAndWait(ctx, socketPath, staleShutdownTimeout); err != nil {
		return fmt.Errorf("stopping previous service manager: %w", err)
	}

	configPath := m.Instance.SupervisorConfigPath()
	if err := supervisor.WriteConfig(configPath, m.SupervisorConfig()); err != nil {
		return err
	}
	m.logger().Info("launching service manager", "socket_path", socketPath)
	if err := m.Starter.Launch(ctx, configPath); err != nil {
		return fmt.Errorf("Failed to start services: %w", err)
	}
	return m.waitReady(ctx)
}

// waitReady polls the socket until the supervisor answers or the
// start timeout passes.
func (m *Manager) waitReady(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = m.timeout()

	client := m.client()
	err := backoff.Retry(func() error {
		_, err := client.List(ctx)
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger().Debug("service manager not ready", "error", err)
		return ErrSocketNotReady
	}
	return nil
}

// Start starts the named services, or every available service when
// names is empty. With no supervisor running, or one whose services
// have all stopped, a fresh supervisor is launched from the current
// manifest.
func (m *Manager) Start(ctx context.Context, names []string) (StartResult, error) {
	resolved, err := m.resolveNames(names)
	if err != nil {
		return StartResult{}, err
	}

	states, err := m.processStates(ctx)
	if err != nil && !errors.Is(err, ErrNotStarted) {
		return StartResult{}, err
	}
	if errors.Is(err, ErrNotStarted) || allStopped(states) {
		if err := m.launch(ctx); err != nil {
			return StartResult{}, err
		}
		started, err := m.startEach(ctx, resolved, "started")
		return StartResult{Launched: true, Started: started}, err
	}

	// The running supervisor keeps the definitions it was launched
	// with. Without names, start everything it knows.
	if len(names) == 0 {
		info, err := m.client().Config(ctx)
		if err != nil {
			return StartResult{}, fmt.Errorf("reading service manager config: %w", err)
		}
		resolved = info.Services
	} else if err := m.checkLoaded(ctx, resolved); err != nil {
		return StartResult{}, err
	}
	var toStart []string
	for _, name := range resolved {
		if state, ok := find(states, name); ok && !state.Status.Stopped() {
			m.Out.Warning(fmt.Sprintf("Service '%s' is already running.", name))
			continue
		}
		toStart = append(toStart, name)
	}
	started, err := m.startEach(ctx, toStart, "started")
	return StartResult{Started: started}, err
}

func (m *Manager) startEach(ctx context.Context, names []string, verb string) ([]string, error) {
	client := m.client()
	var started []string
	for _, name := range names {
		if err := client.Start(ctx, name); err != nil {
			return started, fmt.Errorf("Failed to start service '%s': %w", name, err)
		}
		started = append(started, name)
		m.Out.Success(fmt.Sprintf("Service '%s' %s.", name, verb))
	}
	return started, nil
}

// checkLoaded fails when the running supervisor lacks any of names.
func (m *Manager) checkLoaded(ctx context.Context, names []string) error {
	info, err := m.client().Config(ctx)
	if err != nil {
		return fmt.Errorf("reading service manager config: %w", err)
	}
	var missing []string
	for _, name := range names {
		if !slices.Contains(info.Services, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &StaleConfigError{Names: missing}
	}
	return nil
}

func find(states []supervisor.ProcessState, name string) (supervisor.ProcessState, bool) {
	for _, state := range states {
		if state.Name == name {
			return state, true
		}
	}
	return supervisor.ProcessState{}, false
}

// selectStates picks the named states, or all of them when names is
// empty. Every name must be known to the supervisor.
func selectStates(states []supervisor.ProcessState, names []string) ([]supervisor.ProcessState, error) {
	if len(names) == 0 {
		return states, nil
	}
	var selected []supervisor.ProcessState
	var problems []string
	for _, name := range dedupe(names) {
		state, ok := find(states, name)
		if !ok {
			problems = append(problems, doesNotExist(name))
			continue
		}
		selected = append(selected, state)
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return selected, nil
}

// Stop stops the named services, or every running service when names
// is empty.
func (m *Manager) Stop(ctx context.Context, names []string) error {
	states, err := m.processStates(ctx)
	if err != nil {
		return err
	}
	selected, err := selectStates(states, names)
	if err != nil {
		return err
	}

	client := m.client()
	for _, state := range selected {
		if state.Status.Stopped() {
			if len(names) > 0 {
				m.Out.Warning(fmt.Sprintf("Service '%s' is not running", state.Name))
			}
			continue
		}
		if err := client.Stop(ctx, state.Name); err != nil {
			return fmt.Errorf("Failed to stop service '%s': %w", state.Name, err)
		}
		m.Out.Success(fmt.Sprintf("Service '%s' stopped.", state.Name))
	}
	return nil
}

// Restart restarts services. When every service has stopped, the
// supervisor is relaunched from the current manifest; otherwise
// services restart against the config already loaded.
func (m *Manager) Restart(ctx context.Context, names []string) (StartResult, error) {
	resolved, err := m.resolveNames(names)
	if err != nil {
		return StartResult{}, err
	}
	states, err := m.processStates(ctx)
	if err != nil && !errors.Is(err, ErrNotStarted) {
		return StartResult{}, err
	}
	if errors.Is(err, ErrNotStarted) || allStopped(states) {
		if err := m.launch(ctx); err != nil {
			return StartResult{}, err
		}
		started, err := m.startEach(ctx, resolved, "restarted")
		return StartResult{Launched: true, Started: started}, err
	}

	if len(names) == 0 {
		// Everything the running supervisor knows, including
		// completed services.
		resolved = resolved[:0]
		for _, state := range states {
			resolved = append(resolved, state.Name)
		}
	} else if err := m.checkLoaded(ctx, resolved); err != nil {
		return StartResult{}, err
	}

	client := m.client()
	var restarted []string
	for _, name := range resolved {
		if err := client.Restart(ctx, name); err != nil {
			return StartResult{Started: restarted}, fmt.Errorf("Failed to restart service '%s': %w", name, err)
		}
		restarted = append(restarted, name)
		m.Out.Success(fmt.Sprintf("Service '%s' restarted.", name))
	}
	return StartResult{Started: restarted}, nil
}

// Status returns the state of the named services, or all of them.
func (m *Manager) Status(ctx context.Context, names []string) ([]supervisor.ProcessState, error) {
	states, err := m.processStates(ctx)
	if err != nil {
		return nil, err
	}
	return selectStates(states, names)
}

// Logs writes service output to w. Without follow exactly one name is
// required and the last tail lines are written as they are. With
// follow, lines from every named service (all when names is empty)
// are prefixed with the service name and streamed until ctx is done
// or the supervisor goes away.
func (m *Manager) Logs(ctx context.Context, names []string, follow bool, tail int, w io.Writer) error {
	if !follow && len(names) != 1 {
		return ErrFollowNeedsName
	}
	if tail < 0 {
		tail = DefaultTail
	}
	states, err := m.processStates(ctx)
	if err != nil {
		return err
	}
	selected, err := selectStates(states, names)
	if err != nil {
		return err
	}

	client := m.client()
	if !follow {
		return client.Logs(ctx, []string{selected[0].Name}, tail, false, func(line supervisor.LogLine) error {
			_, err := fmt.Fprintln(w, line.Line)
			return err
		})
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	for _, state := range selected {
		group.Go(func() error {
			err := client.Logs(groupCtx, []string{state.Name}, tail, true, func(line supervisor.LogLine) error {
				mu.Lock()
				defer mu.Unlock()
				_, err := fmt.Fprintf(w, "%s: %s\n", line.Service, line.Line)
				return err
			})
			if err == nil || groupCtx.Err() != nil {
				return nil
			}
			var serviceError *control.ServiceError
			if !errors.As(err, &serviceError) {
				// The supervisor went away mid-stream.
				m.logger().Debug("log stream ended", "service", state.Name, "error", err)
				return nil
			}
			return err
		})
	}
	return group.Wait()
}
