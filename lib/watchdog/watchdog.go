// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flox/flox/lib/activations"
	"github.com/flox/flox/lib/clock"
	"github.com/flox/flox/lib/procstat"
	"github.com/flox/flox/lib/supervisor"
)

const (
	// DefaultPollInterval is the fallback liveness check period.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultSocketGoneTimeout bounds the wait for the supervisor to
	// remove its socket after a shutdown request.
	DefaultSocketGoneTimeout = 10 * time.Second
)

// Config describes the activation to watch.
type Config struct {
	ActivationID string

	// RegistryDir holds activations.json for the environment instance.
	RegistryDir string

	// SocketPath is the supervisor control socket.
	SocketPath string

	// StateDir is the activation's own directory, removed on cleanup.
	StateDir string

	PollInterval      time.Duration
	SocketGoneTimeout time.Duration

	Clock  clock.Clock
	Alive  procstat.AliveFunc
	Logger *slog.Logger

	// Exited returns a channel closed when pid exits. Defaults to
	// [procstat.Exited].
	Exited func(ctx context.Context, pid int) <-chan struct{}

	// ShutdownSupervisor stops the supervisor listening on socketPath
	// and returns once it is gone. Defaults to
	// [supervisor.ShutdownAndWait].
	ShutdownSupervisor func(ctx context.Context, socketPath string) error

	// Signals delivers signals forwarded by the binary. SIGUSR1 forces
	// cleanup; any other signal stops the watchdog without cleanup.
	Signals <-chan os.Signal
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SocketGoneTimeout <= 0 {
		c.SocketGoneTimeout = DefaultSocketGoneTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Alive == nil {
		c.Alive = procstat.Alive
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Exited == nil {
		interval := c.PollInterval
		c.Exited = func(ctx context.Context, pid int) <-chan struct{} {
			return procstat.Exited(ctx, pid, interval)
		}
	}
	if c.ShutdownSupervisor == nil {
		timeout := c.SocketGoneTimeout
		c.ShutdownSupervisor = func(ctx context.Context, socketPath string) error {
			return supervisor.ShutdownAndWait(ctx, socketPath, timeout)
		}
	}
}

// Outcome reports how Run ended.
type Outcome int

const (
	// CleanedUp: the activation was removed by this watchdog.
	CleanedUp Outcome = iota

	// RemovedElsewhere: another process removed the activation first.
	RemovedElsewhere

	// Interrupted: a terminating signal or context cancellation
	// stopped the watchdog before cleanup.
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case CleanedUp:
		return "cleaned_up"
	case RemovedElsewhere:
		return "removed_elsewhere"
	case Interrupted:
		return "interrupted"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

type watchdog struct {
	config    Config
	logger    *slog.Logger
	lifecycle *activations.Lifecycle
	events    <-chan fsnotify.Event
}

// Run watches the activation until it ends, then cleans up after it.
func Run(ctx context.Context, config Config) (Outcome, error) {
	config.applyDefaults()
	if config.ActivationID == "" || config.RegistryDir == "" {
		return Interrupted, fmt.Errorf("watchdog requires an activation ID and a registry directory")
	}

	logger := config.Logger.With("activation_id", config.ActivationID)
	w := &watchdog{
		config:    config,
		logger:    logger,
		lifecycle: activations.ResumeLifecycle(config.ActivationID, activations.StateActive, logger),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("registry change notifications unavailable, polling only", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(config.RegistryDir); err != nil {
			logger.Warn("watching registry directory", "error", err)
		} else {
			w.events = watcher.Events
		}
	}

	ticker := config.Clock.NewTicker(config.PollInterval)
	defer ticker.Stop()

	logger.Info("watching activation", "registry_dir", config.RegistryDir)
	force := false
	for {
		txn, err := activations.Open(ctx, config.RegistryDir)
		if err != nil {
			if ctx.Err() != nil {
				return Interrupted, nil
			}
			return Interrupted, fmt.Errorf("opening activation registry: %w", err)
		}

		activation, ok := txn.Registry().Get(config.ActivationID)
		if !ok {
			txn.Abort()
			logger.Info("activation removed by another process")
			return RemovedElsewhere, nil
		}

		if force || !w.held(activation) {
			if err := w.cleanup(ctx, txn); err != nil {
				return Interrupted, err
			}
			return CleanedUp, nil
		}
		txn.Abort()

		outcome, wake := w.wait(ctx, activation, ticker)
		switch wake {
		case wakeForce:
			logger.Info("cleanup forced by signal")
			force = true
		case wakeStop:
			logger.Info("watchdog stopping without cleanup")
			return outcome, nil
		}
	}
}

// held reports whether the activation still has an owner: a live PID
// or an unexpired grace period.
func (w *watchdog) held(activation activations.Activation) bool {
	if w.config.Alive(activation.PID) {
		return true
	}
	return activation.Expiration != nil && w.config.Clock.Now().Before(*activation.Expiration)
}

type wakeReason int

const (
	wakeRecheck wakeReason = iota
	wakeForce
	wakeStop
)

func (w *watchdog) wait(ctx context.Context, activation activations.Activation, ticker *clock.Ticker) (Outcome, wakeReason) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A dead PID held only by its expiration has nothing to wait on;
	// the tick or an attach will wake us.
	var exited <-chan struct{}
	if w.config.Alive(activation.PID) {
		exited = w.config.Exited(waitCtx, activation.PID)
	}

	select {
	case <-exited:
		w.logger.Debug("owning process exited", "pid", activation.PID)
	case event, ok := <-w.events:
		if !ok {
			w.events = nil
		} else {
			w.logger.Debug("registry changed", "path", event.Name, "op", event.Op.String())
		}
	case <-ticker.C:
	case signal := <-w.config.Signals:
		if signal == syscall.SIGUSR1 {
			return CleanedUp, wakeForce
		}
		w.logger.Info("received signal", "signal", signal.String())
		return Interrupted, wakeStop
	case <-ctx.Done():
		return Interrupted, wakeStop
	}
	return CleanedUp, wakeRecheck
}

// cleanup removes the activation while holding the registry lock.
// The supervisor is stopped before the commit that empties the
// registry.
func (w *watchdog) cleanup(ctx context.Context, txn *activations.Txn) error {
	defer txn.Abort()
	if err := w.lifecycle.Fire(ctx, activations.EventTeardown); err != nil {
		return err
	}
	registry := txn.Registry()

	registry.Remove(w.config.ActivationID)
	pruned := registry.Prune(w.config.Alive, w.config.Clock.Now())
	for _, activation := range pruned {
		w.logger.Info("pruned dead activation", "pruned_id", activation.ID, "pid", activation.PID)
	}
	if owner := registry.HandOffServiceOwner(); owner != "" {
		w.logger.Info("service ownership", "owner", owner)
	}

	if registry.IsEmpty() {
		w.logger.Info("last activation ended, stopping services", "socket_path", w.config.SocketPath)
		if err := w.config.ShutdownSupervisor(ctx, w.config.SocketPath); err != nil {
			w.logger.Error("stopping supervisor", "error", err)
		}
	}

	w.removeStateDir(w.config.StateDir)
	for _, activation := range pruned {
		w.removeStateDir(filepath.Join(w.config.RegistryDir, activation.ID))
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("committing activation registry: %w", err)
	}
	if err := w.lifecycle.Fire(ctx, activations.EventFinish); err != nil {
		return err
	}
	w.logger.Info("finished cleanup")
	return nil
}

func (w *watchdog) removeStateDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		w.logger.Warn("removing activation state directory", "path", dir, "error", err)
	}
}
