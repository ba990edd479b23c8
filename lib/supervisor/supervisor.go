// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flox/flox/lib/control"
	"github.com/flox/flox/lib/lock"
)

// ErrAlreadyRunning is returned by [Run] when another supervisor holds
// the instance's lock.
var ErrAlreadyRunning = errors.New("service manager already running")

// Supervisor owns the processes of one environment instance.
type Supervisor struct {
	config    *Config
	digest    string
	logger    *slog.Logger
	names     []string
	processes map[string]*process

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New prepares a supervisor for config. No process is started.
func New(config *Config, logger *slog.Logger) (*Supervisor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	digest, err := config.Digest()
	if err != nil {
		return nil, err
	}

	var env []string
	for name, value := range config.Environment {
		env = append(env, name+"="+value)
	}

	s := &Supervisor{
		config:    config,
		digest:    digest,
		logger:    logger,
		names:     config.Names(),
		processes: make(map[string]*process, len(config.Services)),
		shutdown:  make(chan struct{}),
	}
	for _, name := range s.names {
		s.processes[name] = &process{
			name:   name,
			config: config.Services[name],
			env:    env,
			grace:  config.gracePeriod(),
			logger: logger,
			output: newOutput(config.LogDir, name),
			status: StatusStopped,
		}
	}
	return s, nil
}

func (s *Supervisor) lookup(name string) (*process, error) {
	p, ok := s.processes[name]
	if !ok {
		return nil, fmt.Errorf("service '%s' does not exist", name)
	}
	return p, nil
}

// List returns the state of every service in name order.
func (s *Supervisor) List() []ProcessState {
	states := make([]ProcessState, 0, len(s.names))
	for _, name := range s.names {
		states = append(states, s.processes[name].state())
	}
	return states
}

// Start starts a stopped service.
func (s *Supervisor) Start(name string) error {
	p, err := s.lookup(name)
	if err != nil {
		return err
	}
	return p.start()
}

// Stop stops a running service.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	p, err := s.lookup(name)
	if err != nil {
		return err
	}
	return p.stop(ctx)
}

// Restart stops the service if it is running, then starts it.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	p, err := s.lookup(name)
	if err != nil {
		return err
	}
	if !p.state().Status.Stopped() {
		if err := p.stop(ctx); err != nil {
			return err
		}
	}
	if err := p.start(); err != nil {
		return err
	}
	p.mu.Lock()
	p.restarts++
	p.mu.Unlock()
	return nil
}

// StopAll stops every running service concurrently.
func (s *Supervisor) StopAll(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, name := range s.names {
		p := s.processes[name]
		if p.state().Status.Stopped() {
			continue
		}
		group.Go(func() error {
			if err := p.stop(ctx); err != nil && !p.state().Status.Stopped() {
				return err
			}
			return nil
		})
	}
	return group.Wait()
}

// Shutdown stops every service and then asks [Supervisor.Serve] to
// return.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	err := s.StopAll(ctx)
	s.shutdownOnce.Do(func() { close(s.shutdown) })
	return err
}

// Serve runs the control socket until ctx is done or a shutdown is
// requested. Running services are stopped before the socket is
// removed.
func (s *Supervisor) Serve(ctx context.Context) error {
	guard, err := lock.TryAcquire(LockPath(s.config.Socket))
	if errors.Is(err, lock.ErrBusy) {
		return ErrAlreadyRunning
	}
	if err != nil {
		return fmt.Errorf("acquiring supervisor lock: %w", err)
	}
	defer guard.Release()

	if s.config.LogDir != "" {
		if err := os.MkdirAll(s.config.LogDir, 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}

	server := control.NewServer(s.config.Socket, s.logger)
	s.register(server)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- server.Serve(serveCtx) }()

	select {
	case <-server.Ready():
		s.logger.Info("supervisor listening", "socket_path", s.config.Socket, "services", len(s.names))
	case err := <-served:
		return err
	}

	var serveErr error
	serving := true
	select {
	case <-s.shutdown:
		s.logger.Info("shutdown requested")
	case <-ctx.Done():
		s.logger.Info("supervisor stopping", "reason", ctx.Err())
	case serveErr = <-served:
		serving = false
	}

	// After a shutdown action this finds nothing left to stop.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*s.config.gracePeriod())
	if err := s.StopAll(stopCtx); err != nil {
		s.logger.Error("stopping services", "error", err)
	}
	stopCancel()

	cancel()
	if serving {
		serveErr = <-served
	}
	for _, name := range s.names {
		s.processes[name].output.close()
	}
	s.logger.Info("supervisor exited")
	return serveErr
}

// Run is New followed by Serve.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	s, err := New(config, logger)
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}
