// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status is a service's lifecycle state.
type Status string

const (
	StatusStopped     Status = "Stopped"
	StatusLaunching   Status = "Launching"
	StatusRunning     Status = "Running"
	StatusLaunched    Status = "Launched"
	StatusTerminating Status = "Terminating"
	StatusCompleted   Status = "Completed"
	StatusError       Status = "Error"
)

// Stopped reports whether s is a terminal state: the service holds no
// process and can be started.
func (s Status) Stopped() bool {
	switch s {
	case StatusStopped, StatusCompleted, StatusError:
		return true
	}
	return false
}

// ProcessState is the externally visible state of one service.
type ProcessState struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	PID       int    `json:"pid"`
	ExitCode  int    `json:"exit_code"`
	IsRunning bool   `json:"is_running"`
	Restarts  int    `json:"restarts"`
}

// outputWaitDelay bounds how long Wait keeps reading a service's pipes
// after it exits. Daemons hand the pipe to a grandchild that never
// closes it.
const outputWaitDelay = 500 * time.Millisecond

type process struct {
	name   string
	config ServiceConfig
	env    []string
	grace  time.Duration
	logger *slog.Logger
	output *output

	mu       sync.Mutex
	status   Status
	pid      int
	exitCode int
	restarts int
	stopping bool
	done     chan struct{}
}

func (p *process) state() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := ProcessState{
		Name:      p.name,
		Status:    p.status,
		ExitCode:  p.exitCode,
		IsRunning: !p.status.Stopped(),
		Restarts:  p.restarts,
	}
	if p.status == StatusRunning || p.status == StatusTerminating || p.status == StatusLaunching {
		state.PID = p.pid
	}
	return state
}

// start launches the service. It fails when the service already holds
// a process.
func (p *process) start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.status.Stopped() {
		return fmt.Errorf("service '%s' is already running", p.name)
	}

	cmd := exec.Command("sh", "-c", p.config.Command)
	cmd.Env = p.environment()
	cmd.Stdout = p.output
	cmd.Stderr = p.output
	cmd.WaitDelay = outputWaitDelay
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p.status = StatusLaunching
	if err := cmd.Start(); err != nil {
		p.status = StatusError
		p.exitCode = -1
		return fmt.Errorf("starting service '%s': %w", p.name, err)
	}

	p.pid = cmd.Process.Pid
	p.exitCode = 0
	p.stopping = false
	p.done = make(chan struct{})
	if !p.config.IsDaemon {
		p.status = StatusRunning
	}
	p.logger.Info("service started", "service", p.name, "pid", p.pid, "daemon", p.config.IsDaemon)

	go p.wait(cmd, p.done)
	return nil
}

func (p *process) environment() []string {
	env := append(os.Environ(), p.env...)
	for name, value := range p.config.Vars {
		env = append(env, name+"="+value)
	}
	return env
}

func (p *process) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	p.output.flush()

	exitCode := 0
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		exitCode = exitError.ExitCode()
	} else if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		exitCode = -1
	}

	p.mu.Lock()
	p.exitCode = exitCode
	switch {
	case p.stopping:
		p.status = StatusCompleted
	case p.config.IsDaemon && exitCode == 0:
		p.status = StatusLaunched
	case exitCode == 0:
		p.status = StatusCompleted
	default:
		p.status = StatusError
	}
	status := p.status
	p.mu.Unlock()

	p.logger.Info("service process exited", "service", p.name, "exit_code", exitCode, "state", string(status))
	close(done)
}

// stop terminates the service. Daemons and services with a shutdown
// command are stopped by running that command; everything else gets
// SIGTERM on its process group, then SIGKILL after the grace period.
func (p *process) stop(ctx context.Context) error {
	p.mu.Lock()
	if p.status.Stopped() {
		p.mu.Unlock()
		return fmt.Errorf("service '%s' is not running", p.name)
	}
	if p.status == StatusTerminating {
		done := p.done
		p.mu.Unlock()
		return p.awaitExit(ctx, done)
	}
	launched := p.status == StatusLaunched
	p.status = StatusTerminating
	p.stopping = true
	pid := p.pid
	done := p.done
	p.mu.Unlock()

	p.logger.Info("stopping service", "service", p.name, "pid", pid)

	if p.config.ShutdownCommand != "" {
		if err := p.runShutdownCommand(ctx); err != nil {
			p.logger.Warn("shutdown command failed", "service", p.name, "error", err)
		}
	} else if !launched {
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			p.logger.Warn("sending SIGTERM", "service", p.name, "error", err)
		}
	}

	if launched {
		p.mu.Lock()
		p.status = StatusCompleted
		p.mu.Unlock()
		return nil
	}

	select {
	case <-done:
		return nil
	case <-time.After(p.grace):
	case <-ctx.Done():
	}
	p.logger.Warn("service did not exit after SIGTERM, killing", "service", p.name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing service '%s': %w", p.name, err)
	}
	return p.awaitExit(ctx, done)
}

func (p *process) awaitExit(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *process) runShutdownCommand(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", p.config.ShutdownCommand)
	cmd.Env = p.environment()
	cmd.Stdout = p.output
	cmd.Stderr = p.output
	cmd.WaitDelay = outputWaitDelay
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return cmd.Run()
}

// finished returns a channel closed when the current process, if any,
// has exited.
func (p *process) finished() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.done
}
