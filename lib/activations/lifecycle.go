// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package activations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/looplab/fsm"
)

// Lifecycle states of one activation.
const (
	StateRequested    = "requested"
	StateAdmitted     = "admitted"
	StateHooksRunning = "hooks_running"
	StateActive       = "active"
	StateTearingDown  = "tearing_down"
	StateGone         = "gone"
)

// Lifecycle events.
const (
	EventAdmit    = "admit"
	EventRunHooks = "run_hooks"
	EventActivate = "activate"
	EventTeardown = "teardown"
	EventFinish   = "finish"
	EventAbort    = "abort"
)

// Lifecycle tracks where one activation is in
// requested → admitted → hooks_running → active → tearing_down → gone.
// A failure before active aborts straight to gone. The activating
// process drives the first half; the watchdog resumes at active and
// drives the rest.
type Lifecycle struct {
	machine *fsm.FSM
}

// NewLifecycle starts a lifecycle in the requested state.
func NewLifecycle(activationID string, logger *slog.Logger) *Lifecycle {
	return ResumeLifecycle(activationID, StateRequested, logger)
}

// ResumeLifecycle starts a lifecycle at state, for a process that
// takes over an activation part way through.
func ResumeLifecycle(activationID, state string, logger *slog.Logger) *Lifecycle {
	machine := fsm.NewFSM(
		state,
		fsm.Events{
			{Name: EventAdmit, Src: []string{StateRequested}, Dst: StateAdmitted},
			{Name: EventRunHooks, Src: []string{StateAdmitted}, Dst: StateHooksRunning},
			{Name: EventActivate, Src: []string{StateHooksRunning}, Dst: StateActive},
			{Name: EventTeardown, Src: []string{StateActive}, Dst: StateTearingDown},
			{Name: EventFinish, Src: []string{StateTearingDown}, Dst: StateGone},
			{Name: EventAbort, Src: []string{StateRequested, StateAdmitted, StateHooksRunning}, Dst: StateGone},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("activation state changed",
					"activation_id", activationID, "from", e.Src, "state", e.Dst, "event", e.Event)
			},
		},
	)
	return &Lifecycle{machine: machine}
}

// Fire applies event. An event that is not valid in the current state
// is an error; the state is unchanged.
func (l *Lifecycle) Fire(ctx context.Context, event string) error {
	if err := l.machine.Event(ctx, event); err != nil {
		return fmt.Errorf("activation lifecycle %s from %s: %w", event, l.machine.Current(), err)
	}
	return nil
}

// Current returns the current state.
func (l *Lifecycle) Current() string { return l.machine.Current() }
