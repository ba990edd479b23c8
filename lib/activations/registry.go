// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package activations

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Version is the only document version this package reads or writes.
const Version = 1

// Activation is one live "enter this environment" invocation.
type Activation struct {
	ID string `json:"id"`

	// PID owns the activation: when it exits, the activation ends.
	PID int `json:"pid"`

	// Expiration, when set, keeps the record alive past the death of
	// PID until the given time. In-place activations register the
	// short-lived flox process and rely on the user's shell attaching
	// its own PID before the expiration passes.
	Expiration *time.Time `json:"expiration"`

	StorePath     string    `json:"store_path"`
	Mode          string    `json:"mode"`
	Ready         bool      `json:"ready"`
	StartServices bool      `json:"start_services"`
	Generation    *int      `json:"generation"`
	StartedAt     time.Time `json:"started_at"`
}

// Registry is the activations.json document.
type Registry struct {
	Version     int          `json:"version"`
	Activations []Activation `json:"activations"`

	// ServiceOwner is the activation responsible for the supervisor.
	// When set it names a registered activation.
	ServiceOwner *string `json:"service_owner"`
}

// NewRegistry returns an empty registry at the current version.
func NewRegistry() *Registry {
	return &Registry{Version: Version, Activations: []Activation{}}
}

// NewID returns a fresh activation ID.
func NewID() string { return uuid.NewString() }

// Add registers activation. IDs are unique.
func (r *Registry) Add(activation Activation) error {
	if activation.ID == "" {
		return fmt.Errorf("activation has no ID")
	}
	if r.index(activation.ID) >= 0 {
		return fmt.Errorf("activation %s is already registered", activation.ID)
	}
	r.Activations = append(r.Activations, activation)
	return nil
}

// Get returns the activation with id.
func (r *Registry) Get(id string) (Activation, bool) {
	if index := r.index(id); index >= 0 {
		return r.Activations[index], true
	}
	return Activation{}, false
}

// Remove unregisters id and reports whether it was present. Removing
// the service owner clears ownership; callers that want to keep
// services running call [Registry.HandOffServiceOwner] afterwards.
func (r *Registry) Remove(id string) bool {
	index := r.index(id)
	if index < 0 {
		return false
	}
	r.Activations = slices.Delete(r.Activations, index, index+1)
	if r.ServiceOwner != nil && *r.ServiceOwner == id {
		r.ServiceOwner = nil
	}
	return true
}

// Attach makes pid the owner of activation id and clears any
// expiration.
func (r *Registry) Attach(id string, pid int) error {
	index := r.index(id)
	if index < 0 {
		return fmt.Errorf("activation %s is not registered", id)
	}
	r.Activations[index].PID = pid
	r.Activations[index].Expiration = nil
	return nil
}

// SetReady marks activation id as having finished its hooks.
func (r *Registry) SetReady(id string) error {
	index := r.index(id)
	if index < 0 {
		return fmt.Errorf("activation %s is not registered", id)
	}
	r.Activations[index].Ready = true
	return nil
}

// Prune removes every activation whose PID is dead and whose
// expiration, if any, has passed. It returns the removed records and
// hands service ownership off if the owner was among them.
func (r *Registry) Prune(alive func(pid int) bool, now time.Time) []Activation {
	var removed []Activation
	kept := r.Activations[:0]
	for _, activation := range r.Activations {
		if alive(activation.PID) || (activation.Expiration != nil && now.Before(*activation.Expiration)) {
			kept = append(kept, activation)
			continue
		}
		removed = append(removed, activation)
	}
	r.Activations = kept
	if len(removed) > 0 {
		r.HandOffServiceOwner()
	}
	return removed
}

// SetServiceOwner records id as the supervisor owner. id must already
// be registered.
func (r *Registry) SetServiceOwner(id string) error {
	if r.index(id) < 0 {
		return fmt.Errorf("cannot make unregistered activation %s the service owner", id)
	}
	r.ServiceOwner = &id
	return nil
}

// HandOffServiceOwner ensures ownership names a live activation. If
// the owner is gone, the oldest remaining activation takes over; if
// none remain, ownership is cleared. The new owner is returned, or ""
// when there is none.
func (r *Registry) HandOffServiceOwner() string {
	if r.ServiceOwner != nil && r.index(*r.ServiceOwner) >= 0 {
		return *r.ServiceOwner
	}
	r.ServiceOwner = nil
	if len(r.Activations) == 0 {
		return ""
	}
	oldest := r.Activations[0]
	for _, activation := range r.Activations[1:] {
		if activation.StartedAt.Before(oldest.StartedAt) {
			oldest = activation
		}
	}
	r.ServiceOwner = &oldest.ID
	return oldest.ID
}

// IsEmpty reports whether no activations remain.
func (r *Registry) IsEmpty() bool { return len(r.Activations) == 0 }

// PIDs returns the owning PID of every activation.
func (r *Registry) PIDs() []int {
	pids := make([]int, 0, len(r.Activations))
	for _, activation := range r.Activations {
		pids = append(pids, activation.PID)
	}
	return pids
}

// ModeMismatchError reports an attempt to activate in a mode that
// differs from running activations.
type ModeMismatchError struct {
	Requested string
	Existing  string
}

func (e *ModeMismatchError) Error() string {
	return fmt.Sprintf("Environment can't be activated in '%s' mode whilst there are existing activations in '%s' mode",
		e.Requested, e.Existing)
}

// CheckMode fails when an existing activation of the same generation
// uses a mode other than requested. Activations pinned to a generation are independent builds
// and do not constrain the mode.
func (r *Registry) CheckMode(requested string, generation *int) error {
	for _, activation := range r.Activations {
		if !sameGeneration(activation.Generation, generation) {
			continue
		}
		if activation.Mode != requested {
			return &ModeMismatchError{Requested: requested, Existing: activation.Mode}
		}
	}
	return nil
}

func sameGeneration(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *Registry) index(id string) int {
	return slices.IndexFunc(r.Activations, func(activation Activation) bool {
		return activation.ID == id
	})
}
