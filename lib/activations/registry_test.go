// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package activations

import (
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func activation(id string, pid int, started time.Duration) Activation {
	return Activation{ID: id, PID: pid, Mode: "dev", StartedAt: epoch.Add(started)}
}

func TestAddRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Add(activation("a", 10, 0)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := registry.Add(activation("a", 11, 0)); err == nil {
		t.Fatal("duplicate Add should fail")
	}
	if err := registry.Add(Activation{PID: 1}); err == nil {
		t.Fatal("Add without an ID should fail")
	}
	if len(registry.Activations) != 1 {
		t.Errorf("got %d activations, want 1", len(registry.Activations))
	}
}

func TestServiceOwnerMustBeRegistered(t *testing.T) {
	registry := NewRegistry()
	if err := registry.SetServiceOwner("ghost"); err == nil {
		t.Fatal("SetServiceOwner for an unregistered activation should fail")
	}
	registry.Add(activation("a", 10, 0))
	if err := registry.SetServiceOwner("a"); err != nil {
		t.Fatalf("SetServiceOwner: %v", err)
	}
	if registry.ServiceOwner == nil || *registry.ServiceOwner != "a" {
		t.Errorf("ServiceOwner = %v", registry.ServiceOwner)
	}
}

func TestRemoveClearsOwnerAndHandOff(t *testing.T) {
	registry := NewRegistry()
	registry.Add(activation("owner", 10, 0))
	registry.Add(activation("newer", 12, 2*time.Second))
	registry.Add(activation("older", 11, time.Second))
	registry.SetServiceOwner("owner")

	if !registry.Remove("owner") {
		t.Fatal("Remove returned false for a registered activation")
	}
	if registry.ServiceOwner != nil {
		t.Fatalf("ServiceOwner = %q after removing the owner", *registry.ServiceOwner)
	}
	if next := registry.HandOffServiceOwner(); next != "older" {
		t.Errorf("HandOffServiceOwner = %q, want the oldest remaining activation", next)
	}
	if registry.Remove("owner") {
		t.Error("second Remove should report false")
	}
}

func TestHandOffWithNoActivations(t *testing.T) {
	registry := NewRegistry()
	registry.Add(activation("a", 10, 0))
	registry.SetServiceOwner("a")
	registry.Remove("a")
	if next := registry.HandOffServiceOwner(); next != "" || registry.ServiceOwner != nil {
		t.Errorf("HandOffServiceOwner = %q, owner %v; want none", next, registry.ServiceOwner)
	}
}

func TestPrune(t *testing.T) {
	alive := map[int]bool{10: true}
	future := epoch.Add(time.Minute)
	past := epoch.Add(-time.Minute)

	registry := NewRegistry()
	registry.Add(activation("live", 10, 0))
	registry.Add(activation("dead", 20, time.Second))
	provisional := activation("provisional", 30, 2*time.Second)
	provisional.Expiration = &future
	registry.Add(provisional)
	expired := activation("expired", 40, 3*time.Second)
	expired.Expiration = &past
	registry.Add(expired)
	registry.SetServiceOwner("dead")

	removed := registry.Prune(func(pid int) bool { return alive[pid] }, epoch)

	var removedIDs []string
	for _, activation := range removed {
		removedIDs = append(removedIDs, activation.ID)
	}
	if len(removedIDs) != 2 || removedIDs[0] != "dead" || removedIDs[1] != "expired" {
		t.Errorf("removed = %v, want [dead expired]", removedIDs)
	}
	if _, ok := registry.Get("provisional"); !ok {
		t.Error("an unexpired provisional activation must survive pruning")
	}
	if registry.ServiceOwner == nil || *registry.ServiceOwner != "live" {
		t.Errorf("ServiceOwner = %v, want handoff to live", registry.ServiceOwner)
	}
}

func TestAttachClearsExpiration(t *testing.T) {
	future := epoch.Add(time.Minute)
	registry := NewRegistry()
	pending := activation("a", 100, 0)
	pending.Expiration = &future
	registry.Add(pending)

	if err := registry.Attach("a", 200); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	got, _ := registry.Get("a")
	if got.PID != 200 || got.Expiration != nil {
		t.Errorf("after Attach: pid %d expiration %v", got.PID, got.Expiration)
	}
	if err := registry.Attach("missing", 1); err == nil {
		t.Error("Attach to a missing activation should fail")
	}
}

func TestCheckMode(t *testing.T) {
	pinned := 3
	registry := NewRegistry()
	registry.Add(activation("a", 10, 0))

	if err := registry.CheckMode("dev", nil); err != nil {
		t.Errorf("same mode: %v", err)
	}

	err := registry.CheckMode("run", nil)
	var mismatch *ModeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want *ModeMismatchError", err)
	}
	want := "Environment can't be activated in 'run' mode whilst there are existing activations in 'dev' mode"
	if err.Error() != want {
		t.Errorf("message = %q", err)
	}

	if err := registry.CheckMode("run", &pinned); err != nil {
		t.Errorf("a pinned generation is a separate build and should not conflict: %v", err)
	}
}
