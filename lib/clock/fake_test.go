// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"

	"github.com/flox/flox/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	fake := Fake(epoch)
	if !fake.Now().Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", fake.Now(), epoch)
	}
	fake.Advance(5 * time.Second)
	if want := epoch.Add(5 * time.Second); !fake.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", fake.Now(), want)
	}
}

func TestFakeAfter(t *testing.T) {
	fake := Fake(epoch)
	channel := fake.After(time.Second)

	fake.Advance(999 * time.Millisecond)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(time.Millisecond)
	fired := testutil.RequireReceive(t, channel, time.Second, "After did not fire")
	if want := epoch.Add(time.Second); !fired.Equal(want) {
		t.Errorf("fired at %v, want %v", fired, want)
	}
	if fake.Pending() != 0 {
		t.Errorf("Pending() = %d after one-shot fired, want 0", fake.Pending())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	fake := Fake(epoch)
	testutil.RequireReceive(t, fake.After(0), time.Second, "After(0) should be ready")
}

func TestFakeTicker(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(100 * time.Millisecond)

	for i := 1; i <= 3; i++ {
		fake.Advance(100 * time.Millisecond)
		testutil.RequireReceive(t, ticker.C, time.Second, "tick %d", i)
	}

	ticker.Stop()
	fake.Advance(time.Second)
	select {
	case <-ticker.C:
		t.Error("stopped ticker delivered a tick")
	default:
	}
}

func TestFakeSleepAndWaitForWaiters(t *testing.T) {
	fake := Fake(epoch)
	done := make(chan struct{})
	go func() {
		fake.Sleep(time.Minute)
		close(done)
	}()

	fake.WaitForWaiters(1)
	fake.Advance(time.Minute)
	testutil.RequireClosed(t, done, time.Second, "Sleep did not return")
}
