// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets time-dependent code accept an injected clock.
//
// Production code takes a [Clock] and receives [Real]. Tests pass a
// [FakeClock] and move time with Advance, so the watchdog poll loop,
// activation expiration, and stop escalation run without sleeping:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go loop(ctx, fake)
//	fake.WaitForWaiters(1)
//	fake.Advance(100 * time.Millisecond)
package clock
