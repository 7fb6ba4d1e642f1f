// Copyright 2026 The Anvil Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that the
// readiness poll loop and the daemon tick loop can be tested without
// real sleeps.
//
// Production code accepts a Clock instead of calling time.Now,
// time.After, time.NewTicker, or time.Sleep directly. Real() provides
// the standard library behavior; Fake() provides a deterministic clock
// that advances only when Advance is called.
//
// When a goroutine sleeps on a FakeClock it registers a pending
// waiter. Tests use WaitForWaiters to block until the goroutine under
// test has reached its sleep before calling Advance, which removes the
// registration/advance race that real-time sleeps would introduce.
package clock
