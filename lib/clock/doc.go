// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source used by the robot link.
//
// Every periodic or deadline-driven piece of the core (heartbeat sends,
// network-status polling, the validation timeout, the transport stall
// watchdog, reconnect backoff) takes a [Clock] instead of calling the
// time package. Production code passes [Real]; tests pass a
// [FakeClock] and move time forward explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	monitor := datachannel.NewMonitor(sender, router, fake, logger)
//	monitor.Start()
//	fake.WaitForTimers(2)          // heartbeat + status tickers registered
//	fake.Advance(2 * time.Second)  // one heartbeat fires
package clock
