// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

// fakeTimer is one registered After, AfterFunc, or ticker.
type fakeTimer struct {
	due      time.Time
	period   time.Duration // non-zero for tickers
	channel  chan time.Time
	callback func()
	dead     bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{now: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot channel timer.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.registerLocked(&fakeTimer{due: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc registers f to run during the Advance that crosses its
// deadline. Callbacks run synchronously in the goroutine calling
// Advance, so they must not call Advance themselves.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	timer := &fakeTimer{due: c.now.Add(d), callback: f}
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{stop: func() bool { return false }}
	}
	c.registerLocked(timer)
	c.mu.Unlock()

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if timer.dead {
			return false
		}
		timer.dead = true
		return true
	}}
}

// NewTicker registers a periodic timer.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	timer := &fakeTimer{due: c.now.Add(d), period: d, channel: channel}
	c.registerLocked(timer)

	return &Ticker{C: channel, stop: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		timer.dead = true
	}}
}

func (c *FakeClock) registerLocked(timer *fakeTimer) {
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()
}

// Advance moves time forward by d and fires everything that became due,
// earliest deadline first. Tickers spanning several periods fire once
// per period; ticks that find the channel full are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, timer := range due {
			if timer.callback != nil {
				timer.callback()
				continue
			}
			select {
			case timer.channel <- target:
			default:
			}
		}
	}
}

// takeDue removes one-shot timers that are due, reschedules due
// tickers, and returns what must fire in deadline order.
func (c *FakeClock) takeDue(target time.Time) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, keep []*fakeTimer
	for _, timer := range c.pending {
		switch {
		case timer.dead:
		case timer.due.After(target):
			keep = append(keep, timer)
		default:
			due = append(due, timer)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })
	for _, timer := range due {
		if timer.period > 0 {
			timer.due = timer.due.Add(timer.period)
			keep = append(keep, timer)
		} else {
			timer.dead = true
		}
	}
	c.pending = keep
	return due
}

// WaitForTimers blocks until at least n live timers are registered.
// Tests call it before Advance so a goroutine that is about to arm a
// timer cannot miss the advance.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.liveLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of live timers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked()
}

func (c *FakeClock) liveLocked() int {
	live := 0
	for _, timer := range c.pending {
		if !timer.dead {
			live++
		}
	}
	return live
}
