package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time moves only when Advance is
// called; due callbacks run synchronously in the caller of Advance, in
// deadline order, with no lock held so they may schedule new timers.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	done     bool
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f to run once the clock has advanced by d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, waiter)

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if waiter.done {
			return false
		}
		waiter.done = true
		return true
	}}
}

// Advance moves the clock forward by d and runs every callback whose
// deadline has passed. Callbacks scheduled by a callback fire in the same
// Advance when their deadline also falls inside the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.current = target
			c.mu.Unlock()
			return
		}
		next.done = true
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}
		c.mu.Unlock()

		next.callback()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, w := range c.waiters {
		if !w.done {
			count++
		}
	}
	return count
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.done {
			live = append(live, w)
		}
	}
	c.waiters = live
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	if len(c.waiters) == 0 || c.waiters[0].deadline.After(target) {
		return nil
	}
	return c.waiters[0]
}
