// Package clock abstracts the time operations used by timer-driven
// components so tests can drive them deterministically.
package clock

import "time"

// Clock is the subset of the time package goalrun components depend on.
// Production code injects Real(); tests inject Fake().
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously during
	// Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns false if the timer already
// fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stopFunc: timer.Stop}
}
