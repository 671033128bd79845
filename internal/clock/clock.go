// Package clock abstracts time so that the mesh core's timers — the
// 30s pending-offer expiry, the 2s ping loop, and the movement
// integrator's per-tick deltas — can be driven deterministically in
// tests instead of racing real wall-clock sleeps.
//
// Production code wires clock.Real(); tests wire clock.Fake() and
// advance it explicitly. Every place in this module that would
// otherwise call time.Now, time.NewTicker, or time.AfterFunc directly
// takes a Clock instead.
package clock

import "time"

// Clock is the time source used throughout the mesh core.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules f to run after d elapses and returns a Timer
	// that can cancel the pending call. Used for the peer manager's
	// per-peer pending-offer timeout.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering on an interval. Used for
	// the peer manager's ping loop.
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer; read ticks from C, call Stop when done.
type Ticker struct {
	// C delivers ticks. Buffered with capacity 1, matching time.Ticker.
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. Does not close C.
func (t *Ticker) Stop() { t.stopFunc() }

// Timer represents a scheduled one-shot call. It has no channel: every
// caller in this module uses AfterFunc, never After.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer before it fired.
func (t *Timer) Stop() bool { return t.stopFunc() }
