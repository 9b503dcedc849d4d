// Package clock abstracts time so the limiter, the offline queue and the
// connectivity monitor can run against wall time in production and against a
// VirtualClock in tests and simulations.
package clock

import "time"

// Clock is the time source injected into every time-dependent component.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the duration elapsed since t.
	Since(t time.Time) time.Duration
	// After returns a channel that receives the current time after duration d.
	After(d time.Duration) <-chan time.Time
}

// RealClock delegates to the standard time package.
type RealClock struct{}

func NewRealClock() *RealClock {
	return &RealClock{}
}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Func adapts a plain now-function into a Clock. After is backed by real
// timers, so Func is meant for components that only read the time.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

func (f Func) Since(t time.Time) time.Duration { return f().Sub(t) }

func (f Func) After(d time.Duration) <-chan time.Time { return time.After(d) }

// OrReal returns c, or a RealClock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return NewRealClock()
	}
	return c
}

// Millis converts t to Unix milliseconds, the unit request IDs and HTTP
// reset headers are expressed in.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis, always in UTC.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
