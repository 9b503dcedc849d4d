// Package clock re-exports the clocks used by Carelink so embedders can drive
// the limiter and queue on virtual time.
package clock

import (
	"time"

	internalclock "github.com/SmitUplenchwar2687/Carelink/internal/clock"
)

// Clock abstracts time for the limiter, queue and connectivity monitor.
type Clock = internalclock.Clock

// RealClock delegates to the standard time package.
type RealClock = internalclock.RealClock

// VirtualClock only moves when told to.
type VirtualClock = internalclock.VirtualClock

// Func adapts a plain func() time.Time.
type Func = internalclock.Func

func NewRealClock() *RealClock {
	return internalclock.NewRealClock()
}

// NewVirtualClock creates a virtual clock starting at the given time.
func NewVirtualClock(start time.Time) *VirtualClock {
	return internalclock.NewVirtualClock(start)
}

// Millis converts t to Unix milliseconds.
func Millis(t time.Time) int64 {
	return internalclock.Millis(t)
}
