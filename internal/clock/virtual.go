package clock

import (
	"sort"
	"sync"
	"time"
)

// VirtualClock is a manually driven clock. Time only moves when Advance or
// Set is called, which makes window expiry and probe intervals deterministic.
//
// Safe for concurrent use.
type VirtualClock struct {
	mu      sync.RWMutex
	current time.Time
	timers  []timer
}

type timer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewVirtualClock creates a VirtualClock starting at start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{current: start}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *VirtualClock) Since(t time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Sub(t)
}

// After returns a channel that fires once virtual time reaches now+d.
// Non-positive durations fire immediately.
func (c *VirtualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}

	t := timer{deadline: c.current.Add(d), ch: ch}
	i := sort.Search(len(c.timers), func(i int) bool {
		return c.timers[i].deadline.After(t.deadline)
	})
	c.timers = append(c.timers, timer{})
	copy(c.timers[i+1:], c.timers[i:])
	c.timers[i] = t
	return ch
}

// Advance moves the clock forward by d and returns the new time.
// Panics if d is negative.
func (c *VirtualClock) Advance(d time.Duration) time.Time {
	if d < 0 {
		panic("clock: cannot advance by negative duration")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fire()
	return c.current
}

// Set jumps the clock to t. Panics if t is before the current time.
func (c *VirtualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.Before(c.current) {
		panic("clock: cannot set time to the past")
	}
	c.current = t
	c.fire()
}

// Pending reports how many After channels have not fired yet.
func (c *VirtualClock) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.timers)
}

// fire releases every timer due at or before the current time.
// Timers are kept sorted by deadline. Caller holds c.mu.
func (c *VirtualClock) fire() {
	n := 0
	for n < len(c.timers) && !c.timers[n].deadline.After(c.current) {
		c.timers[n].ch <- c.current
		n++
	}
	c.timers = append(c.timers[:0], c.timers[n:]...)
}
