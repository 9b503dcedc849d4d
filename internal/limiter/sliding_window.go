package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
)

// SlidingWindow keeps a timestamp log per key and counts the entries younger
// than the window. The window is exclusive: an entry exactly one window old
// no longer counts.
//
// Safe for concurrent use; every check-then-append runs under one lock.
type SlidingWindow struct {
	clock  clock.Clock
	limit  int
	window time.Duration

	mu   sync.Mutex
	logs map[Key][]time.Time
}

// NewSlidingWindow creates an in-memory sliding window limiter. Callers are
// expected to pass a validated Config; a non-positive limit denies every
// request.
func NewSlidingWindow(cfg Config, c clock.Clock) *SlidingWindow {
	return &SlidingWindow{
		clock:  clock.OrReal(c),
		limit:  cfg.Limit,
		window: cfg.Window,
		logs:   make(map[Key][]time.Time),
	}
}

func (sw *SlidingWindow) Allow(_ context.Context, key Key) Decision {
	return sw.Check(key, sw.clock.Now())
}

// Check evaluates key at now. Only the log for key is mutated, and only when
// the request is admitted or expired entries were pruned.
func (sw *SlidingWindow) Check(key Key, now time.Time) Decision {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	log := prune(sw.logs[key], now, sw.window)

	if len(log) >= sw.limit {
		sw.logs[key] = log
		resetAt := now.Add(sw.window)
		if len(log) > 0 {
			resetAt = earliest(log).Add(sw.window)
		}
		return Decision{
			Allowed:   false,
			Remaining: 0,
			Limit:     sw.limit,
			ResetAt:   resetAt,
			RetryAt:   resetAt,
		}
	}

	log = append(log, now)
	sw.logs[key] = log
	return Decision{
		Allowed:   true,
		Remaining: sw.limit - len(log),
		Limit:     sw.limit,
		ResetAt:   now.Add(sw.window),
	}
}

// Reset drops the log for key.
func (sw *SlidingWindow) Reset(key Key) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	delete(sw.logs, key)
}

// Count returns how many requests for key are inside the window at now,
// without recording anything.
func (sw *SlidingWindow) Count(key Key, now time.Time) int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	n := 0
	for _, ts := range sw.logs[key] {
		if now.Sub(ts) < sw.window {
			n++
		}
	}
	return n
}

// Sweep removes keys whose whole log has expired at now and returns how many
// were dropped.
func (sw *SlidingWindow) Sweep(now time.Time) int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	dropped := 0
	for key, log := range sw.logs {
		if len(prune(log, now, sw.window)) == 0 {
			delete(sw.logs, key)
			dropped++
		}
	}
	return dropped
}

// RunSweeper calls Sweep every interval, timed by the limiter's clock, until
// ctx is done. A non-positive interval uses the window.
func (sw *SlidingWindow) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = sw.window
	}
	if interval <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.clock.After(interval):
			sw.Sweep(sw.clock.Now())
		}
	}
}

// Len returns the number of tracked keys.
func (sw *SlidingWindow) Len() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.logs)
}

// prune keeps the entries with now-ts < window, preserving order.
func prune(log []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := log[:0]
	for _, ts := range log {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}
	return kept
}

func earliest(log []time.Time) time.Time {
	first := log[0]
	for _, ts := range log[1:] {
		if ts.Before(first) {
			first = ts
		}
	}
	return first
}
