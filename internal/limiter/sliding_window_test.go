package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
)

var (
	epoch = time.Date(2025, 8, 25, 9, 0, 0, 0, time.UTC)
	ctx   = context.Background()
)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func TestSlidingWindow_LimitThenReject(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	sw := NewSlidingWindow(Config{Limit: 3, Window: time.Minute}, vc)
	key := NewKey("user-1", "processHealthData")

	for i := 1; i <= 3; i++ {
		d := sw.Allow(ctx, key)
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if d.Remaining != 3-i {
			t.Errorf("request %d: remaining = %d, want %d", i, d.Remaining, 3-i)
		}
		if d.Limit != 3 {
			t.Errorf("Limit = %d, want 3", d.Limit)
		}
		vc.Advance(time.Second)
	}

	d := sw.Allow(ctx, key)
	if d.Allowed {
		t.Fatal("4th request should be denied")
	}
	if d.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", d.Remaining)
	}
	if want := epoch.Add(time.Minute); !d.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", d.ResetAt, want)
	}
	if !d.RetryAt.Equal(d.ResetAt) {
		t.Errorf("RetryAt = %v, want %v", d.RetryAt, d.ResetAt)
	}
}

func TestSlidingWindow_RecoversAfterWindow(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	sw := NewSlidingWindow(Config{Limit: 2, Window: time.Minute}, vc)
	key := NewKey("user-1", "generateHealthReport")

	sw.Allow(ctx, key)
	sw.Allow(ctx, key)
	if sw.Allow(ctx, key).Allowed {
		t.Fatal("3rd request should be denied")
	}

	vc.Advance(time.Minute)

	d := sw.Allow(ctx, key)
	if !d.Allowed {
		t.Fatal("request should be allowed once the log aged out")
	}
	if d.Remaining != 1 {
		t.Errorf("remaining = %d, want limit-1 = 1", d.Remaining)
	}
}

func TestSlidingWindow_Timeline(t *testing.T) {
	sw := NewSlidingWindow(Config{Limit: 2, Window: time.Second}, nil)
	key := NewKey("u", "e")

	steps := []struct {
		ms        int
		allowed   bool
		remaining int
		resetAt   time.Time
	}{
		{0, true, 1, at(1000)},
		{500, true, 0, at(1500)},
		{900, false, 0, at(1000)},
		// The entry at 500 is still inside the window, so only one slot frees.
		{1001, true, 0, at(2001)},
		{1200, false, 0, at(1500)},
	}

	for _, st := range steps {
		d := sw.Check(key, at(st.ms))
		if d.Allowed != st.allowed {
			t.Fatalf("t=%d: allowed = %v, want %v", st.ms, d.Allowed, st.allowed)
		}
		if d.Remaining != st.remaining {
			t.Errorf("t=%d: remaining = %d, want %d", st.ms, d.Remaining, st.remaining)
		}
		if !d.ResetAt.Equal(st.resetAt) {
			t.Errorf("t=%d: ResetAt = %v, want %v", st.ms, d.ResetAt, st.resetAt)
		}
	}
}

func TestSlidingWindow_ExclusiveBoundary(t *testing.T) {
	sw := NewSlidingWindow(Config{Limit: 1, Window: time.Second}, nil)
	key := NewKey("u", "e")

	sw.Check(key, at(0))
	if sw.Check(key, at(999)).Allowed {
		t.Fatal("entry one millisecond short of the window must still count")
	}
	if !sw.Check(key, at(1000)).Allowed {
		t.Fatal("entry exactly one window old must have expired")
	}
}

func TestSlidingWindow_DeniedDoesNotRecord(t *testing.T) {
	sw := NewSlidingWindow(Config{Limit: 1, Window: time.Second}, nil)
	key := NewKey("u", "e")

	sw.Check(key, at(0))
	for ms := 100; ms < 1000; ms += 100 {
		sw.Check(key, at(ms))
	}
	if got := sw.Count(key, at(999)); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
	if !sw.Check(key, at(1000)).Allowed {
		t.Fatal("denied requests must not extend the window")
	}
}

func TestSlidingWindow_SeparateKeys(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	sw := NewSlidingWindow(Config{Limit: 1, Window: time.Minute}, vc)

	a := NewKey("alice", "syncPatientData")
	b := NewKey("bob", "syncPatientData")
	c := NewKey("alice", "assessHealthRisk")

	for _, k := range []Key{a, b, c} {
		if !sw.Allow(ctx, k).Allowed {
			t.Fatalf("first request for %s should be allowed", k)
		}
	}
	if sw.Allow(ctx, a).Allowed {
		t.Error("second request for alice/syncPatientData should be denied")
	}
	if sw.Len() != 3 {
		t.Errorf("Len = %d, want 3", sw.Len())
	}
}

func TestSlidingWindow_SweepAndReset(t *testing.T) {
	sw := NewSlidingWindow(Config{Limit: 5, Window: time.Second}, nil)
	old := NewKey("old", "e")
	fresh := NewKey("fresh", "e")

	sw.Check(old, at(0))
	sw.Check(fresh, at(800))

	if dropped := sw.Sweep(at(1500)); dropped != 1 {
		t.Fatalf("Sweep dropped %d keys, want 1", dropped)
	}
	if sw.Len() != 1 {
		t.Fatalf("Len = %d, want 1", sw.Len())
	}

	sw.Reset(fresh)
	if sw.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", sw.Len())
	}
	if got := sw.Count(fresh, at(900)); got != 0 {
		t.Errorf("Count after Reset = %d, want 0", got)
	}
}

func TestSlidingWindow_ConcurrentAllowNeverOveradmits(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	sw := NewSlidingWindow(Config{Limit: 50, Window: time.Minute}, vc)
	key := NewKey("burst", "e")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sw.Allow(ctx, key).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestDecision_RetryAfter(t *testing.T) {
	d := Decision{Allowed: false, RetryAt: at(1000)}
	if got := d.RetryAfter(at(400)); got != 600*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 600ms", got)
	}
	if got := d.RetryAfter(at(1200)); got != 0 {
		t.Errorf("RetryAfter past deadline = %v, want 0", got)
	}
	if got := (Decision{Allowed: true}).RetryAfter(at(0)); got != 0 {
		t.Errorf("RetryAfter allowed = %v, want 0", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	if err := (Config{Limit: 0, Window: time.Second}).Validate(); err == nil {
		t.Error("zero limit should be invalid")
	}
	if err := (Config{Limit: 1}).Validate(); err == nil {
		t.Error("zero window should be invalid")
	}
}

func TestNewKey_Trims(t *testing.T) {
	k := NewKey("  alice ", " assessHealthRisk\n")
	if k.String() != "alice|assessHealthRisk" {
		t.Errorf("String() = %q", k.String())
	}
}

var _ Limiter = (*SlidingWindow)(nil)

func TestSlidingWindow_RunSweeperDropsExpiredKeys(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	sw := NewSlidingWindow(Config{Limit: 5, Window: time.Minute}, vc)
	sw.Allow(ctx, NewKey("10.0.0.1", "/api/v1/status"))

	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		sw.RunSweeper(sweepCtx, 0)
		close(done)
	}()

	waitFor(t, func() bool { return vc.Pending() == 1 })
	if sw.Len() != 1 {
		t.Fatalf("Len before sweep = %d, want 1", sw.Len())
	}

	vc.Advance(time.Minute)
	waitFor(t, func() bool { return sw.Len() == 0 })

	cancel()
	<-done
}

func TestSlidingWindow_NonPositiveLimitDenies(t *testing.T) {
	sw := NewSlidingWindow(Config{Limit: 0, Window: time.Second}, nil)
	d := sw.Check(NewKey("alice", "e"), at(0))
	if d.Allowed {
		t.Fatal("limit 0 should deny")
	}
	if !d.ResetAt.Equal(at(1000)) {
		t.Errorf("ResetAt = %v, want %v", d.ResetAt, at(1000))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
