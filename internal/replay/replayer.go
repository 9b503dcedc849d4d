// Package replay feeds recorded calls through a limiter on a virtual clock so
// a quota can be evaluated against real traffic without waiting.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
	"github.com/SmitUplenchwar2687/Carelink/internal/limiter"
	"github.com/SmitUplenchwar2687/Carelink/internal/recorder"
)

// ErrNoRecords is returned by Run when nothing was loaded.
var ErrNoRecords = errors.New("no records loaded")

// Replayer replays records through a limiter at a configurable speed.
type Replayer struct {
	records []recorder.CallRecord
	limiter limiter.Limiter
	clock   *clock.VirtualClock
	filter  Filter
	speed   float64 // 1.0 = real time, 10.0 = 10x, 0 = instant
}

// Result is the outcome of replaying one record.
type Result struct {
	Record   recorder.CallRecord `json:"record"`
	Decision limiter.Decision    `json:"decision"`
	Time     time.Time           `json:"time"` // virtual time of the decision
}

// Summary aggregates a replay.
type Summary struct {
	TotalRecords int                   `json:"total_records"`
	Filtered     int                   `json:"filtered"`
	Replayed     int                   `json:"replayed"`
	Allowed      int                   `json:"allowed"`
	Denied       int                   `json:"denied"`
	Duration     time.Duration         `json:"duration"`      // virtual span
	WallDuration time.Duration         `json:"wall_duration"` // real time spent
	PerKey       map[string]KeySummary `json:"per_key"`
}

// KeySummary holds per caller|endpoint counts.
type KeySummary struct {
	Allowed int `json:"allowed"`
	Denied  int `json:"denied"`
}

// New creates a replayer. lim must read time from vc.
func New(lim limiter.Limiter, vc *clock.VirtualClock, speed float64, filter *Filter) *Replayer {
	if speed < 0 {
		speed = 0
	}
	r := &Replayer{limiter: lim, clock: vc, speed: speed}
	if filter != nil {
		r.filter = *filter
	}
	return r
}

// Load reads records from a JSON array or JSON-lines reader.
func (r *Replayer) Load(rd io.Reader) error {
	records, err := recorder.LoadJSON(rd)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	r.records = records
	return nil
}

func (r *Replayer) LoadRecords(records []recorder.CallRecord) {
	r.records = append([]recorder.CallRecord(nil), records...)
}

// Run replays the loaded records in timestamp order, advancing the virtual
// clock by the gap between consecutive records. cb, if set, sees every result.
func (r *Replayer) Run(ctx context.Context, cb func(Result)) (*Summary, error) {
	if len(r.records) == 0 {
		return nil, ErrNoRecords
	}

	sorted := append([]recorder.CallRecord(nil), r.records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var filtered []recorder.CallRecord
	for _, rec := range sorted {
		if r.filter.Match(rec) {
			filtered = append(filtered, rec)
		}
	}

	summary := &Summary{
		TotalRecords: len(sorted),
		Filtered:     len(filtered),
		PerKey:       make(map[string]KeySummary),
	}
	if len(filtered) == 0 {
		return summary, nil
	}

	if first := filtered[0].Timestamp; r.clock.Now().Before(first) {
		r.clock.Set(first)
	}

	wallStart := time.Now()
	for i, rec := range filtered {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if i > 0 {
			if gap := rec.Timestamp.Sub(filtered[i-1].Timestamp); gap > 0 {
				if err := r.sleep(ctx, gap); err != nil {
					return summary, err
				}
				r.clock.Advance(gap)
			}
		}

		decision := r.limiter.Allow(ctx, rec.Key())

		summary.Replayed++
		ks := summary.PerKey[rec.Key().String()]
		if decision.Allowed {
			summary.Allowed++
			ks.Allowed++
		} else {
			summary.Denied++
			ks.Denied++
		}
		summary.PerKey[rec.Key().String()] = ks

		if cb != nil {
			cb(Result{Record: rec, Decision: decision, Time: r.clock.Now()})
		}
	}

	summary.Duration = filtered[len(filtered)-1].Timestamp.Sub(filtered[0].Timestamp)
	summary.WallDuration = time.Since(wallStart)
	return summary, nil
}

// sleep waits gap/speed of wall time; instant replays skip it.
func (r *Replayer) sleep(ctx context.Context, gap time.Duration) error {
	if r.speed == 0 {
		return nil
	}
	scaled := time.Duration(float64(gap) / r.speed)
	if scaled <= time.Millisecond {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(scaled):
		return nil
	}
}

// Bucket counts decisions inside [Start, Start+width).
type Bucket struct {
	Start   time.Time `json:"start"`
	Allowed int       `json:"allowed"`
	Denied  int       `json:"denied"`
}

// Histogram groups results into consecutive buckets of width, including
// empty buckets between the first and last result.
func Histogram(results []Result, width time.Duration) []Bucket {
	if len(results) == 0 || width <= 0 {
		return nil
	}
	start := results[0].Time
	for _, res := range results[1:] {
		if res.Time.Before(start) {
			start = res.Time
		}
	}

	var buckets []Bucket
	for _, res := range results {
		idx := int(res.Time.Sub(start) / width)
		for len(buckets) <= idx {
			buckets = append(buckets, Bucket{Start: start.Add(time.Duration(len(buckets)) * width)})
		}
		if res.Decision.Allowed {
			buckets[idx].Allowed++
		} else {
			buckets[idx].Denied++
		}
	}
	return buckets
}
