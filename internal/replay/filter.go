package replay

import (
	"slices"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/Carelink/internal/recorder"
)

// Filter selects records during replay. Zero fields match everything.
type Filter struct {
	Callers   []string  // exact caller match
	Endpoints []string  // exact or substring match
	After     time.Time // exclusive
	Before    time.Time // exclusive
}

func (f *Filter) Match(r recorder.CallRecord) bool {
	if len(f.Callers) > 0 && !slices.Contains(f.Callers, r.Caller) {
		return false
	}
	if len(f.Endpoints) > 0 && !matchEndpoint(f.Endpoints, r.Endpoint) {
		return false
	}
	if !f.After.IsZero() && !r.Timestamp.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !r.Timestamp.Before(f.Before) {
		return false
	}
	return true
}

func matchEndpoint(patterns []string, endpoint string) bool {
	for _, p := range patterns {
		if p == endpoint || strings.Contains(endpoint, p) {
			return true
		}
	}
	return false
}
