package recorder

import (
	"time"

	"github.com/SmitUplenchwar2687/Carelink/internal/limiter"
)

// CallRecord is one captured call attempt.
type CallRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Caller    string            `json:"caller"`   // API key or user ID
	Endpoint  string            `json:"endpoint"` // function name or route
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Key returns the quota bucket the record is counted against.
func (r CallRecord) Key() limiter.Key {
	return limiter.NewKey(r.Caller, r.Endpoint)
}

// DecisionEvent pairs a record with the decision it produced. Streamed to
// WebSocket clients and printed by replay.
type DecisionEvent struct {
	Record   CallRecord       `json:"record"`
	Decision limiter.Decision `json:"decision"`
	Time     time.Time        `json:"time"`
}
