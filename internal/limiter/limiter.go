// Package limiter implements the per-(caller, endpoint) sliding window log
// that gates API and cloud-function calls.
package limiter

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultLimit  = 100
	DefaultWindow = time.Minute
)

// Key identifies one quota bucket.
type Key struct {
	Caller   string `json:"caller"`
	Endpoint string `json:"endpoint"`
}

// NewKey builds a Key, trimming surrounding whitespace.
func NewKey(caller, endpoint string) Key {
	return Key{Caller: strings.TrimSpace(caller), Endpoint: strings.TrimSpace(endpoint)}
}

// String renders the key as "caller|endpoint". Used as the Redis member key.
func (k Key) String() string {
	return k.Caller + "|" + k.Endpoint
}

// Limiter is implemented by every quota backend.
type Limiter interface {
	// Allow checks key against the quota at the limiter's current time.
	Allow(ctx context.Context, key Key) Decision
}

// Decision captures the result of a rate limit check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
	RetryAt   time.Time `json:"retry_at,omitempty"` // set only when denied
}

// RetryAfter returns how long the caller should wait relative to now.
// Zero when the decision was allowed.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || d.RetryAt.IsZero() {
		return 0
	}
	if wait := d.RetryAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Config holds the fixed quota parameters.
type Config struct {
	Limit  int           `json:"limit" mapstructure:"limit"`
	Window time.Duration `json:"window" mapstructure:"window"`
}

// DefaultConfig mirrors the public API quota: 100 requests per minute.
func DefaultConfig() Config {
	return Config{Limit: DefaultLimit, Window: DefaultWindow}
}

// Validate checks that the quota parameters are usable.
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	return nil
}
