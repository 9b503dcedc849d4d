// Package limiter exposes the per-(caller, endpoint) sliding window limiter.
package limiter

import (
	"github.com/redis/go-redis/v9"

	internallimiter "github.com/SmitUplenchwar2687/Carelink/internal/limiter"
	"github.com/SmitUplenchwar2687/Carelink/pkg/clock"
)

const (
	DefaultLimit  = internallimiter.DefaultLimit
	DefaultWindow = internallimiter.DefaultWindow
)

// Limiter is implemented by every quota backend.
type Limiter = internallimiter.Limiter

// Key identifies one quota bucket.
type Key = internallimiter.Key

// Decision captures the result of a rate limit check.
type Decision = internallimiter.Decision

// Config holds the quota parameters.
type Config = internallimiter.Config

// SlidingWindow is the in-memory sliding window log.
type SlidingWindow = internallimiter.SlidingWindow

// RedisWindow runs the same algorithm in Redis for multi-process deployments.
type RedisWindow = internallimiter.RedisWindow

type RedisOption = internallimiter.RedisOption

func NewKey(caller, endpoint string) Key {
	return internallimiter.NewKey(caller, endpoint)
}

func DefaultConfig() Config {
	return internallimiter.DefaultConfig()
}

// NewSlidingWindow creates an in-memory limiter reading time from c.
func NewSlidingWindow(cfg Config, c clock.Clock) *SlidingWindow {
	return internallimiter.NewSlidingWindow(cfg, c)
}

// NewRedisWindow creates a Redis-backed limiter on an existing client.
func NewRedisWindow(client redis.UniversalClient, cfg Config, c clock.Clock, opts ...RedisOption) (*RedisWindow, error) {
	return internallimiter.NewRedisWindow(client, cfg, c, opts...)
}

var (
	WithKeyPrefix   = internallimiter.WithKeyPrefix
	WithRedisLogger = internallimiter.WithRedisLogger
)
