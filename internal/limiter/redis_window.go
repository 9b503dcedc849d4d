package limiter

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
)

const redisKeyPrefix = "rl:"

// Timestamps are milliseconds from the caller's clock so virtual time works
// against a real Redis. Scores <= now-window are expired.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  return {1, limit - (count + 1), now + window}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local reset = now + window
if oldest ~= nil and #oldest >= 2 then
  reset = tonumber(oldest[2]) + window
end
return {0, 0, reset}
`)

// RedisWindow runs the sliding window log atomically inside Redis so several
// processes share one quota. It fails closed: a Redis error denies the request.
type RedisWindow struct {
	client redis.UniversalClient
	clock  clock.Clock
	logger *zap.Logger
	prefix string
	limit  int
	window time.Duration

	memberSeq atomic.Uint64
}

// RedisOption customises a RedisWindow.
type RedisOption func(*RedisWindow)

// WithRedisLogger sets the logger used for script failures.
func WithRedisLogger(l *zap.Logger) RedisOption {
	return func(rw *RedisWindow) {
		if l != nil {
			rw.logger = l
		}
	}
}

// WithKeyPrefix namespaces every Redis key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(rw *RedisWindow) { rw.prefix = prefix }
}

// NewRedisWindow wraps an existing client. The caller owns the client.
func NewRedisWindow(client redis.UniversalClient, cfg Config, c clock.Clock, opts ...RedisOption) (*RedisWindow, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Window < time.Millisecond {
		return nil, fmt.Errorf("window must be at least 1ms, got %s", cfg.Window)
	}

	rw := &RedisWindow{
		client: client,
		clock:  clock.OrReal(c),
		logger: zap.NewNop(),
		limit:  cfg.Limit,
		window: cfg.Window,
	}
	for _, opt := range opts {
		opt(rw)
	}
	return rw, nil
}

func (rw *RedisWindow) Allow(ctx context.Context, key Key) Decision {
	return rw.Check(ctx, key, rw.clock.Now())
}

// Check evaluates key at now. On any Redis failure the request is denied with
// a retry one window out.
func (rw *RedisWindow) Check(ctx context.Context, key Key, now time.Time) Decision {
	d, err := rw.check(ctx, key, now)
	if err != nil {
		rw.logger.Error("rate limit check failed, denying",
			zap.String("caller", key.Caller),
			zap.String("endpoint", key.Endpoint),
			zap.Error(err),
		)
		resetAt := now.Add(rw.window)
		return Decision{Allowed: false, Remaining: 0, Limit: rw.limit, ResetAt: resetAt, RetryAt: resetAt}
	}
	return d
}

func (rw *RedisWindow) check(ctx context.Context, key Key, now time.Time) (Decision, error) {
	nowMS := clock.Millis(now)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(rw.memberSeq.Add(1), 10)

	res, err := slidingWindowScript.Run(ctx, rw.client,
		[]string{rw.redisKey(key)},
		nowMS, rw.window.Milliseconds(), rw.limit, member,
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("running sliding window script: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected script result: %T", res)
	}

	allowed, err := asInt64(values[0])
	if err != nil {
		return Decision{}, fmt.Errorf("parsing allowed: %w", err)
	}
	remaining, err := asInt64(values[1])
	if err != nil {
		return Decision{}, fmt.Errorf("parsing remaining: %w", err)
	}
	resetMS, err := asInt64(values[2])
	if err != nil {
		return Decision{}, fmt.Errorf("parsing reset: %w", err)
	}

	d := Decision{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		Limit:     rw.limit,
		ResetAt:   clock.FromMillis(resetMS),
	}
	if !d.Allowed {
		d.RetryAt = d.ResetAt
	}
	return d, nil
}

// Reset deletes the stored log for key.
func (rw *RedisWindow) Reset(ctx context.Context, key Key) error {
	if err := rw.client.Del(ctx, rw.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (rw *RedisWindow) redisKey(key Key) string {
	return rw.prefix + redisKeyPrefix + key.String()
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
