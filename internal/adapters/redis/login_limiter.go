// Package redis provides Redis-backed adapters for streamauth.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/streamauth/internal/ports"
)

// tokenBucketScript refills a per-key bucket and takes one token atomically.
// Returns {allowed, remaining, retry_after_ms}.
const tokenBucketScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
  tokens = capacity
  last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
  local intervals = math.floor(math.max(0, now_ms - last_refill) / interval_ms)
  if intervals > 0 then
    tokens = math.min(capacity, tokens + intervals * refill_tokens)
    last_refill = last_refill + intervals * interval_ms
  end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return {allowed, tokens, retry_after_ms}
`

// LoginLimiterOptions configures a LoginLimiter.
type LoginLimiterOptions struct {
	Client         redis.UniversalClient
	Prefix         string
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Now            func() time.Time // optional, defaults to time.Now
}

// LoginLimiter is a token bucket per key stored in Redis.
type LoginLimiter struct {
	client redis.UniversalClient
	script *redis.Script
	opts   LoginLimiterOptions
}

var _ ports.LoginLimiter = (*LoginLimiter)(nil)

// NewLoginLimiter creates a LoginLimiter.
func NewLoginLimiter(opts LoginLimiterOptions) (*LoginLimiter, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Capacity <= 0 {
		return nil, errors.New("capacity must be positive")
	}
	if opts.Prefix == "" {
		opts.Prefix = "login_limit:"
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LoginLimiter{
		client: opts.Client,
		script: redis.NewScript(tokenBucketScript),
		opts:   opts,
	}, nil
}

// Allow takes one token from key's bucket.
func (l *LoginLimiter) Allow(ctx context.Context, key string) (ports.LimitDecision, error) {
	ttlSeconds := int64(l.opts.TTL / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	vals, err := l.script.Run(ctx, l.client, []string{l.opts.Prefix + key},
		l.opts.Now().UnixMilli(),
		l.opts.Capacity,
		l.opts.RefillTokens,
		l.opts.RefillInterval.Milliseconds(),
		ttlSeconds,
	).Int64Slice()
	if err != nil {
		return ports.LimitDecision{}, fmt.Errorf("run token bucket script: %w", err)
	}
	if len(vals) != 3 {
		return ports.LimitDecision{}, fmt.Errorf("unexpected token bucket result: %v", vals)
	}
	return ports.LimitDecision{
		Allowed:    vals[0] == 1,
		Remaining:  vals[1],
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// Reset clears key's bucket.
func (l *LoginLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.opts.Prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
