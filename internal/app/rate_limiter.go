package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateLimitPrefix = "subtrack:rate_limit"

// writeQuotaScript admits a write only while the owner's counter for the
// current window is below the limit. Rejected writes leave the counter alone.
// It replies {allowed, remaining, ttl_ms}.
var writeQuotaScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local used = tonumber(redis.call("GET", KEYS[1]) or "0")

if used >= limit then
  local ttl = redis.call("PTTL", KEYS[1])
  if ttl < 0 then
    redis.call("PEXPIRE", KEYS[1], window)
    ttl = window
  end
  return {0, 0, ttl}
end

used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], window)
end
return {1, limit - used, redis.call("PTTL", KEYS[1])}
`)

// RateLimitDecision is the outcome of asking for one write.
type RateLimitDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RedisRateLimiter keeps per-owner write quotas in Redis so that every API
// replica enforces the same budget.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter creates a limiter storing its counters under prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

// Allow spends one write of ownerID's quota for action, a name such as
// "create" or "update". Each action has its own budget of limit writes per
// window. A limiter without a client, limit or window allows everything.
func (r *RedisRateLimiter) Allow(ctx context.Context, ownerID, action string, limit int, window time.Duration) (RateLimitDecision, error) {
	ownerID = strings.TrimSpace(ownerID)
	action = strings.TrimSpace(action)
	if r == nil || r.client == nil || limit <= 0 || window <= 0 || ownerID == "" || action == "" {
		return RateLimitDecision{Allowed: true}, nil
	}
	if window < time.Second {
		window = time.Second
	}

	key := r.prefix + ":" + ownerID + ":" + action
	reply, err := writeQuotaScript.Run(ctx, r.client, []string{key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return RateLimitDecision{}, fmt.Errorf("write quota for %s: %w", key, err)
	}
	if len(reply) != 3 {
		return RateLimitDecision{}, fmt.Errorf("write quota for %s: expected 3 values, got %d", key, len(reply))
	}

	ttl := time.Duration(reply[2]) * time.Millisecond
	if ttl <= 0 {
		ttl = window
	}
	return RateLimitDecision{
		Allowed:    reply[0] == 1,
		Remaining:  int(reply[1]),
		RetryAfter: ttl,
	}, nil
}
