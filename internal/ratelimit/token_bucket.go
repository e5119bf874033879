package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "domainscan:rl:"

// TokenBucketLimiter keeps buckets in Redis so every gateway instance draws
// from the same budget.
type TokenBucketLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{rdb: rdb, now: time.Now}
}

// KEYS[1] bucket hash. ARGV: tokens per second, capacity, now ms, ttl ms.
// Returns {allowed, remaining tokens, wait ms}.
var bucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if ts > now then ts = now end

tokens = math.min(capacity, tokens + (now - ts) * rate / 1000)

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
elseif rate > 0 then
  wait = math.ceil((1 - tokens) * 1000 / rate)
else
  wait = 60000
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {allowed, math.floor(tokens), wait}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	args := []interface{}{
		bucket.perSecond(),
		bucket.BurstSize,
		l.now().UnixMilli(),
		bucket.idleTTL().Milliseconds(),
	}
	res, err := bucketScript.Run(ctx, l.rdb, []string{keyPrefix + subjectKey(scope, subject)}, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", scope, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply of %d values", scope, len(res))
	}
	if res[0] == 1 {
		return allow(float64(res[1])), nil
	}
	return deny(time.Duration(res[2]) * time.Millisecond), nil
}
