package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RemoteBucket is a token bucket shared between processes.
type RemoteBucket interface {
	Take(ctx context.Context, sourceID string, p Policy) (bool, error)
}

// redisTokenBucketScript refills and consumes one token atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = now (unix seconds, microsecond precision)
// ARGV[4] = key ttl in seconds
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return allowed
`)

// RedisBucket implements RemoteBucket on Redis.
type RedisBucket struct {
	client redis.Scripter
	prefix string
}

// NewRedisBucket connects to Redis at addr.
func NewRedisBucket(addr, password string, db int) *RedisBucket {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisBucket{client: rdb, prefix: "discovery:ratelimit:"}
}

// Take consumes one token for sourceID if available.
func (r *RedisBucket) Take(ctx context.Context, sourceID string, p Policy) (bool, error) {
	perSecond := float64(p.MaxRequests) / p.Window.Seconds()
	now := float64(time.Now().UnixMicro()) / 1e6
	ttl := int64(2*p.Window/time.Second) + 1

	res, err := redisTokenBucketScript.Run(ctx, r.client, []string{r.prefix + sourceID},
		perSecond, p.MaxRequests, now, ttl).Int64()
	if err != nil {
		return false, fmt.Errorf("redis token bucket: %w", err)
	}
	return res == 1, nil
}

// Close releases the Redis connection.
func (r *RedisBucket) Close() error {
	if c, ok := r.client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}
