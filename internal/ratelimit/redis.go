package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua script for an atomic sliding-window admission.
// Returns 0 when admitted, otherwise the milliseconds until the oldest
// admission leaves the window.
const slidingWindowLuaScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)

local count = redis.call("ZCARD", key)
if count < limit then
    redis.call("ZADD", key, now, member)
    redis.call("PEXPIRE", key, window)
    return 0
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
    wait = 1
end
return wait
`

// RedisWindow is a sliding-window limiter whose state lives in a Redis
// sorted set, so every replica sending through the same account shares one
// ceiling.
type RedisWindow struct {
	client *redis.Client
	key    string
	limit  int
	window time.Duration
	clock  Clock
	script *redis.Script
}

// NewRedisWindow creates a shared limiter stored under key.
func NewRedisWindow(client *redis.Client, key string, limit int, window time.Duration, clock Clock) *RedisWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &RedisWindow{
		client: client,
		key:    fmt.Sprintf("ratelimit:%s", key),
		limit:  limit,
		window: window,
		clock:  clock,
		script: redis.NewScript(slidingWindowLuaScript),
	}
}

// Wait reserves a slot in the shared window.
func (r *RedisWindow) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := r.clock.Now().UnixMilli()
		wait, err := r.script.Run(ctx, r.client, []string{r.key},
			now, r.window.Milliseconds(), r.limit, member(now)).Int64()
		if err != nil {
			return fmt.Errorf("rate limit check: %w", err)
		}
		if wait == 0 {
			return nil
		}
		if err := r.clock.Sleep(ctx, time.Duration(wait)*time.Millisecond+Margin); err != nil {
			return err
		}
	}
}

// Reset clears the shared window.
func (r *RedisWindow) Reset(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func member(now int64) string {
	b := make([]byte, 6)
	rand.Read(b)
	return fmt.Sprintf("%d-%s", now, hex.EncodeToString(b))
}
