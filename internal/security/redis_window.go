package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow is a distributed sliding-window counter for multi-instance
// deployments, where local maps cannot give atomic per-key semantics. The
// Lua script makes trim-count-add a single atomic step on the Redis side.
type RedisWindow struct {
	client *redis.Client
}

// NewRedisWindow creates a window counter over the given Redis instance
func NewRedisWindow(addr, password string, db int) *RedisWindow {
	return &RedisWindow{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count + 1 > limit then
  return {0, count}
else
  redis.call('ZADD', key, now, now)
  redis.call('EXPIRE', key, math.ceil(window/1000000000))
  return {1, count + 1}
end
`)

// Take records one request in the window and reports whether it fit under
// the limit
func (w *RedisWindow) Take(ctx context.Context, key string, window time.Duration, limit int) (allowed bool, count int64, err error) {
	now := time.Now().UnixNano()
	res, err := slidingWindowScript.Run(ctx, w.client, []string{key}, now, window.Nanoseconds(), limit).Result()
	if err != nil {
		return false, 0, fmt.Errorf("sliding window script failed: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return false, 0, fmt.Errorf("unexpected redis script result: %v", res)
	}
	allowedInt, _ := vals[0].(int64)
	countInt, _ := vals[1].(int64)
	return allowedInt == 1, countInt, nil
}

// Close releases the underlying client
func (w *RedisWindow) Close() error {
	return w.client.Close()
}
