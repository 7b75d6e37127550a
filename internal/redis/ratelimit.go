package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a caller identified by key may perform one more
// booking mutation in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type fixedWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewFixedWindowLimiter allows limit calls per key per window. A limit <= 0
// disables limiting.
func NewFixedWindowLimiter(client *redis.Client, limit int, window time.Duration) Limiter {
	return &fixedWindowLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// The first hit in a window sets the expiry so the counter always resets.
var incrWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

func (l *fixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	bucket := time.Now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("ratelimit:booking:%s:%d", key, bucket)

	n, err := incrWindowScript.Run(ctx, l.client, []string{redisKey}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}

	return n <= int64(l.limit), nil
}
