// Package ratelimit caps how many messages a user may send per window.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript counts a hit and starts the window on the first one. A counter
// left without a TTL is given one so it cannot block a key forever.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Limiter is a fixed window counter kept in Redis. Hits inside a window,
// allowed or not, never extend it.
type Limiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

// New returns a limiter. A non-positive limit disables limiting.
func New(rdb *redis.Client, limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &Limiter{rdb: rdb, limit: int64(limit), window: window}
}

// Allow counts one hit for key and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.rdb == nil || l.limit <= 0 {
		return true, nil
	}
	n, err := hitScript.Run(ctx, l.rdb, []string{"rl:" + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n <= l.limit, nil
}
