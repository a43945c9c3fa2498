package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// Limiter counts attempts per subject in fixed one-hour windows. A nil
// client or a non-positive limit disables it.
type Limiter struct {
	redis  *redis.Client
	prefix string
	limit  int64
}

func New(rdb *redis.Client, prefix string, limit int64) *Limiter {
	if prefix == "" {
		prefix = "aichat:login"
	}
	return &Limiter{redis: rdb, prefix: prefix, limit: limit}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.redis != nil && l.limit > 0
}

// Allow records one attempt by subject under kind and reports whether it is
// within the window's budget.
func (l *Limiter) Allow(ctx context.Context, kind, subject string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	if !l.Enabled() {
		return true, 0, windowEnd, nil
	}
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("%s:%s:%s:%s", l.prefix, kind, subject, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, l.redis, []string{key}, ttl).Int64()
	if err != nil {
		return true, 0, windowEnd, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= l.limit, res, windowEnd, nil
}
