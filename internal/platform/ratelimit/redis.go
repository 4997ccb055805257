package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "grocery:rl:"

// Redis counts with INCR on a per-window key that expires with the window.
type Redis struct {
	window
	rdb redis.UniversalClient
}

// NewRedis returns nil when limit or length is not positive.
func NewRedis(rdb redis.UniversalClient, limit int, length time.Duration, clock func() time.Time) *Redis {
	if rdb == nil || limit <= 0 || length <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &Redis{window: window{limit: limit, length: length, clock: clock}, rdb: rdb}
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	start, remaining := r.bucket(r.clock())
	id := redisKeyPrefix + normaliseKey(key) + ":" + strconv.FormatInt(start, 36)

	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, id)
	pipe.Expire(ctx, id, r.length)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr %s: %w", id, err)
	}
	if incr.Val() > int64(r.limit) {
		return Decision{RetryAfter: remaining}, nil
	}
	return Decision{Allowed: true}, nil
}
