package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a sliding-window limiter backed by a sorted set per key, so the
// window is shared across server instances.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedis creates a Redis-backed limiter allowing limit requests per window.
func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{client: client, limit: limit, window: window, prefix: "ratelimit:"}
}

func (r *Redis) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now()
	cutoff := now.Add(-r.window)
	rkey := r.prefix + key

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	countCmd := pipe.ZCard(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: window count: %w", err)
	}

	count := int(countCmd.Val())
	if count >= r.limit {
		oldest, err := r.client.ZRangeWithScores(ctx, rkey, 0, 0).Result()
		retryAfter := r.window
		if err == nil && len(oldest) > 0 {
			t := time.Unix(0, int64(oldest[0].Score))
			retryAfter = t.Add(r.window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}

	pipe = r.client.TxPipeline()
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixNano()), Member: fmt.Sprintf("%d", now.UnixNano())})
	pipe.Expire(ctx, rkey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: record request: %w", err)
	}
	return Result{Allowed: true, Remaining: r.limit - count - 1}, nil
}
