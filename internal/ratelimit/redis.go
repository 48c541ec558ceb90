package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter backed by Redis INCR/EXPIRE, letting
// several processes share one send cap.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string

	now func() time.Time
}

// NewRedis creates a Redis-backed limiter allowing limit sends per window.
func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{
		client: client,
		limit:  limit,
		window: window,
		prefix: "mailer:ratelimit",
		now:    time.Now,
	}
}

func (r *Redis) key(key string, bucket int64) string {
	return fmt.Sprintf("%s:%s:%d", r.prefix, key, bucket)
}

func (r *Redis) Allow(ctx context.Context, key string) (*Result, error) {
	now := r.now()
	bucket := now.UnixNano() / int64(r.window)
	k := r.key(key, bucket)

	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit incr: %w", err)
	}
	if n == 1 {
		// First hit in this window owns the expiry. One extra second so
		// the key outlives its own window boundary.
		if err := r.client.Expire(ctx, k, r.window+time.Second).Err(); err != nil {
			return nil, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	if int(n) > r.limit {
		windowEnd := time.Unix(0, (bucket+1)*int64(r.window))
		return &Result{RetryAfter: windowEnd.Sub(now)}, nil
	}

	return &Result{Allowed: true, Remaining: r.limit - int(n)}, nil
}

func (r *Redis) Remaining(ctx context.Context, key string) (int, error) {
	bucket := r.now().UnixNano() / int64(r.window)

	n, err := r.client.Get(ctx, r.key(key, bucket)).Int()
	if err == redis.Nil {
		return r.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit get: %w", err)
	}

	if n >= r.limit {
		return 0, nil
	}
	return r.limit - n, nil
}
