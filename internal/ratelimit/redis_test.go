package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisAllow(t *testing.T) {
	ctx := context.Background()
	l := NewRedis(setupRedis(t), 2, time.Minute)

	base := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "mail")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("Allow() #%d denied, want allowed", i+1)
		}
	}

	res, err := l.Allow(ctx, "mail")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if res.Allowed {
		t.Fatal("Allow() over the cap, want denied")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want within (0, window]", res.RetryAfter)
	}
}

func TestRedisWindowRollover(t *testing.T) {
	ctx := context.Background()
	l := NewRedis(setupRedis(t), 1, time.Minute)

	base := time.Date(2025, 3, 15, 12, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return base }

	if res, _ := l.Allow(ctx, "mail"); !res.Allowed {
		t.Fatal("first Allow() denied")
	}
	if res, _ := l.Allow(ctx, "mail"); res.Allowed {
		t.Fatal("second Allow() in same window allowed")
	}

	base = base.Add(time.Minute)

	if res, _ := l.Allow(ctx, "mail"); !res.Allowed {
		t.Fatal("Allow() after window rollover denied")
	}
}

func TestRedisRemaining(t *testing.T) {
	ctx := context.Background()
	l := NewRedis(setupRedis(t), 4, time.Minute)

	base := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	if n, err := l.Remaining(ctx, "mail"); err != nil || n != 4 {
		t.Fatalf("Remaining before use = %d, %v; want 4", n, err)
	}

	l.Allow(ctx, "mail")
	l.Allow(ctx, "mail")
	l.Allow(ctx, "mail")

	if n, _ := l.Remaining(ctx, "mail"); n != 1 {
		t.Errorf("Remaining after three sends = %d, want 1", n)
	}

	// Denied attempts keep incrementing the counter; remaining must not
	// go negative.
	l.Allow(ctx, "mail")
	l.Allow(ctx, "mail")

	if n, _ := l.Remaining(ctx, "mail"); n != 0 {
		t.Errorf("Remaining after cap exceeded = %d, want 0", n)
	}
}
