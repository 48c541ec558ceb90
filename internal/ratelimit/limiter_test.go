package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryAllow(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(3, time.Minute)

	base := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "mail")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("Allow() #%d denied, want allowed", i+1)
		}
		if res.Remaining != 2-i {
			t.Errorf("Remaining = %d, want %d", res.Remaining, 2-i)
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

func TestMemoryWindowRollover(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(1, time.Minute)

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

func TestMemoryRemaining(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(5, time.Minute)

	base := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	if n, _ := l.Remaining(ctx, "mail"); n != 5 {
		t.Errorf("Remaining before use = %d, want 5", n)
	}

	l.Allow(ctx, "mail")
	l.Allow(ctx, "mail")

	if n, _ := l.Remaining(ctx, "mail"); n != 3 {
		t.Errorf("Remaining after two sends = %d, want 3", n)
	}

	base = base.Add(2 * time.Minute)

	if n, _ := l.Remaining(ctx, "mail"); n != 5 {
		t.Errorf("Remaining after rollover = %d, want 5", n)
	}
}

func TestMemoryKeysIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(1, time.Minute)

	if res, _ := l.Allow(ctx, "a"); !res.Allowed {
		t.Fatal("Allow(a) denied")
	}
	if res, _ := l.Allow(ctx, "b"); !res.Allowed {
		t.Fatal("Allow(b) denied, keys must not share a counter")
	}
	if res, _ := l.Allow(ctx, "a"); res.Allowed {
		t.Fatal("Allow(a) over its cap allowed")
	}
}
