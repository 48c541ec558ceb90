// Package ratelimit admits outbound sends under a fixed-window cap: at
// most N sends per window, counted against the window bucket the current
// time falls into. Two implementations share the interface, an in-memory
// counter for the embedded queue and a Redis counter for deployments that
// share the cap across processes.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result describes the outcome of an Allow call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits sends under a fixed-window cap.
type Limiter interface {
	// Allow consumes one slot for key when the window cap permits it.
	Allow(ctx context.Context, key string) (*Result, error)
	// Remaining reports the free slots for key in the current window
	// without consuming one.
	Remaining(ctx context.Context, key string) (int, error)
}

// Memory is a process-local fixed-window limiter.
type Memory struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	counts map[string]*windowCount

	now func() time.Time
}

type windowCount struct {
	bucket int64
	count  int
}

// NewMemory creates an in-memory limiter allowing limit sends per window.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:  limit,
		window: window,
		counts: make(map[string]*windowCount),
		now:    time.Now,
	}
}

func (m *Memory) Allow(ctx context.Context, key string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	bucket := now.UnixNano() / int64(m.window)

	c := m.counts[key]
	if c == nil || c.bucket != bucket {
		c = &windowCount{bucket: bucket}
		m.counts[key] = c
	}

	if c.count >= m.limit {
		windowEnd := time.Unix(0, (bucket+1)*int64(m.window))
		return &Result{RetryAfter: windowEnd.Sub(now)}, nil
	}

	c.count++
	return &Result{Allowed: true, Remaining: m.limit - c.count}, nil
}

func (m *Memory) Remaining(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.now().UnixNano() / int64(m.window)
	c := m.counts[key]
	if c == nil || c.bucket != bucket {
		return m.limit, nil
	}
	if c.count >= m.limit {
		return 0, nil
	}
	return m.limit - c.count, nil
}
