// Package status keeps a local view of the dispatcher status fresh
// between polls of the status endpoint.
package status

import "sync"

// Countdown tracks the seconds remaining until the next queue pass.
// Between syncs it counts down once per tick; when it reaches zero it
// wraps around to the pass interval, because the server starts the next
// pass at that point. A sync replaces the local estimate with the
// authoritative server values.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	interval  int
	window    int
}

// NewCountdown creates a countdown that wraps to interval seconds.
func NewCountdown(interval int) *Countdown {
	if interval < 0 {
		interval = 0
	}
	return &Countdown{remaining: interval, interval: interval}
}

// Sync snaps the countdown to the server-reported values: seconds until
// the next pass, the pass interval and the rate limit window. Negative
// values are clamped to zero. The next Tick decrements from the synced
// value.
func (c *Countdown) Sync(remaining, interval, window int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	if interval < 0 {
		interval = 0
	}
	if window < 0 {
		window = 0
	}
	c.remaining = remaining
	c.interval = interval
	c.window = window
}

// Tick advances the countdown by one second and returns the new value.
// At zero it wraps to the interval instead of going negative.
func (c *Countdown) Tick() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining > 0 {
		c.remaining--
	} else {
		c.remaining = c.interval
	}
	return c.remaining
}

// Remaining returns the current countdown value without advancing it.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Interval returns the pass interval from the last sync.
func (c *Countdown) Interval() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Window returns the rate limit window from the last sync.
func (c *Countdown) Window() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}
