package metrics

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// QueueStats carries queue gauge values for the collector.
type QueueStats struct {
	Pending int
	Failed  int
}

// QueueStatsProvider reports current queue depths.
type QueueStatsProvider interface {
	QueueStats(ctx context.Context) (QueueStats, error)
}

// MemberCounter reports the number of stored members.
type MemberCounter interface {
	CountMembers(ctx context.Context) (int, error)
}

// Collector periodically refreshes gauge metrics that reflect external
// state: queue depths, member count, uptime and goroutines.
type Collector struct {
	metrics  *Metrics
	queue    QueueStatsProvider
	members  MemberCounter
	interval time.Duration
	logger   *slog.Logger
	started  time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a collector. queue and members may be nil; the
// corresponding gauges are then left untouched.
func NewCollector(m *Metrics, queue QueueStatsProvider, members MemberCounter, interval time.Duration, logger *slog.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		metrics:  m,
		queue:    queue,
		members:  members,
		interval: interval,
		logger:   logger,
		started:  time.Now(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background refresh loop.
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.loop()
}

// Stop terminates the refresh loop and waits for it to finish.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) loop() {
	defer c.wg.Done()

	c.refresh()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.refresh()
		}
	}
}

func (c *Collector) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.metrics.UptimeSeconds.Set(time.Since(c.started).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.queue != nil {
		stats, err := c.queue.QueueStats(ctx)
		if err != nil {
			c.logger.Warn("collect queue stats", "error", err)
		} else {
			c.metrics.QueueDepth.Set(float64(stats.Pending))
			c.metrics.QueueFailed.Set(float64(stats.Failed))
		}
	}

	if c.members != nil {
		n, err := c.members.CountMembers(ctx)
		if err != nil {
			c.logger.Warn("collect member count", "error", err)
		} else {
			c.metrics.MembersTotal.Set(float64(n))
		}
	}
}
