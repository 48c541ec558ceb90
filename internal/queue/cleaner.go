package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CleanerConfig contains cleanup settings.
type CleanerConfig struct {
	// Retention for failed messages.
	Retention time.Duration
	// Interval between cleanup runs.
	Interval time.Duration
}

// CleanupTask is one additional retention step, returning removed rows.
type CleanupTask func(ctx context.Context) (int64, error)

// Cleaner prunes expired bookkeeping in the background: failed messages
// past retention, dedup entries whose calendar day is over, and any
// registered extra tasks such as job log or session pruning.
type Cleaner struct {
	queue  Queue
	cfg    CleanerConfig
	logger *slog.Logger
	wg     sync.WaitGroup
	done   chan struct{}

	taskNames []string
	tasks     []CleanupTask
}

// NewCleaner creates a cleaner for the queue.
func NewCleaner(queue Queue, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention == 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &Cleaner{
		queue:  queue,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// AddTask registers an extra retention step run after the queue cleanup.
// Not safe to call after Start.
func (c *Cleaner) AddTask(name string, task CleanupTask) {
	c.taskNames = append(c.taskNames, name)
	c.tasks = append(c.tasks, task)
}

// Start launches the cleanup loop.
func (c *Cleaner) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info("cleaner started",
		slog.Duration("interval", c.cfg.Interval),
		slog.Duration("retention", c.cfg.Retention),
		slog.Int("tasks", len(c.tasks)+1))
}

// Stop terminates the cleanup loop.
func (c *Cleaner) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *Cleaner) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce executes one full cleanup pass. The CLI uses it for one-shot
// cleanup without starting the loop.
func (c *Cleaner) RunOnce(ctx context.Context) {
	removed, err := c.queue.Cleanup(ctx, c.cfg.Retention)
	if err != nil {
		c.logger.Error("queue cleanup failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		c.logger.Info("queue cleanup finished", slog.Int("removed", removed))
	}

	for i, task := range c.tasks {
		n, err := task(ctx)
		if err != nil {
			c.logger.Error("cleanup task failed",
				slog.String("task", c.taskNames[i]),
				slog.String("error", err.Error()))
			continue
		}
		if n > 0 {
			c.logger.Info("cleanup task finished",
				slog.String("task", c.taskNames[i]),
				slog.Int64("removed", n))
		}
	}
}
