package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxzi/gratulo/internal/metrics"
	"github.com/foxzi/gratulo/internal/ratelimit"
)

// State of the dispatch loop.
type State string

const (
	StateIdle     State = "IDLE"
	StateDraining State = "DRAINING"
)

// limiterKey is the single send budget all outbound mail draws from.
const limiterKey = "mail"

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// DrainerConfig configures the dispatch loop.
type DrainerConfig struct {
	Interval    time.Duration // pause between drain passes
	SendTimeout time.Duration // per-message delivery budget
	Mails       int           // sends allowed per window
	Window      time.Duration // rate limit window
}

// Drainer empties the queue on a fixed interval, dispatching at most the
// windowed send cap per pass. A message that fails to send is requeued to
// the tail exactly once; a second failure is permanent. Passes never
// overlap: a tick that fires while a pass is running is skipped.
type Drainer struct {
	queue   Queue
	sender  Sender
	limiter ratelimit.Limiter
	cfg     DrainerConfig
	logger  *slog.Logger

	draining atomic.Bool
	passMu   sync.Mutex
	stopCh   chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewDrainer creates a drainer over the given queue, sender and limiter.
func NewDrainer(q Queue, sender Sender, limiter ratelimit.Limiter, cfg DrainerConfig, logger *slog.Logger) *Drainer {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Drainer{
		queue:   q,
		sender:  sender,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Start launches the drain loop.
func (d *Drainer) Start(ctx context.Context) {
	// Record the first scheduled pass so the status surface counts down
	// from the start.
	if err := d.queue.SetNextRun(ctx, d.now().Add(d.cfg.Interval)); err != nil {
		d.logger.Warn("failed to record next run", slog.String("error", err.Error()))
	}

	d.wg.Add(1)
	go d.loop(ctx)

	d.logger.Info("queue drainer started",
		slog.Duration("interval", d.cfg.Interval),
		slog.Int("rate_limit_mails", d.cfg.Mails),
		slog.Duration("rate_limit_window", d.cfg.Window))
}

// Stop terminates the loop and waits for a running pass to finish.
func (d *Drainer) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Drainer) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// State reports whether a pass is currently running.
func (d *Drainer) State() State {
	if d.draining.Load() {
		return StateDraining
	}
	return StateIdle
}

// Drain runs one dispatch pass. Concurrent calls coalesce: when a pass is
// already running the call returns immediately.
func (d *Drainer) Drain(ctx context.Context) {
	if !d.passMu.TryLock() {
		d.logger.Debug("drain pass already running, skipping")
		return
	}
	defer d.passMu.Unlock()

	d.draining.Store(true)
	defer d.draining.Store(false)

	// The next pass is announced up front, even when nothing is queued.
	if err := d.queue.SetNextRun(ctx, d.now().Add(d.cfg.Interval)); err != nil {
		d.logger.Warn("failed to record next run", slog.String("error", err.Error()))
	}

	// An unconfigured relay would fail every message permanently; leave
	// the queue untouched until settings exist.
	type configured interface {
		Configured(ctx context.Context) bool
	}
	if cc, ok := d.sender.(configured); ok && !cc.Configured(ctx) {
		d.logger.Warn("mail relay not configured, skipping drain pass")
		return
	}

	start := d.now()
	var sent, requeued, failed int

	for {
		depth, err := d.queue.Depth(ctx)
		if err != nil {
			d.logger.Error("failed to read queue depth", slog.String("error", err.Error()))
			break
		}
		if depth == 0 {
			break
		}

		res, err := d.limiter.Allow(ctx, limiterKey)
		if err != nil {
			d.logger.Error("rate limiter failed", slog.String("error", err.Error()))
			break
		}
		if !res.Allowed {
			metrics.IncRateLimitHits()
			d.logger.Info("send window exhausted, leaving remainder queued",
				slog.Int("pending", depth),
				slog.Duration("retry_after", res.RetryAfter))
			break
		}

		msg, err := d.queue.Dequeue(ctx)
		if err != nil {
			d.logger.Error("failed to dequeue message", slog.String("error", err.Error()))
			break
		}
		if msg == nil {
			break
		}

		switch d.dispatch(ctx, msg) {
		case dispatchSent:
			sent++
		case dispatchRequeued:
			requeued++
		case dispatchFailed:
			failed++
		}
	}

	if depth, err := d.queue.Depth(ctx); err == nil {
		metrics.SetQueueDepth(float64(depth))
	}
	metrics.ObserveDrainDuration(d.now().Sub(start).Seconds())

	if sent+requeued+failed > 0 {
		d.logger.Info("drain pass finished",
			slog.Int("sent", sent),
			slog.Int("requeued", requeued),
			slog.Int("failed", failed),
			slog.Duration("duration", d.now().Sub(start)))
	}
}

type dispatchOutcome int

const (
	dispatchSent dispatchOutcome = iota
	dispatchRequeued
	dispatchFailed
)

func (d *Drainer) dispatch(ctx context.Context, msg *Message) dispatchOutcome {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	start := d.now()
	err := d.sender.Send(sendCtx, msg)
	cancel()
	metrics.ObserveSendDuration(d.now().Sub(start).Seconds())

	now := d.now()
	recipient := AnonymizeRecipient(msg.To)

	if err == nil {
		if ackErr := d.queue.Ack(ctx, msg); ackErr != nil {
			d.logger.Warn("failed to ack message",
				slog.String("id", msg.ID), slog.String("error", ackErr.Error()))
		}
		if lsErr := d.queue.SetLastSent(ctx, now); lsErr != nil {
			d.logger.Warn("failed to record last sent", slog.String("error", lsErr.Error()))
		}
		d.appendLog(ctx, &LogEntry{Time: now, Recipient: recipient, Subject: msg.Subject, Status: "sent"})
		metrics.IncMailsSent()
		d.logger.Info("mail sent", slog.String("id", msg.ID), slog.String("to", recipient))
		return dispatchSent
	}

	msg.Attempts++
	msg.LastError = err.Error()

	if msg.Attempts <= 1 {
		if qErr := d.queue.Requeue(ctx, msg); qErr != nil {
			d.logger.Error("failed to requeue message, marking failed",
				slog.String("id", msg.ID), slog.String("error", qErr.Error()))
			d.markFailed(ctx, msg, now, recipient)
			return dispatchFailed
		}
		d.appendLog(ctx, &LogEntry{Time: now, Recipient: recipient, Subject: msg.Subject, Status: "requeued", Error: msg.LastError})
		metrics.IncMailsRequeued()
		d.logger.Warn("send failed, requeued",
			slog.String("id", msg.ID), slog.String("error", msg.LastError))
		return dispatchRequeued
	}

	d.markFailed(ctx, msg, now, recipient)
	return dispatchFailed
}

func (d *Drainer) markFailed(ctx context.Context, msg *Message, now time.Time, recipient string) {
	if err := d.queue.MarkFailed(ctx, msg); err != nil {
		d.logger.Error("failed to record failed message",
			slog.String("id", msg.ID), slog.String("error", err.Error()))
	}
	d.appendLog(ctx, &LogEntry{Time: now, Recipient: recipient, Subject: msg.Subject, Status: "error", Error: msg.LastError})
	metrics.IncMailsFailed()
	d.logger.Error("send failed permanently",
		slog.String("id", msg.ID), slog.String("error", msg.LastError))
}

func (d *Drainer) appendLog(ctx context.Context, entry *LogEntry) {
	if err := d.queue.AppendLog(ctx, entry); err != nil {
		d.logger.Warn("failed to append send log", slog.String("error", err.Error()))
	}
}

// Status is the authoritative queue status payload.
type Status struct {
	State              State      `json:"state"`
	Queued             int        `json:"queued"`
	NextRunIn          int        `json:"next_run_in"`
	QueueInterval      int        `json:"queue_interval"`
	RateLimitWindow    int        `json:"rate_limit_window"`
	RateLimitMails     int        `json:"rate_limit_mails"`
	RateLimitRemaining int        `json:"rate_limit_remaining"`
	LastSent           *time.Time `json:"last_sent,omitempty"`
}

// Status assembles the authoritative status tuple. Backend errors degrade
// to fallback values; the payload never carries an error state.
func (d *Drainer) Status(ctx context.Context) *Status {
	st := &Status{
		State:           d.State(),
		QueueInterval:   int(d.cfg.Interval / time.Second),
		RateLimitWindow: int(d.cfg.Window / time.Second),
		RateLimitMails:  d.cfg.Mails,
	}

	if depth, err := d.queue.Depth(ctx); err == nil {
		st.Queued = depth
	}

	// Without a recorded next run the countdown falls back to one window.
	st.NextRunIn = st.RateLimitWindow
	if next, err := d.queue.NextRun(ctx); err == nil && !next.IsZero() {
		in := int(next.Sub(d.now()) / time.Second)
		if in < 0 {
			in = 0
		}
		st.NextRunIn = in
	}

	st.RateLimitRemaining = d.cfg.Mails
	if rem, err := d.limiter.Remaining(ctx, limiterKey); err == nil {
		st.RateLimitRemaining = rem
	}

	if last, err := d.queue.LastSent(ctx); err == nil && !last.IsZero() {
		st.LastSent = &last
	}

	return st
}
