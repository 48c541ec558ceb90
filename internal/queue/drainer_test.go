package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/gratulo/internal/ratelimit"
)

// stubSender implements Sender for testing
type stubSender struct {
	mu       sync.Mutex
	sendFunc func(ctx context.Context, msg *Message) error
	sent     []*Message
}

func (s *stubSender) Send(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	if s.sendFunc != nil {
		return s.sendFunc(ctx, msg)
	}
	return nil
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enqueueN(t *testing.T, q Queue, n int) {
	t.Helper()
	base := time.Now().Add(-time.Second)
	for i := 0; i < n; i++ {
		msg := &Message{
			ID:        fmt.Sprintf("msg-%d", i),
			To:        fmt.Sprintf("user%d@test.com", i),
			Subject:   "test",
			Status:    StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := q.Enqueue(context.Background(), msg); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
}

func TestDrainerSendCap(t *testing.T) {
	q := newTestBolt(t)
	enqueueN(t, q, 30)

	sender := &stubSender{}
	limiter := ratelimit.NewMemory(25, time.Hour)
	d := NewDrainer(q, sender, limiter, DrainerConfig{
		Interval:    2 * time.Minute,
		SendTimeout: time.Second,
		Mails:       25,
		Window:      time.Hour,
	}, testLogger())

	ctx := context.Background()
	d.Drain(ctx)

	// Exactly the windowed cap goes out, the remainder stays queued
	if got := sender.count(); got != 25 {
		t.Errorf("sent %d messages, want 25", got)
	}
	depth, _ := q.Depth(ctx)
	if depth != 5 {
		t.Errorf("Depth() = %d, want 5", depth)
	}

	// The oldest messages went first
	if sender.sent[0].ID != "msg-0" {
		t.Errorf("first sent = %s, want msg-0", sender.sent[0].ID)
	}

	// A second pass in the same window sends nothing more
	d.Drain(ctx)
	if got := sender.count(); got != 25 {
		t.Errorf("sent %d messages after second pass, want 25", got)
	}
	depth, _ = q.Depth(ctx)
	if depth != 5 {
		t.Errorf("Depth() = %d after second pass, want 5", depth)
	}
}

func TestDrainerRequeueOnceThenFailed(t *testing.T) {
	q := newTestBolt(t)
	enqueueN(t, q, 1)

	sender := &stubSender{
		sendFunc: func(ctx context.Context, msg *Message) error {
			return errors.New("connection refused")
		},
	}
	limiter := ratelimit.NewMemory(100, time.Hour)
	d := NewDrainer(q, sender, limiter, DrainerConfig{
		Interval:    2 * time.Minute,
		SendTimeout: time.Second,
		Mails:       100,
		Window:      time.Hour,
	}, testLogger())

	ctx := context.Background()
	d.Drain(ctx)

	// First failure requeues, second failure is permanent
	if got := sender.count(); got != 2 {
		t.Errorf("attempted %d sends, want 2", got)
	}

	depth, _ := q.Depth(ctx)
	if depth != 0 {
		t.Errorf("Depth() = %d, want 0", depth)
	}

	failed, err := q.List(ctx, ListFilter{Status: StatusFailed})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("List(failed) returned %d messages, want 1", len(failed))
	}
	if failed[0].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", failed[0].Attempts)
	}
	if failed[0].LastError != "connection refused" {
		t.Errorf("LastError = %q, want %q", failed[0].LastError, "connection refused")
	}
}

func TestDrainerRecoversAfterRequeue(t *testing.T) {
	q := newTestBolt(t)
	enqueueN(t, q, 1)

	// Fails once, then succeeds
	attempts := 0
	sender := &stubSender{
		sendFunc: func(ctx context.Context, msg *Message) error {
			attempts++
			if attempts == 1 {
				return errors.New("temporary error")
			}
			return nil
		},
	}
	limiter := ratelimit.NewMemory(100, time.Hour)
	d := NewDrainer(q, sender, limiter, DrainerConfig{
		Interval:    2 * time.Minute,
		SendTimeout: time.Second,
		Mails:       100,
		Window:      time.Hour,
	}, testLogger())

	ctx := context.Background()
	d.Drain(ctx)

	if attempts != 2 {
		t.Errorf("attempted %d sends, want 2", attempts)
	}
	depth, _ := q.Depth(ctx)
	if depth != 0 {
		t.Errorf("Depth() = %d, want 0", depth)
	}
	stats, _ := q.Stats(ctx)
	if stats.Failed != 0 {
		t.Errorf("Stats().Failed = %d, want 0", stats.Failed)
	}
}

func TestDrainerWritesSendLog(t *testing.T) {
	q := newTestBolt(t)
	msg := &Message{
		ID:        "log-test",
		To:        "max.muster@example.org",
		Subject:   "Alles Gute",
		Status:    StatusPending,
		CreatedAt: time.Now().Add(-time.Second),
		UpdatedAt: time.Now().Add(-time.Second),
	}
	if err := q.Enqueue(context.Background(), msg); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	sender := &stubSender{}
	limiter := ratelimit.NewMemory(100, time.Hour)
	d := NewDrainer(q, sender, limiter, DrainerConfig{
		Interval:    2 * time.Minute,
		SendTimeout: time.Second,
		Mails:       100,
		Window:      time.Hour,
	}, testLogger())

	ctx := context.Background()
	d.Drain(ctx)

	entries, err := q.RecentLog(ctx, 10)
	if err != nil {
		t.Fatalf("RecentLog() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("RecentLog() returned %d entries, want 1", len(entries))
	}
	if entries[0].Status != "sent" {
		t.Errorf("log status = %s, want sent", entries[0].Status)
	}
	// Recipients never land in the log verbatim
	if entries[0].Recipient != "ma***@example.org" {
		t.Errorf("log recipient = %s, want ma***@example.org", entries[0].Recipient)
	}

	last, _ := q.LastSent(ctx)
	if last.IsZero() {
		t.Error("LastSent() not recorded after successful send")
	}
}

// unconfiguredSender is a stubSender that also reports whether a relay
// is configured, the way the smtp client does.
type unconfiguredSender struct {
	stubSender
	configured bool
}

func (s *unconfiguredSender) Configured(ctx context.Context) bool {
	return s.configured
}

func TestDrainerSkipsWhenUnconfigured(t *testing.T) {
	q := newTestBolt(t)
	enqueueN(t, q, 2)

	sender := &unconfiguredSender{}
	limiter := ratelimit.NewMemory(100, time.Hour)
	d := NewDrainer(q, sender, limiter, DrainerConfig{
		Interval:    2 * time.Minute,
		SendTimeout: time.Second,
		Mails:       100,
		Window:      time.Hour,
	}, testLogger())

	ctx := context.Background()
	d.Drain(ctx)

	// Nothing leaves and nothing fails while the relay is missing
	if got := sender.count(); got != 0 {
		t.Errorf("sent %d messages, want 0", got)
	}
	depth, _ := q.Depth(ctx)
	if depth != 2 {
		t.Errorf("Depth() = %d, want 2", depth)
	}
	stats, _ := q.Stats(ctx)
	if stats.Failed != 0 {
		t.Errorf("Stats().Failed = %d, want 0", stats.Failed)
	}

	// Once settings exist the next pass drains normally
	sender.configured = true
	d.Drain(ctx)
	if got := sender.count(); got != 2 {
		t.Errorf("sent %d messages after configuring, want 2", got)
	}
}

func TestDrainerPassesDoNotOverlap(t *testing.T) {
	q := newTestBolt(t)
	enqueueN(t, q, 1)

	release := make(chan struct{})
	entered := make(chan struct{})
	sender := &stubSender{
		sendFunc: func(ctx context.Context, msg *Message) error {
			close(entered)
			<-release
			return nil
		},
	}
	limiter := ratelimit.NewMemory(100, time.Hour)
	d := NewDrainer(q, sender, limiter, DrainerConfig{
		Interval:    2 * time.Minute,
		SendTimeout: 5 * time.Second,
		Mails:       100,
		Window:      time.Hour,
	}, testLogger())

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		d.Drain(ctx)
		close(done)
	}()

	<-entered
	if got := d.State(); got != StateDraining {
		t.Errorf("State() = %s during pass, want %s", got, StateDraining)
	}

	// A tick during a running pass returns without doing anything
	d.Drain(ctx)
	if got := sender.count(); got != 1 {
		t.Errorf("sent %d messages during overlap, want 1", got)
	}

	close(release)
	<-done

	if got := d.State(); got != StateIdle {
		t.Errorf("State() = %s after pass, want %s", got, StateIdle)
	}
}

func TestDrainerStatus(t *testing.T) {
	q := newTestBolt(t)
	enqueueN(t, q, 3)

	sender := &stubSender{}
	limiter := ratelimit.NewMemory(40, time.Minute)
	d := NewDrainer(q, sender, limiter, DrainerConfig{
		Interval:    2 * time.Minute,
		SendTimeout: time.Second,
		Mails:       40,
		Window:      time.Minute,
	}, testLogger())

	ctx := context.Background()

	// Before any pass the countdown falls back to one rate limit window
	st := d.Status(ctx)
	if st.State != StateIdle {
		t.Errorf("State = %s, want %s", st.State, StateIdle)
	}
	if st.Queued != 3 {
		t.Errorf("Queued = %d, want 3", st.Queued)
	}
	if st.NextRunIn != 60 {
		t.Errorf("NextRunIn = %d, want fallback 60", st.NextRunIn)
	}
	if st.QueueInterval != 120 {
		t.Errorf("QueueInterval = %d, want 120", st.QueueInterval)
	}
	if st.RateLimitWindow != 60 {
		t.Errorf("RateLimitWindow = %d, want 60", st.RateLimitWindow)
	}
	if st.RateLimitMails != 40 {
		t.Errorf("RateLimitMails = %d, want 40", st.RateLimitMails)
	}
	if st.RateLimitRemaining != 40 {
		t.Errorf("RateLimitRemaining = %d, want 40", st.RateLimitRemaining)
	}
	if st.LastSent != nil {
		t.Errorf("LastSent = %v, want nil", st.LastSent)
	}

	d.Drain(ctx)

	st = d.Status(ctx)
	if st.Queued != 0 {
		t.Errorf("Queued = %d after drain, want 0", st.Queued)
	}
	if st.NextRunIn <= 0 || st.NextRunIn > 120 {
		t.Errorf("NextRunIn = %d after drain, want within (0, 120]", st.NextRunIn)
	}
	if st.RateLimitRemaining != 37 {
		t.Errorf("RateLimitRemaining = %d after drain, want 37", st.RateLimitRemaining)
	}
	if st.LastSent == nil {
		t.Error("LastSent = nil after successful sends")
	}
}
