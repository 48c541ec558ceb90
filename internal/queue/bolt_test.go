package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func newTestBolt(t *testing.T) *BoltQueue {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	q, err := NewBolt(dbPath, 100)
	if err != nil {
		t.Fatalf("NewBolt() error = %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestBoltQueue(t *testing.T) {
	q := newTestBolt(t)
	ctx := context.Background()

	// Test Enqueue
	msg := &Message{
		ID:        "test-id-1",
		MemberID:  7,
		Field:     "date1",
		To:        "recipient@test.com",
		Subject:   "Alles Gute",
		Body:      "<p>Hallo</p>",
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := q.Enqueue(ctx, msg); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// Test Get
	got, err := q.Get(ctx, "test-id-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil")
	}
	if got.ID != msg.ID {
		t.Errorf("Get().ID = %v, want %v", got.ID, msg.ID)
	}
	if got.To != msg.To {
		t.Errorf("Get().To = %v, want %v", got.To, msg.To)
	}
	if got.Status != StatusPending {
		t.Errorf("Get().Status = %v, want %v", got.Status, StatusPending)
	}

	// Test Get nonexistent
	notFound, err := q.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if notFound != nil {
		t.Error("Get() expected nil for nonexistent message")
	}

	// Test Depth
	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 1 {
		t.Errorf("Depth() = %d, want 1", depth)
	}

	// Test Dequeue
	dequeued, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if dequeued == nil {
		t.Fatal("Dequeue() returned nil")
	}
	if dequeued.ID != msg.ID {
		t.Errorf("Dequeue().ID = %v, want %v", dequeued.ID, msg.ID)
	}

	// Test Dequeue empty queue
	empty, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if empty != nil {
		t.Error("Dequeue() expected nil for empty queue")
	}

	// Test Ack removes the message
	if err := q.Ack(ctx, dequeued); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	acked, _ := q.Get(ctx, dequeued.ID)
	if acked != nil {
		t.Error("Ack() message still exists")
	}
}

func TestBoltQueueFIFO(t *testing.T) {
	q := newTestBolt(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Second)
	for i := 0; i < 5; i++ {
		msg := &Message{
			ID:        fmt.Sprintf("msg-%d", i),
			To:        fmt.Sprintf("user%d@test.com", i),
			Subject:   "test",
			Status:    StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := q.Enqueue(ctx, msg); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		msg, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if msg == nil {
			t.Fatalf("Dequeue() returned nil at position %d", i)
		}
		want := fmt.Sprintf("msg-%d", i)
		if msg.ID != want {
			t.Errorf("Dequeue() position %d = %s, want %s", i, msg.ID, want)
		}
	}
}

func TestBoltQueueDuplicate(t *testing.T) {
	q := newTestBolt(t)
	ctx := context.Background()

	now := time.Now()
	first := &Message{
		ID:        "dup-1",
		MemberID:  42,
		Field:     "date1",
		To:        "user@test.com",
		Subject:   "first",
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// Same member, field and day: suppressed
	second := &Message{
		ID:        "dup-2",
		MemberID:  42,
		Field:     "date1",
		To:        "user@test.com",
		Subject:   "second",
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.Enqueue(ctx, second); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Enqueue() error = %v, want ErrDuplicate", err)
	}

	// Different field on the same day: allowed
	otherField := &Message{
		ID:        "dup-3",
		MemberID:  42,
		Field:     "date2",
		To:        "user@test.com",
		Subject:   "third",
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.Enqueue(ctx, otherField); err != nil {
		t.Errorf("Enqueue() error = %v, want nil for different field", err)
	}

	// Dedup survives delivery of the first message
	msg, err := q.Dequeue(ctx)
	if err != nil || msg == nil {
		t.Fatalf("Dequeue() = %v, %v", msg, err)
	}
	if err := q.Ack(ctx, msg); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	again := &Message{
		ID:        "dup-4",
		MemberID:  42,
		Field:     "date1",
		To:        "user@test.com",
		Subject:   "fourth",
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.Enqueue(ctx, again); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Enqueue() after Ack error = %v, want ErrDuplicate", err)
	}

	depth, _ := q.Depth(ctx)
	if depth != 1 {
		t.Errorf("Depth() = %d, want 1", depth)
	}
}

func TestBoltQueueRequeueMovesToTail(t *testing.T) {
	q := newTestBolt(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Second)
	for i := 0; i < 3; i++ {
		msg := &Message{
			ID:        fmt.Sprintf("msg-%d", i),
			To:        "user@test.com",
			Status:    StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := q.Enqueue(ctx, msg); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	first, err := q.Dequeue(ctx)
	if err != nil || first == nil {
		t.Fatalf("Dequeue() = %v, %v", first, err)
	}
	if first.ID != "msg-0" {
		t.Fatalf("Dequeue() = %s, want msg-0", first.ID)
	}

	first.Attempts++
	if err := q.Requeue(ctx, first); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}

	var order []string
	for {
		msg, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if msg == nil {
			break
		}
		order = append(order, msg.ID)
	}

	want := []string{"msg-1", "msg-2", "msg-0"}
	if len(order) != len(want) {
		t.Fatalf("dequeued %d messages, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestBoltQueueFailedLifecycle(t *testing.T) {
	q := newTestBolt(t)
	ctx := context.Background()

	msg := &Message{
		ID:        "fail-1",
		To:        "user@test.com",
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := q.Enqueue(ctx, msg); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	dequeued, _ := q.Dequeue(ctx)
	dequeued.Attempts = 2
	dequeued.LastError = "550 user unknown"
	if err := q.MarkFailed(ctx, dequeued); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Pending != 0 {
		t.Errorf("Stats().Pending = %d, want 0", stats.Pending)
	}
	if stats.Failed != 1 {
		t.Errorf("Stats().Failed = %d, want 1", stats.Failed)
	}

	failed, err := q.List(ctx, ListFilter{Status: StatusFailed})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "fail-1" {
		t.Fatalf("List(failed) = %v, want [fail-1]", failed)
	}
	if failed[0].LastError != "550 user unknown" {
		t.Errorf("LastError = %q, want %q", failed[0].LastError, "550 user unknown")
	}

	// Retry moves it back to pending with a fresh attempt budget
	if err := q.Retry(ctx, "fail-1"); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	retried, _ := q.Get(ctx, "fail-1")
	if retried == nil || retried.Status != StatusPending {
		t.Fatalf("Retry() status = %v, want pending", retried)
	}
	if retried.Attempts != 0 {
		t.Errorf("Retry() attempts = %d, want 0", retried.Attempts)
	}
	depth, _ := q.Depth(ctx)
	if depth != 1 {
		t.Errorf("Depth() = %d, want 1 after retry", depth)
	}

	// Delete removes it entirely
	if err := q.Delete(ctx, "fail-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	gone, _ := q.Get(ctx, "fail-1")
	if gone != nil {
		t.Error("Delete() message still exists")
	}
}

func TestBoltQueueLog(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	q, err := NewBolt(dbPath, 3)
	if err != nil {
		t.Fatalf("NewBolt() error = %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		entry := &LogEntry{
			Time:      base.Add(time.Duration(i) * time.Second),
			Recipient: "ma***@test.com",
			Subject:   fmt.Sprintf("mail %d", i),
			Status:    "sent",
		}
		if err := q.AppendLog(ctx, entry); err != nil {
			t.Fatalf("AppendLog() error = %v", err)
		}
	}

	entries, err := q.RecentLog(ctx, 10)
	if err != nil {
		t.Fatalf("RecentLog() error = %v", err)
	}
	// Trimmed to the configured size, newest first
	if len(entries) != 3 {
		t.Fatalf("RecentLog() returned %d entries, want 3", len(entries))
	}
	if entries[0].Subject != "mail 4" {
		t.Errorf("RecentLog()[0].Subject = %s, want mail 4", entries[0].Subject)
	}
	if entries[2].Subject != "mail 2" {
		t.Errorf("RecentLog()[2].Subject = %s, want mail 2", entries[2].Subject)
	}
}

func TestBoltQueueMeta(t *testing.T) {
	q := newTestBolt(t)
	ctx := context.Background()

	// Unset meta reads as zero time
	next, err := q.NextRun(ctx)
	if err != nil {
		t.Fatalf("NextRun() error = %v", err)
	}
	if !next.IsZero() {
		t.Errorf("NextRun() = %v, want zero time", next)
	}

	want := time.Now().Add(2 * time.Minute).Truncate(time.Millisecond)
	if err := q.SetNextRun(ctx, want); err != nil {
		t.Fatalf("SetNextRun() error = %v", err)
	}
	got, err := q.NextRun(ctx)
	if err != nil {
		t.Fatalf("NextRun() error = %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", got, want)
	}

	sent := time.Now().Truncate(time.Millisecond)
	if err := q.SetLastSent(ctx, sent); err != nil {
		t.Fatalf("SetLastSent() error = %v", err)
	}
	gotSent, err := q.LastSent(ctx)
	if err != nil {
		t.Fatalf("LastSent() error = %v", err)
	}
	if !gotSent.Equal(sent) {
		t.Errorf("LastSent() = %v, want %v", gotSent, sent)
	}
}

func TestBoltQueueCleanup(t *testing.T) {
	q := newTestBolt(t)
	ctx := context.Background()

	for _, id := range []string{"old-failed", "fresh-failed"} {
		msg := &Message{
			ID:        id,
			To:        "user@test.com",
			Status:    StatusPending,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := q.Enqueue(ctx, msg); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		dequeued, _ := q.Dequeue(ctx)
		if err := q.MarkFailed(ctx, dequeued); err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}
	}

	// Backdate one failed index entry and plant an expired dedup entry.
	old := time.Now().Add(-40 * 24 * time.Hour)
	err := q.DB().Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFailed).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == "old-failed" {
				if err := c.Delete(); err != nil {
					return err
				}
				break
			}
		}
		if err := tx.Bucket(bucketFailed).Put(makeIndexKey(old, "old-failed"), []byte("old-failed")); err != nil {
			return err
		}
		return tx.Bucket(bucketDedup).Put([]byte("42:date1:2020-01-01"), []byte(old.Format(time.RFC3339)))
	})
	if err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	removed, err := q.Cleanup(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Cleanup() removed %d, want 2", removed)
	}

	if msg, _ := q.Get(ctx, "old-failed"); msg != nil {
		t.Error("Cleanup() left expired failed message")
	}
	if msg, _ := q.Get(ctx, "fresh-failed"); msg == nil {
		t.Error("Cleanup() removed fresh failed message")
	}
}
