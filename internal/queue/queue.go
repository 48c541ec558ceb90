// Package queue implements the outbound dispatch queue: a FIFO of rendered
// mails drained on a fixed interval under a send-rate cap, with duplicate
// suppression per recipient, date field and calendar day. Two storage
// backends implement the Queue interface, an embedded bbolt store and a
// Redis store for deployments that already run one.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned by Enqueue when a message for the same member,
// field and calendar day was already enqueued.
var ErrDuplicate = errors.New("duplicate message for member, field and day")

// Queue defines the storage operations of the dispatch queue.
type Queue interface {
	// Enqueue appends a message to the tail of the queue.
	Enqueue(ctx context.Context, msg *Message) error

	// Dequeue pops the message at the head of the queue.
	// Returns nil, nil when the queue is empty.
	Dequeue(ctx context.Context) (*Message, error)

	// Requeue puts a dequeued message back at the tail.
	Requeue(ctx context.Context, msg *Message) error

	// Ack removes a dequeued message permanently after successful delivery.
	Ack(ctx context.Context, msg *Message) error

	// MarkFailed records a dequeued message as permanently failed.
	MarkFailed(ctx context.Context, msg *Message) error

	// Get retrieves a stored message by ID.
	Get(ctx context.Context, id string) (*Message, error)

	// List returns stored messages, optionally filtered by status.
	List(ctx context.Context, filter ListFilter) ([]*Message, error)

	// Delete removes a stored message.
	Delete(ctx context.Context, id string) error

	// Retry moves a failed message back to the pending queue.
	Retry(ctx context.Context, id string) error

	// Depth returns the number of pending messages.
	Depth(ctx context.Context) (int, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*Stats, error)

	// AppendLog appends one entry to the capped send log.
	AppendLog(ctx context.Context, entry *LogEntry) error

	// RecentLog returns up to limit log entries, newest first.
	RecentLog(ctx context.Context, limit int) ([]*LogEntry, error)

	// SetNextRun records when the next drain pass is scheduled.
	SetNextRun(ctx context.Context, t time.Time) error

	// NextRun returns the recorded next drain time, zero when unset.
	NextRun(ctx context.Context) (time.Time, error)

	// SetLastSent records the time of the last successful delivery.
	SetLastSent(ctx context.Context, t time.Time) error

	// LastSent returns the recorded last delivery time, zero when unset.
	LastSent(ctx context.Context) (time.Time, error)

	// Cleanup prunes expired bookkeeping: old failed messages past the
	// retention window and stale dedup entries. Returns the number of
	// removed records.
	Cleanup(ctx context.Context, retention time.Duration) (int, error)

	// Close closes the storage.
	Close() error
}
