package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMessages = []byte("messages")
	bucketPending  = []byte("pending")
	bucketFailed   = []byte("failed")
	bucketDedup    = []byte("dedup")
	bucketLog      = []byte("log")
	bucketMeta     = []byte("meta")
)

var (
	metaNextRun  = []byte("next_run_at")
	metaLastSent = []byte("last_sent")
)

// dedupMaxAge bounds how long a dedup entry can matter: keys carry the
// calendar day, so anything older than two days can never match again.
const dedupMaxAge = 48 * time.Hour

// BoltQueue implements Queue using an embedded BoltDB file.
type BoltQueue struct {
	db      *bolt.DB
	logSize int
}

// NewBolt opens (and creates if needed) the queue database at path.
// logSize caps the send log.
func NewBolt(path string, logSize int) (*BoltQueue, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMessages, bucketPending, bucketFailed, bucketDedup, bucketLog, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if logSize < 1 {
		logSize = 500
	}

	return &BoltQueue{db: db, logSize: logSize}, nil
}

func (q *BoltQueue) Enqueue(ctx context.Context, msg *Message) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		if key := msg.DedupKey(); key != "" {
			dedup := tx.Bucket(bucketDedup)
			if dedup.Get([]byte(key)) != nil {
				return ErrDuplicate
			}
			if err := dedup.Put([]byte(key), []byte(msg.CreatedAt.Format(time.RFC3339))); err != nil {
				return fmt.Errorf("failed to record dedup key: %w", err)
			}
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := tx.Bucket(bucketMessages).Put([]byte(msg.ID), data); err != nil {
			return fmt.Errorf("failed to store message: %w", err)
		}

		indexKey := makeIndexKey(msg.CreatedAt, msg.ID)
		if err := tx.Bucket(bucketPending).Put(indexKey, []byte(msg.ID)); err != nil {
			return fmt.Errorf("failed to add to pending index: %w", err)
		}
		return nil
	})
}

func (q *BoltQueue) Dequeue(ctx context.Context) (*Message, error) {
	var msg *Message

	err := q.db.Update(func(tx *bolt.Tx) error {
		msgBucket := tx.Bucket(bucketMessages)
		c := tx.Bucket(bucketPending).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			msgData := msgBucket.Get(v)
			if msgData == nil {
				// Message row gone; drop the stale index entry.
				c.Delete()
				continue
			}

			var m Message
			if err := json.Unmarshal(msgData, &m); err != nil {
				c.Delete()
				continue
			}

			if err := c.Delete(); err != nil {
				return err
			}
			msg = &m
			return nil
		}
		return nil
	})

	return msg, err
}

func (q *BoltQueue) Requeue(ctx context.Context, msg *Message) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		msg.UpdatedAt = time.Now()

		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := tx.Bucket(bucketMessages).Put([]byte(msg.ID), data); err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}

		// A fresh index key at the current time lands at the tail.
		indexKey := makeIndexKey(msg.UpdatedAt, msg.ID)
		if err := tx.Bucket(bucketPending).Put(indexKey, []byte(msg.ID)); err != nil {
			return fmt.Errorf("failed to add to pending index: %w", err)
		}
		return nil
	})
}

func (q *BoltQueue) Ack(ctx context.Context, msg *Message) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).Delete([]byte(msg.ID))
	})
}

func (q *BoltQueue) MarkFailed(ctx context.Context, msg *Message) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		msg.Status = StatusFailed
		msg.UpdatedAt = time.Now()

		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := tx.Bucket(bucketMessages).Put([]byte(msg.ID), data); err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}

		indexKey := makeIndexKey(msg.UpdatedAt, msg.ID)
		if err := tx.Bucket(bucketFailed).Put(indexKey, []byte(msg.ID)); err != nil {
			return fmt.Errorf("failed to add to failed index: %w", err)
		}
		return nil
	})
}

func (q *BoltQueue) Get(ctx context.Context, id string) (*Message, error) {
	var msg *Message

	err := q.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMessages).Get([]byte(id))
		if data == nil {
			return nil
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
		msg = &m
		return nil
	})

	return msg, err
}

func (q *BoltQueue) List(ctx context.Context, filter ListFilter) ([]*Message, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	messages := []*Message{}
	err := q.db.View(func(tx *bolt.Tx) error {
		msgBucket := tx.Bucket(bucketMessages)

		collect := func(index []byte) error {
			c := tx.Bucket(index).Cursor()
			for k, v := c.First(); k != nil && len(messages) < limit; k, v = c.Next() {
				data := msgBucket.Get(v)
				if data == nil {
					continue
				}
				var m Message
				if err := json.Unmarshal(data, &m); err != nil {
					continue
				}
				messages = append(messages, &m)
			}
			return nil
		}

		switch filter.Status {
		case StatusFailed:
			return collect(bucketFailed)
		case StatusPending:
			return collect(bucketPending)
		default:
			if err := collect(bucketPending); err != nil {
				return err
			}
			return collect(bucketFailed)
		}
	})

	return messages, err
}

func (q *BoltQueue) Delete(ctx context.Context, id string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketMessages).Delete([]byte(id)); err != nil {
			return err
		}
		for _, index := range [][]byte{bucketPending, bucketFailed} {
			c := tx.Bucket(index).Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if string(v) == id {
					if err := c.Delete(); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func (q *BoltQueue) Retry(ctx context.Context, id string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		msgBucket := tx.Bucket(bucketMessages)
		data := msgBucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("message %s not found", id)
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
		if m.Status != StatusFailed {
			return fmt.Errorf("message %s is not failed", id)
		}

		c := tx.Bucket(bucketFailed).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == id {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}

		m.Status = StatusPending
		m.Attempts = 0
		m.LastError = ""
		m.UpdatedAt = time.Now()

		updated, err := json.Marshal(&m)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := msgBucket.Put([]byte(id), updated); err != nil {
			return err
		}

		indexKey := makeIndexKey(m.UpdatedAt, m.ID)
		return tx.Bucket(bucketPending).Put(indexKey, []byte(m.ID))
	})
}

func (q *BoltQueue) Depth(ctx context.Context) (int, error) {
	var depth int
	err := q.db.View(func(tx *bolt.Tx) error {
		depth = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return depth, err
}

func (q *BoltQueue) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := q.db.View(func(tx *bolt.Tx) error {
		stats.Pending = tx.Bucket(bucketPending).Stats().KeyN
		stats.Failed = tx.Bucket(bucketFailed).Stats().KeyN
		return nil
	})
	return stats, err
}

func (q *BoltQueue) AppendLog(ctx context.Context, entry *LogEntry) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		logBucket := tx.Bucket(bucketLog)

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal log entry: %w", err)
		}
		key := makeIndexKey(entry.Time, uuid.New().String())
		if err := logBucket.Put(key, data); err != nil {
			return err
		}

		// Trim oldest entries past the cap. Stats().KeyN lags within a
		// write transaction, so count keys directly.
		keys := [][]byte{}
		c := logBucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; len(keys)-i > q.logSize; i++ {
			if err := logBucket.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (q *BoltQueue) RecentLog(ctx context.Context, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = q.logSize
	}

	entries := []*LogEntry{}
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLog).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var e LogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			entries = append(entries, &e)
		}
		return nil
	})

	return entries, err
}

func (q *BoltQueue) SetNextRun(ctx context.Context, t time.Time) error {
	return q.setMeta(metaNextRun, t)
}

func (q *BoltQueue) NextRun(ctx context.Context) (time.Time, error) {
	return q.getMeta(metaNextRun)
}

func (q *BoltQueue) SetLastSent(ctx context.Context, t time.Time) error {
	return q.setMeta(metaLastSent, t)
}

func (q *BoltQueue) LastSent(ctx context.Context) (time.Time, error) {
	return q.getMeta(metaLastSent)
}

func (q *BoltQueue) setMeta(key []byte, t time.Time) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(key, []byte(t.Format(time.RFC3339Nano)))
	})
}

func (q *BoltQueue) getMeta(key []byte) (time.Time, error) {
	var t time.Time
	err := q.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(key)
		if data == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(data))
		if err != nil {
			return nil
		}
		t = parsed
		return nil
	})
	return t, err
}

func (q *BoltQueue) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	removed := 0
	now := time.Now()

	err := q.db.Update(func(tx *bolt.Tx) error {
		// Failed messages past retention.
		msgBucket := tx.Bucket(bucketMessages)
		cutoff := now.Add(-retention)
		c := tx.Bucket(bucketFailed).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if parseTimestampFromKey(k).After(cutoff) {
				break
			}
			if err := msgBucket.Delete(v); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}

		// Dedup entries that can no longer match.
		dedupCutoff := now.Add(-dedupMaxAge)
		dc := tx.Bucket(bucketDedup).Cursor()
		for k, v := dc.First(); k != nil; k, v = dc.Next() {
			ts, err := time.Parse(time.RFC3339, string(v))
			if err != nil || ts.Before(dedupCutoff) {
				if err := dc.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})

	return removed, err
}

func (q *BoltQueue) Close() error {
	return q.db.Close()
}

// DB exposes the underlying BoltDB handle.
func (q *BoltQueue) DB() *bolt.DB {
	return q.db
}

func makeIndexKey(t time.Time, id string) []byte {
	// Format: timestamp (RFC3339Nano) + ":" + id
	return []byte(t.Format(time.RFC3339Nano) + ":" + id)
}

func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			ts, _ := time.Parse(time.RFC3339Nano, s[:i])
			return ts
		}
	}
	return time.Time{}
}
