package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyQueue    = "mailer:queue"
	redisKeyFailed   = "mailer:failed"
	redisKeyLog      = "mailer:log"
	redisKeyDedup    = "mailer:dedup:" // + calendar day
	redisKeyNextRun  = "mailer:next_run_at"
	redisKeyLastSent = "mailer:last_sent"

	redisFailedCap = 1000
)

// RedisQueue implements Queue on a Redis list, for deployments that share
// the queue across processes or already run Redis. The pending queue is a
// plain list: RPUSH on enqueue, LPOP on dequeue.
type RedisQueue struct {
	client  *redis.Client
	logSize int
}

// NewRedis wraps an existing Redis client. The queue takes ownership of
// the client and closes it with Close.
func NewRedis(client *redis.Client, logSize int) *RedisQueue {
	if logSize < 1 {
		logSize = 500
	}
	return &RedisQueue{client: client, logSize: logSize}
}

// NewRedisFromURL connects to Redis at the given URL and verifies the
// connection before returning.
func NewRedisFromURL(ctx context.Context, url string, logSize int) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedis(client, logSize), nil
}

// Client exposes the underlying Redis client so the rate limiter can share
// the connection.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg *Message) error {
	if key := msg.DedupKey(); key != "" {
		setKey := redisKeyDedup + msg.CreatedAt.Format("2006-01-02")
		added, err := q.client.SAdd(ctx, setKey, key).Result()
		if err != nil {
			return fmt.Errorf("failed to record dedup key: %w", err)
		}
		if added == 0 {
			return ErrDuplicate
		}
		q.client.Expire(ctx, setKey, dedupMaxAge)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := q.client.RPush(ctx, redisKeyQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Message, error) {
	data, err := q.client.LPop(ctx, redisKeyQueue).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue message: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

func (q *RedisQueue) Requeue(ctx context.Context, msg *Message) error {
	msg.UpdatedAt = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return q.client.RPush(ctx, redisKeyQueue, data).Err()
}

// Ack is a no-op for Redis: a dequeued message already left the list.
func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	return nil
}

func (q *RedisQueue) MarkFailed(ctx context.Context, msg *Message) error {
	msg.Status = StatusFailed
	msg.UpdatedAt = time.Now()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := q.client.LPush(ctx, redisKeyFailed, data).Err(); err != nil {
		return fmt.Errorf("failed to record failed message: %w", err)
	}
	return q.client.LTrim(ctx, redisKeyFailed, 0, redisFailedCap-1).Err()
}

func (q *RedisQueue) Get(ctx context.Context, id string) (*Message, error) {
	for _, key := range []string{redisKeyQueue, redisKeyFailed} {
		msg, _, err := q.scan(ctx, key, id)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
	return nil, nil
}

func (q *RedisQueue) List(ctx context.Context, filter ListFilter) ([]*Message, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	messages := []*Message{}
	collect := func(key string) error {
		raw, err := q.client.LRange(ctx, key, 0, int64(limit)-1).Result()
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}
		for _, item := range raw {
			if len(messages) >= limit {
				break
			}
			var m Message
			if err := json.Unmarshal([]byte(item), &m); err != nil {
				continue
			}
			messages = append(messages, &m)
		}
		return nil
	}

	switch filter.Status {
	case StatusFailed:
		return messages, collect(redisKeyFailed)
	case StatusPending:
		return messages, collect(redisKeyQueue)
	default:
		if err := collect(redisKeyQueue); err != nil {
			return nil, err
		}
		return messages, collect(redisKeyFailed)
	}
}

func (q *RedisQueue) Delete(ctx context.Context, id string) error {
	for _, key := range []string{redisKeyQueue, redisKeyFailed} {
		msg, raw, err := q.scan(ctx, key, id)
		if err != nil {
			return err
		}
		if msg != nil {
			return q.client.LRem(ctx, key, 1, raw).Err()
		}
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, id string) error {
	msg, raw, err := q.scan(ctx, redisKeyFailed, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message %s not found", id)
	}

	if err := q.client.LRem(ctx, redisKeyFailed, 1, raw).Err(); err != nil {
		return fmt.Errorf("failed to remove failed message: %w", err)
	}

	msg.Status = StatusPending
	msg.Attempts = 0
	msg.LastError = ""
	return q.Requeue(ctx, msg)
}

func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, redisKeyQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) Stats(ctx context.Context) (*Stats, error) {
	pending, err := q.client.LLen(ctx, redisKeyQueue).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	failed, err := q.client.LLen(ctx, redisKeyFailed).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return &Stats{Pending: int(pending), Failed: int(failed)}, nil
}

func (q *RedisQueue) AppendLog(ctx context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	if err := q.client.LPush(ctx, redisKeyLog, data).Err(); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return q.client.LTrim(ctx, redisKeyLog, 0, int64(q.logSize)-1).Err()
}

func (q *RedisQueue) RecentLog(ctx context.Context, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = q.logSize
	}

	raw, err := q.client.LRange(ctx, redisKeyLog, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	entries := []*LogEntry{}
	for _, item := range raw {
		var e LogEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

func (q *RedisQueue) SetNextRun(ctx context.Context, t time.Time) error {
	return q.client.Set(ctx, redisKeyNextRun, t.Format(time.RFC3339Nano), 0).Err()
}

func (q *RedisQueue) NextRun(ctx context.Context) (time.Time, error) {
	return q.getTime(ctx, redisKeyNextRun)
}

func (q *RedisQueue) SetLastSent(ctx context.Context, t time.Time) error {
	return q.client.Set(ctx, redisKeyLastSent, t.Format(time.RFC3339Nano), 0).Err()
}

func (q *RedisQueue) LastSent(ctx context.Context) (time.Time, error) {
	return q.getTime(ctx, redisKeyLastSent)
}

func (q *RedisQueue) getTime(ctx context.Context, key string) (time.Time, error) {
	s, err := q.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

func (q *RedisQueue) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	// Dedup sets expire on their own; only stale failed entries need work.
	raw, err := q.client.LRange(ctx, redisKeyFailed, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan failed messages: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		if m.UpdatedAt.Before(cutoff) {
			if err := q.client.LRem(ctx, redisKeyFailed, 1, item).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// scan walks a list looking for a message by ID, returning the message and
// its raw list entry for LRem.
func (q *RedisQueue) scan(ctx context.Context, key, id string) (*Message, string, error) {
	raw, err := q.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, "", fmt.Errorf("failed to scan %s: %w", key, err)
	}
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		if m.ID == id {
			return &m, item, nil
		}
	}
	return nil, "", nil
}
