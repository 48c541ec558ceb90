package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type mockQueueStatsProvider struct {
	stats QueueStats
	err   error
}

func (m *mockQueueStatsProvider) QueueStats(ctx context.Context) (QueueStats, error) {
	return m.stats, m.err
}

type mockMemberCounter struct {
	count int
}

func (m *mockMemberCounter) CountMembers(ctx context.Context) (int, error) {
	return m.count, nil
}

func TestCollectorRefresh(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()

	queueStats := &mockQueueStatsProvider{stats: QueueStats{Pending: 10, Failed: 2}}
	members := &mockMemberCounter{count: 57}

	c := NewCollector(m, queueStats, members, 10*time.Second, logger)
	c.refresh()

	if got := gaugeValue(t, m.QueueDepth); got != 10 {
		t.Errorf("Expected queue depth 10, got %f", got)
	}
	if got := gaugeValue(t, m.QueueFailed); got != 2 {
		t.Errorf("Expected queue failed 2, got %f", got)
	}
	if got := gaugeValue(t, m.MembersTotal); got != 57 {
		t.Errorf("Expected members 57, got %f", got)
	}
	if got := gaugeValue(t, m.Goroutines); got <= 0 {
		t.Errorf("Expected goroutines > 0, got %f", got)
	}
}

func TestCollectorProviderError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()

	m.QueueDepth.Set(99)
	queueStats := &mockQueueStatsProvider{err: errors.New("unavailable")}

	c := NewCollector(m, queueStats, nil, 10*time.Second, logger)
	c.refresh()

	// A failing provider must not clobber the last good value
	if got := gaugeValue(t, m.QueueDepth); got != 99 {
		t.Errorf("Expected queue depth 99, got %f", got)
	}
}

func TestCollectorNilProviders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()

	c := NewCollector(m, nil, nil, 10*time.Second, logger)
	c.refresh()
}

func TestCollectorStartStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()

	queueStats := &mockQueueStatsProvider{stats: QueueStats{Pending: 1}}
	c := NewCollector(m, queueStats, nil, 50*time.Millisecond, logger)

	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	if got := gaugeValue(t, m.QueueDepth); got != 1 {
		t.Errorf("Expected queue depth 1 after initial refresh, got %f", got)
	}
}
