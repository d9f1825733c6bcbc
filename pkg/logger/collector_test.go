package logger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
	err     error
}

func (p *capturePublisher) PublishLogs(_ context.Context, topic string, entries []AggregatedLogEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, entries)
	return p.err
}

func (p *capturePublisher) all() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestCollector_AggregatesRepeats(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Publisher: pub})

	fields := map[string]interface{}{"slot": "sequence", "tier": 3}
	c.AddLog("error", "training failed", fields, "scheduler.go:10")
	c.AddLog("error", "training failed", map[string]interface{}{"tier": 3, "slot": "sequence"}, "scheduler.go:10")
	c.AddLog("error", "training failed", map[string]interface{}{"slot": "fast_linear", "tier": 1}, "scheduler.go:10")
	c.Close()

	entries := pub.all()
	require.Len(t, entries, 2)
	counts := map[interface{}]int{}
	for _, e := range entries {
		counts[e.Fields["slot"]] = e.Count
	}
	assert.Equal(t, 2, counts["sequence"])
	assert.Equal(t, 1, counts["fast_linear"])
	assert.Equal(t, []string{"logs"}, pub.topics)
}

func TestCollector_LevelFloor(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub})
	c.AddLog("warn", "slow query", nil, "x.go:1")
	c.AddLog("info", "started", nil, "x.go:2")
	c.Close()
	assert.Empty(t, pub.all())

	pub = &capturePublisher{}
	c = NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, MinLevel: "warn", Publisher: pub})
	c.AddLog("warn", "slow query", nil, "x.go:1")
	c.Close()
	require.Len(t, pub.all(), 1)
	assert.Equal(t, "warn", pub.all()[0].Level)
}

func TestCollector_ThresholdFlushesEarly(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")

	assert.Eventually(t, func() bool { return len(pub.all()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestCollector_PublishFailureCountsDropped(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub})
	c.AddLog("error", "a", nil, "x.go:1")
	c.Close()
	assert.Equal(t, int64(1), c.Dropped())

	// Adding after close is a no-op rather than a panic.
	c.AddLog("error", "late", nil, "x.go:3")
	c.Flush()
}

func TestLogger_ChildrenShareCollector(t *testing.T) {
	l, err := New(&Config{Level: "info", Format: "json", Output: filepath.Join(t.TempDir(), "app.log")})
	require.NoError(t, err)
	child := l.With(String("component", "engine"))

	pub := &capturePublisher{}
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Publisher: pub})
	child.Error("order rejected", String("reason", "rate limited"))
	child.Info("ignored")
	l.RemoveCollector()

	entries := pub.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "order rejected", entries[0].Message)
	assert.Equal(t, "rate limited", entries[0].Fields["reason"])
	assert.Contains(t, entries[0].Caller, "collector_test.go")

	// Detached: nothing more is collected.
	child.Error("after removal")
	assert.Len(t, pub.all(), 1)
}

func TestNop_IgnoresCollector(t *testing.T) {
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour})
	l.Error("discarded")
	l.RemoveCollector()
}
