package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Publisher ships aggregated log batches to an external topic.
type Publisher interface {
	PublishLogs(ctx context.Context, topic string, entries []AggregatedLogEntry) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // distinct entries before an early flush
	MinLevel       string        // "warn" or "error"
	Topic          string
	Publisher      Publisher
}

// AggregatedLogEntry counts repeats of one level+message+caller+fields tuple.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// collectorSlot is shared by a logger and every child derived with With.
type collectorSlot struct {
	p atomic.Pointer[LogCollector]
}

func (s *collectorSlot) get() *LogCollector {
	if s == nil {
		return nil
	}
	return s.p.Load()
}

type LogCollector struct {
	config  CollectionConfig
	mu      sync.Mutex
	entries map[uint64]*AggregatedLogEntry
	closed  bool
	batches chan []AggregatedLogEntry
	dropped atomic.Int64
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	cfg := *config
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = 30 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}
	if cfg.MinLevel == "" {
		cfg.MinLevel = "error"
	}

	c := &LogCollector{
		config:  cfg,
		entries: make(map[uint64]*AggregatedLogEntry),
		batches: make(chan []AggregatedLogEntry, 8),
		stop:    make(chan struct{}),
	}
	c.wg.Add(2)
	go c.tick()
	go c.ship()
	return c
}

func (c *LogCollector) accepts(level string) bool {
	return level == "error" || (level == "warn" && c.config.MinLevel == "warn")
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	if !c.accepts(level) {
		return
	}
	now := time.Now()
	key := entryKey(level, message, fields, caller)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	if len(c.entries) >= c.config.CountThreshold {
		c.enqueueLocked(c.takeLocked())
	}
	c.mu.Unlock()
}

// Dropped reports batches discarded because the ship queue was full or publishing failed.
func (c *LogCollector) Dropped() int64 { return c.dropped.Load() }

// Flush hands the pending entries to the shipper.
func (c *LogCollector) Flush() {
	c.mu.Lock()
	c.enqueueLocked(c.takeLocked())
	c.mu.Unlock()
}

// entryKey hashes the tuple with sorted field keys so map order does not matter.
func entryKey(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(level))
	h.Write([]byte{0})
	h.Write([]byte(message))
	h.Write([]byte{0})
	h.Write([]byte(caller))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(fmt.Sprint(fields[k])))
	}
	return h.Sum64()
}

func (c *LogCollector) takeLocked() []AggregatedLogEntry {
	if len(c.entries) == 0 {
		return nil
	}
	out := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.entries = make(map[uint64]*AggregatedLogEntry)
	return out
}

// enqueueLocked never blocks; batches is closed under mu so sends cannot race the close.
func (c *LogCollector) enqueueLocked(batch []AggregatedLogEntry) {
	if len(batch) == 0 || c.closed {
		return
	}
	select {
	case c.batches <- batch:
	default:
		c.dropped.Add(1)
	}
}

func (c *LogCollector) tick() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.config.TimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-c.stop:
			c.mu.Lock()
			c.enqueueLocked(c.takeLocked())
			c.closed = true
			close(c.batches)
			c.mu.Unlock()
			return
		}
	}
}

func (c *LogCollector) ship() {
	defer c.wg.Done()
	for batch := range c.batches {
		if c.config.Publisher == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.config.Publisher.PublishLogs(ctx, c.config.Topic, batch); err != nil {
			c.dropped.Add(1)
		}
		cancel()
	}
}

// Close flushes the remaining entries and waits until they are shipped.
func (c *LogCollector) Close() {
	close(c.stop)
	c.wg.Wait()
}
