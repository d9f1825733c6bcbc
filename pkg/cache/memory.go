package cache

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	key      string
	value    []byte
	expireAt time.Time // zero never expires
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// MemoryCache implements Service in process with LRU eviction.
// It backs single-replica deployments and tests.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	lru        *list.List // front is most recently used
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates the cache and starts expiry sweeping.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         10000,
		CleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	mc := &MemoryCache{
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go mc.sweep(cfg.CleanupInterval)
	}
	return mc
}

func (mc *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = mc.defaultTTL
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return mc.now().Add(ttl)
}

// lookupLocked returns a live entry and marks it used; expired entries are dropped.
func (mc *MemoryCache) lookupLocked(key string) *memoryEntry {
	el, ok := mc.items[key]
	if !ok {
		return nil
	}
	e := el.Value.(*memoryEntry)
	if e.expired(mc.now()) {
		mc.removeLocked(el)
		return nil
	}
	mc.lru.MoveToFront(el)
	return e
}

func (mc *MemoryCache) storeLocked(key string, value []byte, expireAt time.Time) {
	if el, ok := mc.items[key]; ok {
		e := el.Value.(*memoryEntry)
		e.value = value
		e.expireAt = expireAt
		mc.lru.MoveToFront(el)
		return
	}
	for mc.maxSize > 0 && mc.lru.Len() >= mc.maxSize {
		mc.removeLocked(mc.lru.Back())
	}
	mc.items[key] = mc.lru.PushFront(&memoryEntry{key: key, value: value, expireAt: expireAt})
}

func (mc *MemoryCache) removeLocked(el *list.Element) {
	mc.lru.Remove(el)
	delete(mc.items, el.Value.(*memoryEntry).key)
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	// Callers may reuse the slice they passed.
	data = append([]byte(nil), data...)

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.storeLocked(key, data, mc.expiry(expiration))
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	e := mc.lookupLocked(key)
	var data []byte
	if e != nil {
		data = e.value
	}
	mc.mu.Unlock()

	if e == nil {
		return ErrCacheMiss
	}
	return decodeValue(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		if el, ok := mc.items[k]; ok {
			mc.removeLocked(el)
		}
	}
	return nil
}

func (mc *MemoryCache) IncrementTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	e := mc.lookupLocked(key)
	if e == nil {
		mc.storeLocked(key, []byte("1"), mc.expiry(ttl))
		return 1, nil
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.lookupLocked(key) != nil {
		return "", false, nil
	}
	token := uuid.NewString()
	mc.storeLocked(key, []byte(token), mc.expiry(ttl))
	return token, true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key, token string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if el, ok := mc.items[key]; ok && string(el.Value.(*memoryEntry).value) == token {
		mc.removeLocked(el)
	}
	return nil
}

// Len reports the number of stored entries, expired ones included until swept.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.lru.Len()
}

func (mc *MemoryCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-ticker.C:
			mc.purgeExpired()
		}
	}
}

func (mc *MemoryCache) purgeExpired() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := mc.now()
	for el := mc.lru.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*memoryEntry).expired(now) {
			mc.removeLocked(el)
		}
		el = prev
	}
}

// Close stops the sweeper.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() { close(mc.stop) })
	return nil
}
