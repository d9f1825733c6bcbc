package repository

import (
	"context"
	"errors"
	"time"

	domrepo "FinLearn/internal/domain/repository"
	"FinLearn/pkg/cache"
)

var errLockBusy = errors.New("lock busy")

const (
	lockTTL     = 5 * time.Second
	lockWait    = time.Second
	lockBackoff = 20 * time.Millisecond
)

// withLock runs fn while holding a short cache lock on key.
func withLock(ctx context.Context, c cache.Service, key string, fn func() error) error {
	return holdLock(ctx, c, key, lockTTL, lockWait, func(context.Context) error { return fn() })
}

// holdLock polls TryLock until it wins or wait elapses.
func holdLock(ctx context.Context, c cache.Service, key string, ttl, wait time.Duration, fn func(context.Context) error) error {
	deadline := time.Now().Add(wait)
	for {
		token, ok, err := c.TryLock(ctx, key, ttl)
		if err != nil {
			return err
		}
		if ok {
			defer func() { _ = c.Unlock(context.WithoutCancel(ctx), key, token) }()
			return fn(ctx)
		}
		if !time.Now().Before(deadline) {
			return errLockBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
}

// CacheLocker serializes a critical section across replicas sharing one cache.
type CacheLocker struct {
	c    cache.Service
	ttl  time.Duration
	wait time.Duration
}

// NewCacheLocker holds locks for at most ttl and waits up to wait to take one.
// ttl must outlast the slowest critical section or a second holder can slip in.
func NewCacheLocker(c cache.Service, ttl, wait time.Duration) domrepo.Locker {
	if ttl <= 0 {
		ttl = lockTTL
	}
	if wait <= 0 {
		wait = ttl
	}
	return &CacheLocker{c: c, ttl: ttl, wait: wait}
}

func (l *CacheLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return holdLock(ctx, l.c, cache.GenerateKey("lock", key), l.ttl, l.wait, fn)
}
