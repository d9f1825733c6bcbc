package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss  = errors.New("cache: key not found")
	ErrNotInteger = errors.New("cache: value is not an integer")
)

// Service is the key/value surface the engine stores models, counters and
// trade logs in. RedisCache shares it across replicas; MemoryCache serves a
// single process.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error

	// IncrementTTL increments key and, when it was just created, sets its TTL
	// in the same round trip.
	IncrementTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TryLock takes key for ttl and returns an owner token for Unlock.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Unlock releases key only while token still owns it.
	Unlock(ctx context.Context, key, token string) error

	Close() error
}
