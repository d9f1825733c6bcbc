package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	domrepo "FinLearn/internal/domain/repository"
	"FinLearn/pkg/cache"
)

// counterTTL keeps yesterday's counter around for reporting after the UTC rollover.
const counterTTL = 48 * time.Hour

// CacheTradeCounter counts trades per UTC day with atomic cache increments, shared across replicas.
type CacheTradeCounter struct {
	c cache.Service
}

// NewCacheTradeCounter creates a counter on c.
func NewCacheTradeCounter(c cache.Service) domrepo.TradeCounter {
	return &CacheTradeCounter{c: c}
}

func dayKey(day time.Time) string {
	return cache.GenerateKey("trades", day.UTC().Format("2006-01-02"))
}

func (t *CacheTradeCounter) Today(ctx context.Context, day time.Time) (int, error) {
	var raw string
	err := t.c.Get(ctx, dayKey(day), &raw)
	if errors.Is(err, cache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read trade counter: %w", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse trade counter %q: %w", raw, err)
	}
	return n, nil
}

func (t *CacheTradeCounter) Increment(ctx context.Context, day time.Time) (int, error) {
	n, err := t.c.IncrementTTL(ctx, dayKey(day), counterTTL)
	if err != nil {
		return 0, fmt.Errorf("increment trade counter: %w", err)
	}
	return int(n), nil
}

func (t *CacheTradeCounter) Reset(ctx context.Context, day time.Time) error {
	return t.c.Delete(ctx, dayKey(day))
}
