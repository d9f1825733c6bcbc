package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	"FinLearn/pkg/cache"
)

const (
	tradeLogKey  = "tradelog:records"
	tradeLogLock = "tradelog:lock"
)

// CacheTradeLog stores executed trades as a single JSON document guarded by a cache lock.
type CacheTradeLog struct {
	c cache.Service
}

// NewCacheTradeLog creates a trade log on c.
func NewCacheTradeLog(c cache.Service) domrepo.TradeLog {
	return &CacheTradeLog{c: c}
}

func (l *CacheTradeLog) Record(ctx context.Context, rec models.TradeRecord) error {
	return withLock(ctx, l.c, tradeLogLock, func() error {
		recs, err := l.load(ctx)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
		return l.c.Set(ctx, tradeLogKey, recs, 0)
	})
}

// Close realizes P&L for an open trade. Closing twice returns the stored record unchanged.
func (l *CacheTradeLog) Close(ctx context.Context, intentID string, exitPrice float64, at time.Time) (*models.TradeRecord, error) {
	var out *models.TradeRecord
	err := withLock(ctx, l.c, tradeLogLock, func() error {
		recs, err := l.load(ctx)
		if err != nil {
			return err
		}
		for i := range recs {
			r := &recs[i]
			if r.Intent.ID != intentID {
				continue
			}
			if r.Closed {
				cp := *r
				out = &cp
				return nil
			}
			r.ExitPrice = exitPrice
			r.PnL = RealizedPnL(*r, exitPrice)
			r.Closed = true
			closedAt := at.UTC()
			r.ClosedAt = &closedAt
			cp := *r
			out = &cp
			return l.c.Set(ctx, tradeLogKey, recs, 0)
		}
		return fmt.Errorf("%w: %s", models.ErrTradeNotFound, intentID)
	})
	return out, err
}

func (l *CacheTradeLog) List(ctx context.Context) ([]models.TradeRecord, error) {
	return l.load(ctx)
}

func (l *CacheTradeLog) load(ctx context.Context) ([]models.TradeRecord, error) {
	var recs []models.TradeRecord
	err := l.c.Get(ctx, tradeLogKey, &recs)
	if errors.Is(err, cache.ErrCacheMiss) {
		return []models.TradeRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load trade log: %w", err)
	}
	return recs, nil
}

// RealizedPnL is the signed profit of closing rec at exit.
func RealizedPnL(rec models.TradeRecord, exit float64) float64 {
	entry := rec.Result.FillPrice
	if entry <= 0 {
		entry = rec.Intent.EntryPrice
	}
	if entry <= 0 {
		return 0
	}
	qty := rec.Intent.Notional / entry
	switch rec.Intent.Side {
	case models.SignalBuy:
		return (exit - entry) * qty
	case models.SignalSell:
		return (entry - exit) * qty
	default:
		return 0
	}
}
