package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	"FinLearn/internal/services/features"
	"FinLearn/pkg/cache"
	applogger "FinLearn/pkg/logger"
	xutil "FinLearn/pkg/util"
)

// snapshotHistory is how many candles GetSnapshot pulls; it must exceed the indicator warmup.
const snapshotHistory = features.Warmup + 50

// CandleFeatureProvider builds feature snapshots and training sets from stored candles.
type CandleFeatureProvider struct {
	store domrepo.CandleStore
	tf    domrepo.Timeframe
	clock domrepo.Clock
	cache cache.Service
	l     *applogger.Logger
}

// NewCandleFeatureProvider creates a provider over store. c may be nil to disable snapshot caching.
func NewCandleFeatureProvider(store domrepo.CandleStore, tf domrepo.Timeframe, clock domrepo.Clock, c cache.Service, l *applogger.Logger) *CandleFeatureProvider {
	if l == nil {
		l = applogger.Nop()
	}
	return &CandleFeatureProvider{store: store, tf: tf, clock: clock, cache: c, l: l}
}

func (p *CandleFeatureProvider) GetSnapshot(ctx context.Context, symbol string) (models.FeatureSnapshot, error) {
	key := cache.GenerateKeyWithParams("features", symbol, string(p.tf))
	if p.cache != nil {
		var snap models.FeatureSnapshot
		if err := p.cache.Get(ctx, key, &snap); err == nil && len(snap.Values) > 0 {
			return snap, nil
		} else if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			p.l.Warn("feature cache read failed", applogger.String("key", key), applogger.Error(err))
		}
	}

	candles, err := p.store.GetLatestNCandles(ctx, symbol, snapshotHistory, p.tf)
	if err != nil {
		return models.FeatureSnapshot{}, fmt.Errorf("load candles: %w", err)
	}
	snap, err := features.Latest(symbol, candles)
	if err != nil {
		return models.FeatureSnapshot{}, err
	}

	if p.cache != nil {
		// a snapshot is valid until the next bucket closes
		ttl := p.tf.Duration() / 2
		if err := p.cache.Set(ctx, key, snap, ttl); err != nil {
			p.l.Warn("feature cache write failed", applogger.String("key", key), applogger.Error(err))
		}
	}
	return snap, nil
}

func (p *CandleFeatureProvider) GetTrainingSet(ctx context.Context, symbol string, lookbackDays int) (*models.TrainingSet, error) {
	start := time.Now()
	now := p.clock.Now()
	from, to := xutil.AlignFromTo(now.Add(-time.Duration(lookbackDays)*24*time.Hour), now, string(p.tf))

	candles, err := p.store.GetCandles(ctx, symbol, from, to, p.tf)
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	set, err := features.BuildTrainingSet(symbol, candles, now)
	if err != nil {
		return nil, err
	}
	p.l.Info("training set built",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(p.tf)),
		applogger.Int("candles", len(candles)),
		applogger.Int("samples", set.Len()),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return set, nil
}
