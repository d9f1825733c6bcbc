package usecase

import (
	"context"
	"time"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	"FinLearn/internal/domain/service"
	"FinLearn/pkg/logger"
)

// OutcomeResolver labels logged predictions from realized prices once their horizon has passed.
type OutcomeResolver struct {
	tracker  service.PerformanceTracker
	candles  domrepo.CandleStore
	prices   domrepo.PriceSource
	tf       domrepo.Timeframe
	horizon  time.Duration
	deadband float64
	clock    domrepo.Clock
	log      *logger.Logger
}

func NewOutcomeResolver(
	tracker service.PerformanceTracker,
	candles domrepo.CandleStore,
	prices domrepo.PriceSource,
	tf domrepo.Timeframe,
	horizon time.Duration,
	deadband float64,
	clock domrepo.Clock,
	log *logger.Logger,
) *OutcomeResolver {
	if log == nil {
		log = logger.Nop()
	}
	return &OutcomeResolver{
		tracker:  tracker,
		candles:  candles,
		prices:   prices,
		tf:       tf,
		horizon:  horizon,
		deadband: deadband,
		clock:    clock,
		log:      log,
	}
}

// RealizedDirection maps a price move onto the signal that would have been correct.
func RealizedDirection(entry, exit, deadband float64) models.Signal {
	if entry <= 0 {
		return models.SignalHold
	}
	ret := (exit - entry) / entry
	switch {
	case ret > deadband:
		return models.SignalBuy
	case ret < -deadband:
		return models.SignalSell
	default:
		return models.SignalHold
	}
}

// Resolve submits outcomes for every due prediction and returns how many were resolved.
func (r *OutcomeResolver) Resolve(ctx context.Context) (int, error) {
	now := r.clock.Now()
	due := r.tracker.Unresolved(now.Add(-r.horizon))
	resolved := 0
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		if rec.Signal.Price <= 0 {
			continue
		}
		exit, ok := r.priceAt(ctx, rec.Signal.Symbol, rec.GeneratedAt.Add(r.horizon), now)
		if !ok {
			continue
		}
		outcome := RealizedDirection(rec.Signal.Price, exit, r.deadband)
		applied, err := r.tracker.SubmitOutcome(rec.ID, outcome)
		if err != nil {
			r.log.Warn("outcome submit failed", logger.String("id", rec.ID), logger.Error(err))
			continue
		}
		if applied {
			resolved++
		}
	}
	if resolved > 0 {
		r.log.Info("outcomes resolved",
			logger.Int("resolved", resolved),
			logger.Int("due", len(due)),
		)
	}
	return resolved, nil
}

// priceAt prefers the first candle close at or after target and falls back to a fresh live quote.
func (r *OutcomeResolver) priceAt(ctx context.Context, symbol string, target, now time.Time) (float64, bool) {
	if r.candles != nil {
		candles, err := r.candles.GetCandles(ctx, symbol, target, target.Add(r.horizon), r.tf)
		if err != nil {
			r.log.Warn("outcome candle lookup failed", logger.String("symbol", symbol), logger.Error(err))
		} else {
			for _, c := range candles {
				if !c.Bucket.Before(target) && c.Close > 0 {
					return c.Close, true
				}
			}
		}
	}
	if r.prices != nil {
		if p, at, ok := r.prices.LastPrice(symbol); ok && !at.Before(target) && now.Sub(at) <= r.horizon {
			return p, true
		}
	}
	return 0, false
}
