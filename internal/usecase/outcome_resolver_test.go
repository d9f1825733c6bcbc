package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	"FinLearn/internal/service/clock"
	"FinLearn/internal/service/quotebook"
	"FinLearn/internal/services/tracker"
)

type stubCandles struct {
	candles []models.Candle
}

func (s *stubCandles) GetCandles(_ context.Context, _ string, from, to time.Time, _ domrepo.Timeframe) ([]models.Candle, error) {
	var out []models.Candle
	for _, c := range s.candles {
		if !c.Bucket.Before(from) && !c.Bucket.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubCandles) GetLatestNCandles(context.Context, string, int, domrepo.Timeframe) ([]models.Candle, error) {
	return s.candles, nil
}

func TestRealizedDirection(t *testing.T) {
	tests := []struct {
		entry, exit float64
		want        models.Signal
	}{
		{100, 101, models.SignalBuy},
		{100, 99, models.SignalSell},
		{100, 100.05, models.SignalHold},
		{100, 99.95, models.SignalHold},
		{0, 120, models.SignalHold},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RealizedDirection(tt.entry, tt.exit, 0.001), "%v -> %v", tt.entry, tt.exit)
	}
}

func TestOutcomeResolverResolvesDuePredictions(t *testing.T) {
	clk := clock.NewFake(t0)
	tr, err := tracker.New(tracker.DefaultConfig(), tracker.WithClock(clk))
	require.NoError(t, err)

	due := tr.LogPrediction(models.EnsembleSignal{ID: "due", Symbol: "BTCUSDT", Signal: models.SignalBuy, Price: 100, GeneratedAt: t0})
	fresh := tr.LogPrediction(models.EnsembleSignal{ID: "fresh", Symbol: "BTCUSDT", Signal: models.SignalBuy, Price: 100, GeneratedAt: t0.Add(50 * time.Minute)})

	candles := &stubCandles{candles: []models.Candle{
		{Bucket: t0.Add(59 * time.Minute), Close: 90},
		{Bucket: t0.Add(time.Hour), Close: 102},
		{Bucket: t0.Add(61 * time.Minute), Close: 80},
	}}
	r := NewOutcomeResolver(tr, candles, nil, domrepo.TF1m, time.Hour, 0.001, clk, nil)

	clk.Advance(65 * time.Minute)
	n, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, _ := tr.Get(due.ID)
	require.True(t, rec.Resolved())
	assert.Equal(t, models.SignalBuy, *rec.Outcome)

	rec, _ = tr.Get(fresh.ID)
	assert.False(t, rec.Resolved())

	// already resolved records are not counted again
	n, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutcomeResolverFallsBackToLiveQuote(t *testing.T) {
	clk := clock.NewFake(t0)
	tr, err := tracker.New(tracker.DefaultConfig(), tracker.WithClock(clk))
	require.NoError(t, err)
	tr.LogPrediction(models.EnsembleSignal{ID: "p", Symbol: "ETHUSDT", Signal: models.SignalBuy, Price: 100, GeneratedAt: t0})

	book := quotebook.New()
	r := NewOutcomeResolver(tr, &stubCandles{}, book, domrepo.TF1m, time.Hour, 0.001, clk, nil)
	clk.Advance(61 * time.Minute)

	n, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "no price observed after the horizon")

	book.Update(models.Quote{Symbol: "ETHUSDT", Price: 97, Time: t0.Add(61 * time.Minute)})
	n, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, _ := tr.Get("p")
	assert.Equal(t, models.SignalSell, *rec.Outcome)
}
