package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
)

func TestCandlesUseCaseKeepsMostRecent(t *testing.T) {
	var cs []models.Candle
	for i := 0; i < 10; i++ {
		cs = append(cs, models.Candle{Bucket: t0.Add(time.Duration(i) * time.Minute), Close: float64(i)})
	}
	uc := NewCandlesUseCase(&stubCandles{candles: cs})

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{
		Symbol: "BTCUSDT", From: t0, To: t0.Add(time.Hour), Timeframe: "bogus", Limit: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, string(domrepo.TF1m), res.Timeframe)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 7.0, res.Candles[0].Close)
	assert.Equal(t, 9.0, res.Candles[2].Close)
}

func TestCandlesUseCaseValidates(t *testing.T) {
	uc := NewCandlesUseCase(&stubCandles{})
	_, err := uc.GetCandles(context.Background(), GetCandlesParams{From: t0, To: t0})
	assert.Error(t, err)
	_, err = uc.GetCandles(context.Background(), GetCandlesParams{Symbol: "X", From: t0.Add(time.Hour), To: t0})
	assert.Error(t, err)
}
