package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
)

const (
	defaultCandleLimit = 1000
	maxCandleLimit     = 50000
)

// CandlesUseCase exposes the stored candle history the features are built from.
type CandlesUseCase struct {
	store domrepo.CandleStore
}

func NewCandlesUseCase(store domrepo.CandleStore) *CandlesUseCase {
	return &CandlesUseCase{store: store}
}

type GetCandlesParams struct {
	Symbol    string
	From, To  time.Time
	Timeframe domrepo.Timeframe
	Limit     int // most recent candles kept; 0 means default
}

func (p *GetCandlesParams) normalize() error {
	if p.Symbol == "" {
		return errors.New("symbol required")
	}
	if p.To.Before(p.From) {
		return errors.New("from must be <= to")
	}
	if !p.Timeframe.Valid() {
		p.Timeframe = domrepo.DefaultTimeframe()
	}
	switch {
	case p.Limit <= 0:
		p.Limit = defaultCandleLimit
	case p.Limit > maxCandleLimit:
		p.Limit = maxCandleLimit
	}
	return nil
}

type GetCandlesResult struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Count     int             `json:"count"`
	Candles   []models.Candle `json:"candles"`
}

// GetCandles returns the newest Limit candles of [From, To] in ascending order.
func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	cs, err := uc.store.GetCandles(ctx, p.Symbol, p.From, p.To, p.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	if extra := len(cs) - p.Limit; extra > 0 {
		cs = cs[extra:]
	}
	return &GetCandlesResult{
		Symbol:    p.Symbol,
		Timeframe: string(p.Timeframe),
		From:      p.From,
		To:        p.To,
		Count:     len(cs),
		Candles:   cs,
	}, nil
}
