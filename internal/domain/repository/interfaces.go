package repository

import (
	"context"
	"time"

	"FinLearn/internal/domain/models"
)

// FeatureProvider supplies feature vectors for prediction and training.
type FeatureProvider interface {
	GetSnapshot(ctx context.Context, symbol string) (models.FeatureSnapshot, error)
	GetTrainingSet(ctx context.Context, symbol string, lookbackDays int) (*models.TrainingSet, error)
}

// ExchangeConnector places approved intents on an exchange.
type ExchangeConnector interface {
	PlaceOrder(ctx context.Context, intent models.TradeIntent) (models.OrderResult, error)
}

// Clock is injectable wall time.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker the control loop needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// CandleStore provides read-only access to OHLCV candles.
type CandleStore interface {
	GetCandles(ctx context.Context, symbol string, from, to time.Time, tf Timeframe) ([]models.Candle, error)
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Candle, error)
}

// QuoteStream delivers live quotes for the configured symbols.
type QuoteStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.Quote, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SignalPublisher fans engine events out to downstream consumers.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, sig models.EnsembleSignal) error
	PublishIntent(ctx context.Context, intent models.TradeIntent) error
	Close() error
}

// PerformanceSink persists performance samples and resolved predictions.
type PerformanceSink interface {
	StoreSamples(ctx context.Context, samples []models.PerformanceSample) error
	StorePrediction(ctx context.Context, rec models.PredictionRecord) error
	Prune(ctx context.Context, olderThan time.Time) error
}

// ModelStore persists trained model versions.
type ModelStore interface {
	Save(ctx context.Context, v models.ModelVersion) error
	Latest(ctx context.Context, slot models.ModelSlot) (*models.ModelVersion, error)
	Versions(ctx context.Context, slot models.ModelSlot) ([]uint64, error)
	Delete(ctx context.Context, slot models.ModelSlot, versions ...uint64) error
}

// TradeCounter counts executed trades per UTC day.
type TradeCounter interface {
	Today(ctx context.Context, day time.Time) (int, error)
	Increment(ctx context.Context, day time.Time) (int, error)
	Reset(ctx context.Context, day time.Time) error
}

// Locker runs fn while holding the named lock.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Notifier pushes human-readable alerts.
type Notifier interface {
	NotifyTrade(ctx context.Context, res models.ExecutionResult) error
	NotifyTrainingFailure(ctx context.Context, tier int, slot models.ModelSlot, err error) error
}

// Metrics records engine observations.
type Metrics interface {
	RecordPrediction(symbol string, sig models.Signal, confidence float64)
	RecordTraining(slot models.ModelSlot, result string, seconds float64)
	RecordTierState(tier int, inProgress bool)
	RecordAccuracy(subject string, accuracy float64)
	RecordRiskDecision(approved bool, reason string)
	RecordOrder(result string)
	RecordLastPrice(symbol string, price float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

// QuoteStore persists raw quotes; candles are derived from them downstream.
type QuoteStore interface {
	StoreBatch(ctx context.Context, quotes []models.Quote) error
	Health(ctx context.Context) error
}

// PriceSource returns the most recent observed price for a symbol.
type PriceSource interface {
	LastPrice(symbol string) (price float64, at time.Time, ok bool)
}

// TradeLog records executed trades for portfolio reporting.
type TradeLog interface {
	Record(ctx context.Context, rec models.TradeRecord) error
	Close(ctx context.Context, intentID string, exitPrice float64, at time.Time) (*models.TradeRecord, error)
	List(ctx context.Context) ([]models.TradeRecord, error)
}
