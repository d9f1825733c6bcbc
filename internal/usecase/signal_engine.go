package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	"FinLearn/internal/domain/service"
	"FinLearn/internal/services/risk"
	"FinLearn/pkg/logger"
	"FinLearn/pkg/queue"
)

// livePriceMaxAge bounds how old a streamed quote may be to replace the candle close.
const livePriceMaxAge = 2 * time.Minute

// tradeLockKey names the lock that serializes the daily-limit check with order placement.
const tradeLockKey = "engine:trade"

// MsgTypeRetrain is the queue message type for manual retrain requests.
const MsgTypeRetrain = "engine.retrain"

// RetrainPayload is the queued manual retrain request.
type RetrainPayload struct {
	Tier        int       `json:"tier"`
	Force       bool      `json:"force"`
	RequestedAt time.Time `json:"requested_at"`
}

// StatusProvider is the feedback surface the engine reports on.
type StatusProvider interface {
	Status() models.FeedbackStatus
}

// EngineConfig is the engine's runtime configuration.
type EngineConfig struct {
	Symbol        string
	Equity        float64
	MinConfidence float64
	Policy        models.RiskPolicy
}

// SignalEngine is the facade API handlers and background jobs call into.
type SignalEngine struct {
	cfg EngineConfig

	predictor service.Predictor
	tracker   service.PerformanceTracker
	status    StatusProvider
	features  domrepo.FeatureProvider
	prices    domrepo.PriceSource
	exchange  domrepo.ExchangeConnector
	counter   domrepo.TradeCounter
	trades    domrepo.TradeLog
	publisher domrepo.SignalPublisher
	notifier  domrepo.Notifier
	retrain   queue.QueueService
	metrics   domrepo.Metrics
	clock     domrepo.Clock
	log       *logger.Logger

	// tradeMu and lock keep read count → gate → order → increment atomic,
	// in process and across replicas respectively.
	tradeMu sync.Mutex
	lock    domrepo.Locker
}

// EngineDeps groups the engine collaborators. Prices, Publisher, Notifier,
// Retrain and Lock are optional.
type EngineDeps struct {
	Predictor service.Predictor
	Tracker   service.PerformanceTracker
	Status    StatusProvider
	Features  domrepo.FeatureProvider
	Prices    domrepo.PriceSource
	Exchange  domrepo.ExchangeConnector
	Counter   domrepo.TradeCounter
	Trades    domrepo.TradeLog
	Publisher domrepo.SignalPublisher
	Notifier  domrepo.Notifier
	Retrain   queue.QueueService
	Metrics   domrepo.Metrics
	Clock     domrepo.Clock
	Lock      domrepo.Locker
	Log       *logger.Logger
}

func NewSignalEngine(cfg EngineConfig, d EngineDeps) (*SignalEngine, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Symbol == "" {
		return nil, models.NewConfigurationError("engine.symbol", "is required")
	}
	if d.Predictor == nil || d.Tracker == nil || d.Status == nil || d.Features == nil || d.Clock == nil {
		return nil, errors.New("signal engine: missing required collaborator")
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return &SignalEngine{
		cfg:       cfg,
		predictor: d.Predictor,
		tracker:   d.Tracker,
		status:    d.Status,
		features:  d.Features,
		prices:    d.Prices,
		exchange:  d.Exchange,
		counter:   d.Counter,
		trades:    d.Trades,
		publisher: d.Publisher,
		notifier:  d.Notifier,
		retrain:   d.Retrain,
		metrics:   d.Metrics,
		clock:     d.Clock,
		log:       d.Log,
		lock:      d.Lock,
	}, nil
}

// Symbol is the engine's default symbol.
func (e *SignalEngine) Symbol() string { return e.cfg.Symbol }

// GetCurrentSignal predicts on the latest snapshot and logs the prediction for feedback.
func (e *SignalEngine) GetCurrentSignal(ctx context.Context, symbol string) (*models.EnsembleSignal, error) {
	start := time.Now()
	if symbol == "" {
		symbol = e.cfg.Symbol
	}
	snap, err := e.features.GetSnapshot(ctx, symbol)
	if err != nil {
		e.recordError("snapshot")
		return nil, fmt.Errorf("feature snapshot: %w", err)
	}
	sig, err := e.predictor.Predict(snap)
	if err != nil {
		if !models.IsPredictionError(err) {
			e.recordError("predict")
		}
		return nil, err
	}
	sig.Symbol = symbol
	if e.prices != nil {
		if p, at, ok := e.prices.LastPrice(symbol); ok && e.clock.Now().Sub(at) <= livePriceMaxAge {
			sig.Price = p
		}
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	rec := e.tracker.LogPrediction(*sig)
	fresh := rec.ID == sig.ID
	sig.ID = rec.ID

	if e.metrics != nil {
		e.metrics.RecordLatency("predict", time.Since(start).Seconds())
	}
	if !fresh {
		return sig, nil
	}
	if e.publisher != nil {
		if err := e.publisher.PublishSignal(ctx, *sig); err != nil {
			e.recordError("publish_signal")
			e.log.Warn("publish signal failed", logger.String("id", sig.ID), logger.Error(err))
		}
	}
	e.log.Info("signal generated",
		logger.String("id", sig.ID),
		logger.String("symbol", symbol),
		logger.String("signal", string(sig.Signal)),
		logger.Float64("score", sig.Score),
		logger.Float64("confidence", sig.Confidence),
		logger.Int("votes", len(sig.Votes)),
	)
	return sig, nil
}

// GetFeedbackStatus returns the feedback loop snapshot.
func (e *SignalEngine) GetFeedbackStatus() models.FeedbackStatus {
	return e.status.Status()
}

// SubmitOutcome attaches a realized outcome; it reports false when the prediction was already resolved.
func (e *SignalEngine) SubmitOutcome(_ context.Context, predictionID, outcome string) (bool, error) {
	sig, err := models.ParseSignal(outcome)
	if err != nil {
		return false, err
	}
	return e.tracker.SubmitOutcome(strings.TrimSpace(predictionID), sig)
}

// ExecuteSignal runs predict → confidence check → risk gate → order → bookkeeping.
// With dryRun the gate decision is returned without placing an order.
// Concurrent calls are serialized from the trade count read to its increment,
// so the daily limit holds under parallel requests.
func (e *SignalEngine) ExecuteSignal(ctx context.Context, symbol string, amount float64, dryRun bool) (*models.ExecutionResult, error) {
	sig, err := e.GetCurrentSignal(ctx, symbol)
	if err != nil {
		return nil, err
	}
	var res *models.ExecutionResult
	err = e.serializeTrades(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.execute(ctx, sig, amount, dryRun)
		return err
	})
	return res, err
}

func (e *SignalEngine) serializeTrades(ctx context.Context, fn func(ctx context.Context) error) error {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()
	if e.lock == nil {
		return fn(ctx)
	}
	return e.lock.WithLock(ctx, tradeLockKey, fn)
}

func (e *SignalEngine) execute(ctx context.Context, sig *models.EnsembleSignal, amount float64, dryRun bool) (*models.ExecutionResult, error) {
	var err error
	now := e.clock.Now()

	tradesToday := 0
	if e.counter != nil {
		if tradesToday, err = e.counter.Today(ctx, now); err != nil {
			return nil, fmt.Errorf("read trade counter: %w", err)
		}
	}
	account := models.AccountState{Equity: e.cfg.Equity, TradesToday: tradesToday, RequestedAmount: amount}
	intent := risk.Evaluate(*sig, account, e.cfg.Policy, now)
	if intent.Approved && sig.Confidence < e.cfg.MinConfidence {
		intent.Approved = false
		intent.StopLoss, intent.TakeProfit = 0, 0
		intent.RejectionReason = models.ReasonLowConfidence
	}
	intent.ID = uuid.NewString()
	if e.metrics != nil {
		e.metrics.RecordRiskDecision(intent.Approved, intent.RejectionReason)
	}

	res := &models.ExecutionResult{Signal: *sig, Intent: intent}
	if !intent.Approved || dryRun {
		e.log.Info("trade not executed",
			logger.String("intent_id", intent.ID),
			logger.Bool("approved", intent.Approved),
			logger.Bool("dry_run", dryRun),
			logger.String("reason", intent.RejectionReason),
		)
		if !intent.Approved {
			e.notify(ctx, *res)
		}
		return res, nil
	}
	if e.exchange == nil {
		return nil, errors.New("no exchange connector configured")
	}

	order, err := e.exchange.PlaceOrder(ctx, intent)
	if err != nil {
		e.recordOrder("error")
		return nil, fmt.Errorf("place order: %w", err)
	}
	res.Order = &order
	if !order.Success {
		e.recordOrder("failed")
		e.log.Warn("order failed", logger.String("intent_id", intent.ID), logger.String("error", order.Error))
		e.notify(ctx, *res)
		return res, nil
	}
	e.recordOrder("filled")

	if e.counter != nil {
		if _, err := e.counter.Increment(ctx, now); err != nil {
			e.recordError("trade_counter")
			e.log.Error("trade counter increment failed", logger.Error(err))
		}
	}
	if e.trades != nil {
		if err := e.trades.Record(ctx, models.TradeRecord{Intent: intent, Result: order}); err != nil {
			e.recordError("trade_log")
			e.log.Error("trade log record failed", logger.Error(err))
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishIntent(ctx, intent); err != nil {
			e.recordError("publish_intent")
			e.log.Warn("publish intent failed", logger.String("intent_id", intent.ID), logger.Error(err))
		}
	}
	e.notify(ctx, *res)
	return res, nil
}

// RequestRetrain enqueues a manual retrain of tier.
func (e *SignalEngine) RequestRetrain(ctx context.Context, tier int, force bool) error {
	if tier < 1 || tier > 3 {
		return fmt.Errorf("%w: unknown tier %d", models.ErrInvalidInput, tier)
	}
	if e.retrain == nil {
		return errors.New("retrain queue not configured")
	}
	payload := RetrainPayload{Tier: tier, Force: force, RequestedAt: e.clock.Now()}
	if err := e.retrain.PublishMessage(ctx, MsgTypeRetrain, payload); err != nil {
		return fmt.Errorf("enqueue retrain: %w", err)
	}
	e.log.Info("retrain enqueued", logger.Int("tier", tier), logger.Bool("force", force))
	return nil
}

// PortfolioPerformance aggregates realized P&L over closed trades.
func (e *SignalEngine) PortfolioPerformance(ctx context.Context) (models.PortfolioPerformance, error) {
	if e.trades == nil {
		return models.PortfolioPerformance{}, nil
	}
	recs, err := e.trades.List(ctx)
	if err != nil {
		return models.PortfolioPerformance{}, err
	}
	return Summarize(recs), nil
}

// CloseTrade realizes P&L on an open trade.
func (e *SignalEngine) CloseTrade(ctx context.Context, intentID string, exitPrice float64) (*models.TradeRecord, error) {
	if e.trades == nil {
		return nil, errors.New("trade log not configured")
	}
	return e.trades.Close(ctx, intentID, exitPrice, e.clock.Now())
}

// Summarize computes portfolio statistics; win rate is over closed trades.
func Summarize(recs []models.TradeRecord) models.PortfolioPerformance {
	p := models.PortfolioPerformance{TotalTrades: len(recs)}
	for _, r := range recs {
		if !r.Closed {
			continue
		}
		p.ClosedTrades++
		p.TotalPnL += r.PnL
		switch {
		case r.PnL > 0:
			p.Wins++
		case r.PnL < 0:
			p.Losses++
		}
	}
	if p.ClosedTrades > 0 {
		p.WinRate = float64(p.Wins) / float64(p.ClosedTrades)
	}
	return p
}

func (e *SignalEngine) notify(ctx context.Context, res models.ExecutionResult) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyTrade(ctx, res); err != nil {
		e.log.Warn("trade notification failed", logger.Error(err))
	}
}

func (e *SignalEngine) recordOrder(result string) {
	if e.metrics != nil {
		e.metrics.RecordOrder(result)
	}
}

func (e *SignalEngine) recordError(kind string) {
	if e.metrics != nil {
		e.metrics.RecordError(kind)
	}
}
