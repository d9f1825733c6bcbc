// Package risk turns ensemble signals into trade intents under a fixed policy.
package risk

import (
	"math"
	"time"

	"FinLearn/internal/domain/models"
)

// Evaluate applies the policy rules in order; the first violation wins.
// It performs no I/O and does not assign an intent ID.
func Evaluate(sig models.EnsembleSignal, account models.AccountState, policy models.RiskPolicy, now time.Time) models.TradeIntent {
	intent := models.TradeIntent{
		PredictionID: sig.ID,
		Symbol:       sig.Symbol,
		Side:         sig.Signal,
		EntryPrice:   sig.Price,
		Confidence:   sig.Confidence,
		RequestedAt:  now,
	}

	if sig.Signal == models.SignalHold {
		return reject(intent, models.ReasonHold)
	}
	if account.TradesToday >= policy.MaxDailyTrades {
		return reject(intent, models.ReasonDailyLimit)
	}

	notional := PositionSize(account, policy)
	intent.Notional = notional
	if notional < policy.MinOrderNotional || notional <= 0 {
		return reject(intent, models.ReasonBelowMinimum)
	}
	if sig.Price <= 0 || math.IsNaN(sig.Price) {
		return reject(intent, models.ReasonNoReferencePrice)
	}

	intent.StopLoss, intent.TakeProfit = Brackets(sig.Signal, sig.Price, policy)
	intent.Approved = true
	return intent
}

// PositionSize clamps the requested amount to the equity fraction cap.
// A non-positive request asks for the cap itself.
func PositionSize(account models.AccountState, policy models.RiskPolicy) float64 {
	limit := math.Max(0, account.Equity*policy.MaxPositionFraction)
	if account.RequestedAmount <= 0 {
		return limit
	}
	return math.Min(account.RequestedAmount, limit)
}

// Brackets returns stop-loss and take-profit prices for side at entry.
func Brackets(side models.Signal, entry float64, policy models.RiskPolicy) (stopLoss, takeProfit float64) {
	switch side {
	case models.SignalBuy:
		return entry * (1 - policy.StopLossFraction), entry * (1 + policy.TakeProfitFraction)
	case models.SignalSell:
		return entry * (1 + policy.StopLossFraction), entry * (1 - policy.TakeProfitFraction)
	}
	return 0, 0
}

func reject(intent models.TradeIntent, reason string) models.TradeIntent {
	intent.Approved = false
	intent.RejectionReason = reason
	intent.StopLoss, intent.TakeProfit = 0, 0
	return intent
}
