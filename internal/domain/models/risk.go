package models

import "time"

// Rejection reasons emitted by the risk gate.
const (
	ReasonHold             = "HOLD signal"
	ReasonDailyLimit       = "daily limit reached"
	ReasonBelowMinimum     = "below minimum order size"
	ReasonLowConfidence    = "confidence below threshold"
	ReasonNoReferencePrice = "no reference price"
)

// RiskPolicy is immutable risk configuration read by the gate.
type RiskPolicy struct {
	MaxPositionFraction float64 `json:"max_position_fraction" yaml:"max_position_fraction" default:"0.1" validate:"gt=0,lte=1"`
	StopLossFraction    float64 `json:"stop_loss_fraction" yaml:"stop_loss_fraction" default:"0.05" validate:"gt=0,lt=1"`
	TakeProfitFraction  float64 `json:"take_profit_fraction" yaml:"take_profit_fraction" default:"0.15" validate:"gt=0"`
	MaxDailyTrades      int     `json:"max_daily_trades" yaml:"max_daily_trades" default:"5" validate:"gte=1"`
	MinOrderNotional    float64 `json:"min_order_notional" yaml:"min_order_notional" default:"10" validate:"gte=0"`
}

// DefaultRiskPolicy returns the stock policy.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		MaxPositionFraction: 0.1,
		StopLossFraction:    0.05,
		TakeProfitFraction:  0.15,
		MaxDailyTrades:      5,
		MinOrderNotional:    10,
	}
}

// Validate rejects policies that cannot produce sane orders.
func (p RiskPolicy) Validate() error {
	switch {
	case p.MaxPositionFraction <= 0 || p.MaxPositionFraction > 1:
		return NewConfigurationError("risk.max_position_fraction", "must be in (0, 1]")
	case p.StopLossFraction <= 0 || p.StopLossFraction >= 1:
		return NewConfigurationError("risk.stop_loss_fraction", "must be in (0, 1)")
	case p.TakeProfitFraction <= 0:
		return NewConfigurationError("risk.take_profit_fraction", "must be positive")
	case p.MaxDailyTrades < 1:
		return NewConfigurationError("risk.max_daily_trades", "must be at least 1")
	case p.MinOrderNotional < 0:
		return NewConfigurationError("risk.min_order_notional", "must not be negative")
	}
	return nil
}

// AccountState is the account snapshot the gate evaluates against.
type AccountState struct {
	Equity          float64 `json:"equity"`
	TradesToday     int     `json:"trades_today"`
	RequestedAmount float64 `json:"requested_amount"`
}

// TradeIntent is the gate's decision, approved or not.
type TradeIntent struct {
	ID              string    `json:"id"`
	PredictionID    string    `json:"prediction_id,omitempty"`
	Symbol          string    `json:"symbol"`
	Side            Signal    `json:"side"`
	Notional        float64   `json:"notional"`
	EntryPrice      float64   `json:"entry_price"`
	StopLoss        float64   `json:"stop_loss,omitempty"`
	TakeProfit      float64   `json:"take_profit,omitempty"`
	Confidence      float64   `json:"confidence"`
	RequestedAt     time.Time `json:"requested_at"`
	Approved        bool      `json:"approved"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
}

// Quantity returns the base-asset size implied by the notional.
func (t TradeIntent) Quantity() float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	return t.Notional / t.EntryPrice
}

// OrderResult is returned by the exchange collaborator.
type OrderResult struct {
	OrderID   string    `json:"order_id"`
	Success   bool      `json:"success"`
	FillPrice float64   `json:"fill_price"`
	FilledAt  time.Time `json:"filled_at"`
	Error     string    `json:"error,omitempty"`
}

// TradeRecord is an executed intent and, once closed, its realized P&L.
type TradeRecord struct {
	Intent    TradeIntent `json:"intent"`
	Result    OrderResult `json:"result"`
	ExitPrice float64     `json:"exit_price,omitempty"`
	PnL       float64     `json:"pnl"`
	Closed    bool        `json:"closed"`
	ClosedAt  *time.Time  `json:"closed_at,omitempty"`
}

// PortfolioPerformance aggregates closed trades.
type PortfolioPerformance struct {
	TotalTrades  int     `json:"total_trades"`
	ClosedTrades int     `json:"closed_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
}

// ExecutionResult is what the trading use case returns for one signal.
type ExecutionResult struct {
	Signal EnsembleSignal `json:"signal"`
	Intent TradeIntent    `json:"intent"`
	Order  *OrderResult   `json:"order,omitempty"`
}
