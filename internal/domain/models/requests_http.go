package models

// Requests for engine HTTP endpoints. Defined in domain for consistency and reuse.

type SignalRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
}

type OutcomeRequest struct {
	PredictionID string `json:"prediction_id" validate:"required"`
	Outcome      string `json:"outcome" validate:"required,oneof=BUY SELL HOLD buy sell hold"`
}

type TradeRequest struct {
	Symbol string  `json:"symbol"`
	Amount float64 `json:"amount" default:"0" validate:"gte=0"`
	DryRun bool    `json:"dry_run"`
}

type RetrainRequest struct {
	Tier  int  `json:"tier" validate:"required,gte=1,lte=3"`
	Force bool `json:"force"`
}

type TradeCloseRequest struct {
	IntentID  string  `json:"intent_id" validate:"required"`
	ExitPrice float64 `json:"exit_price" validate:"required,gt=0"`
}

type CandlesRequest struct {
	Symbol string `query:"symbol" validate:"required"`
	TF     string `query:"tf" default:"1m" validate:"oneof=1s 1m 5m 1h"`
	From   string `query:"from"`
	To     string `query:"to"`
	Limit  int    `query:"limit" default:"1000" validate:"gte=1,lte=50000"`
}
