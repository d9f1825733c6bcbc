package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	xhttp "FinLearn/pkg/http"
)

// HTTPExchange places intents through a broker REST gateway.
// The gateway owns credentials and the exchange wire protocol.
type HTTPExchange struct {
	baseURL string
	apiKey  string
	client  *xhttp.Client
}

// NewHTTPExchange builds an exchange connector against baseURL.
func NewHTTPExchange(baseURL, apiKey string, timeout time.Duration, attempts int) domrepo.ExchangeConnector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if attempts < 1 {
		attempts = 1
	}
	return &HTTPExchange{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout), xhttp.WithRetry(attempts, 100*time.Millisecond)),
	}
}

type orderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Notional      float64 `json:"notional"`
	Quantity      float64 `json:"quantity"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
}

type orderResponse struct {
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
	FillPrice float64 `json:"fill_price"`
	FilledAt  int64   `json:"filled_at"`
	Error     string  `json:"error"`
}

// PlaceOrder submits the intent. The intent ID doubles as the client order id
// so a retried request cannot open a second position.
func (x *HTTPExchange) PlaceOrder(ctx context.Context, intent models.TradeIntent) (models.OrderResult, error) {
	if !intent.Approved {
		return models.OrderResult{Error: "intent not approved"}, nil
	}
	if x.baseURL == "" {
		return models.OrderResult{}, errors.New("exchange gateway url not configured")
	}
	req := orderRequest{
		ClientOrderID: intent.ID,
		Symbol:        intent.Symbol,
		Side:          strings.ToLower(string(intent.Side)),
		Notional:      intent.Notional,
		Quantity:      intent.Quantity(),
		StopLoss:      intent.StopLoss,
		TakeProfit:    intent.TakeProfit,
	}
	var resp orderResponse
	if err := x.post(ctx, "/orders", req, &resp); err != nil {
		return models.OrderResult{}, fmt.Errorf("place order: %w", err)
	}

	res := models.OrderResult{
		OrderID:   resp.OrderID,
		FillPrice: resp.FillPrice,
		Error:     resp.Error,
	}
	switch strings.ToLower(resp.Status) {
	case "filled", "partially_filled", "accepted", "new":
		res.Success = resp.Error == ""
	}
	if resp.FilledAt > 0 {
		res.FilledAt = time.UnixMilli(resp.FilledAt).UTC()
	}
	if !res.Success && res.Error == "" {
		res.Error = "order status " + resp.Status
	}
	return res, nil
}

// post retries only transport errors, 429 and 5xx; a 4xx rejection is final.
func (x *HTTPExchange) post(ctx context.Context, path string, payload, dest interface{}) error {
	headers := map[string]string{}
	if x.apiKey != "" {
		headers["X-API-Key"] = x.apiKey
	}
	return x.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     x.baseURL + path,
		Headers: headers,
		Body:    payload,
	}, dest)
}
