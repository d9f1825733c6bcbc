package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinLearn/internal/domain/models"
	"FinLearn/internal/usecase"
	"FinLearn/pkg/cache"
)

type fakeEngine struct {
	sigErr     error
	outcomeErr error
	applied    bool
	retrained  []int
	closeErr   error
	lastAmount float64
}

func (f *fakeEngine) Symbol() string { return "BTCUSDT" }

func (f *fakeEngine) GetCurrentSignal(_ context.Context, symbol string) (*models.EnsembleSignal, error) {
	if f.sigErr != nil {
		return nil, f.sigErr
	}
	if symbol == "" {
		symbol = f.Symbol()
	}
	return &models.EnsembleSignal{ID: "p-1", Symbol: symbol, Signal: models.SignalBuy, Score: 0.7, Confidence: 0.4}, nil
}

func (f *fakeEngine) GetFeedbackStatus() models.FeedbackStatus {
	return models.FeedbackStatus{PredictionLogSize: 3}
}

func (f *fakeEngine) SubmitOutcome(_ context.Context, id, outcome string) (bool, error) {
	if f.outcomeErr != nil {
		return false, f.outcomeErr
	}
	if _, err := models.ParseSignal(outcome); err != nil {
		return false, err
	}
	return f.applied, nil
}

func (f *fakeEngine) ExecuteSignal(_ context.Context, symbol string, amount float64, dryRun bool) (*models.ExecutionResult, error) {
	f.lastAmount = amount
	return &models.ExecutionResult{Intent: models.TradeIntent{ID: "i-1", Symbol: symbol, Approved: !dryRun}}, nil
}

func (f *fakeEngine) RequestRetrain(_ context.Context, tier int, _ bool) error {
	f.retrained = append(f.retrained, tier)
	return nil
}

func (f *fakeEngine) PortfolioPerformance(context.Context) (models.PortfolioPerformance, error) {
	return models.PortfolioPerformance{TotalTrades: 2, Wins: 1, WinRate: 1}, nil
}

func (f *fakeEngine) CloseTrade(_ context.Context, id string, exit float64) (*models.TradeRecord, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return &models.TradeRecord{Intent: models.TradeIntent{ID: id}, ExitPrice: exit, Closed: true}, nil
}

type countingCandles struct {
	calls int
	last  usecase.GetCandlesParams
}

func (c *countingCandles) GetCandles(_ context.Context, p usecase.GetCandlesParams) (*usecase.GetCandlesResult, error) {
	c.calls++
	c.last = p
	return &usecase.GetCandlesResult{Symbol: p.Symbol, Timeframe: string(p.Timeframe), Count: 1,
		Candles: []models.Candle{{Symbol: p.Symbol, Close: 42}}}, nil
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(eng Engine, candles CandleReader) (*echo.Echo, *EngineHandler) {
	e := echo.New()
	h := NewEngineHandler(nil, eng, candles)
	h.RegisterRoutes(e)
	return e, h
}

func do(t *testing.T, e *echo.Echo, method, target, body string) envelope {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestSignalEndpoint(t *testing.T) {
	e, _ := newTestServer(&fakeEngine{}, nil)

	env := do(t, e, http.MethodGet, "/api/signal?symbol=ETHUSDT", "")
	assert.Equal(t, http.StatusOK, env.Status)
	var sig models.EnsembleSignal
	require.NoError(t, json.Unmarshal(env.Data, &sig))
	assert.Equal(t, "ETHUSDT", sig.Symbol)
	assert.Equal(t, models.SignalBuy, sig.Signal)
}

func TestSignalEndpointModelNotReady(t *testing.T) {
	e, _ := newTestServer(&fakeEngine{sigErr: models.ErrPredictionNotReady}, nil)

	env := do(t, e, http.MethodGet, "/api/signal", "")
	assert.Equal(t, http.StatusServiceUnavailable, env.Status)
	assert.Contains(t, string(env.Data), "ERR_MODEL_NOT_READY")
}

func TestOutcomeEndpoint(t *testing.T) {
	eng := &fakeEngine{applied: true}
	e, _ := newTestServer(eng, nil)

	env := do(t, e, http.MethodPost, "/api/outcomes", `{"prediction_id":"p-1","outcome":"SELL"}`)
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Contains(t, string(env.Data), `"applied":true`)

	env = do(t, e, http.MethodPost, "/api/outcomes", `{"prediction_id":"p-1","outcome":"UP"}`)
	assert.Equal(t, http.StatusBadRequest, env.Status)

	env = do(t, e, http.MethodPost, "/api/outcomes", `{"outcome":"BUY"}`)
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Contains(t, string(env.Data), "ERR_REQUIRED")

	eng.outcomeErr = fmt.Errorf("%w: p-9", models.ErrUnknownPrediction)
	env = do(t, e, http.MethodPost, "/api/outcomes", `{"prediction_id":"p-9","outcome":"BUY"}`)
	assert.Equal(t, http.StatusNotFound, env.Status)
}

func TestRetrainEndpoint(t *testing.T) {
	eng := &fakeEngine{}
	e, _ := newTestServer(eng, nil)

	env := do(t, e, http.MethodPost, "/api/feedback/retrain", `{"tier":2}`)
	assert.Equal(t, http.StatusAccepted, env.Status)
	assert.Equal(t, []int{2}, eng.retrained)

	env = do(t, e, http.MethodPost, "/api/feedback/retrain", `{"tier":7}`)
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Len(t, eng.retrained, 1)
}

func TestTradeEndpointRateLimited(t *testing.T) {
	eng := &fakeEngine{}
	e, _ := newTestServer(eng, nil)

	for i := 0; i < 5; i++ {
		env := do(t, e, http.MethodPost, "/api/trade", `{"symbol":"BTCUSDT","amount":250,"dry_run":true}`)
		require.Equal(t, http.StatusOK, env.Status, "request %d", i+1)
	}
	assert.Equal(t, 250.0, eng.lastAmount)
	env := do(t, e, http.MethodPost, "/api/trade", `{"symbol":"BTCUSDT"}`)
	assert.Equal(t, http.StatusTooManyRequests, env.Status)

	env = do(t, e, http.MethodGet, "/api/portfolio/performance", "")
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Contains(t, string(env.Data), `"total_trades":2`)
}

func TestCloseTradeEndpoint(t *testing.T) {
	eng := &fakeEngine{}
	e, _ := newTestServer(eng, nil)

	env := do(t, e, http.MethodPost, "/api/trades/close", `{"intent_id":"i-1","exit_price":101.5}`)
	assert.Equal(t, http.StatusOK, env.Status)

	env = do(t, e, http.MethodPost, "/api/trades/close", `{"intent_id":"i-1","exit_price":0}`)
	assert.Equal(t, http.StatusBadRequest, env.Status)

	eng.closeErr = fmt.Errorf("%w: i-2", models.ErrTradeNotFound)
	env = do(t, e, http.MethodPost, "/api/trades/close", `{"intent_id":"i-2","exit_price":10}`)
	assert.Equal(t, http.StatusNotFound, env.Status)
}

func TestCandlesEndpointCaches(t *testing.T) {
	candles := &countingCandles{}
	e, h := newTestServer(&fakeEngine{}, candles)
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	h.SetCache(mc)
	h.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }

	target := "/api/candles?symbol=BTCUSDT&tf=1h&limit=10"
	env := do(t, e, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, env.Status)
	env = do(t, e, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, 1, candles.calls)
	assert.Contains(t, string(env.Data), `"close":42`)

	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), candles.last.To)
	assert.Equal(t, time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC), candles.last.From)
	assert.Equal(t, 10, candles.last.Limit)

	env = do(t, e, http.MethodGet, "/api/candles?tf=1h", "")
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestFeedbackStatusEndpoint(t *testing.T) {
	e, _ := newTestServer(&fakeEngine{}, nil)
	env := do(t, e, http.MethodGet, "/api/feedback/status", "")
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Contains(t, string(env.Data), `"prediction_log_size":3`)
}
