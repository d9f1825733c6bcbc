package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	"FinLearn/internal/service/metrics"
	"FinLearn/internal/service/ratelimit"
	"FinLearn/internal/usecase"
	"FinLearn/pkg/cache"
	xhttp "FinLearn/pkg/http"
	xlogger "FinLearn/pkg/logger"
)

const candlesCacheTTL = 30 * time.Second

// Engine is the use case surface served over HTTP.
type Engine interface {
	Symbol() string
	GetCurrentSignal(ctx context.Context, symbol string) (*models.EnsembleSignal, error)
	GetFeedbackStatus() models.FeedbackStatus
	SubmitOutcome(ctx context.Context, predictionID, outcome string) (bool, error)
	ExecuteSignal(ctx context.Context, symbol string, amount float64, dryRun bool) (*models.ExecutionResult, error)
	RequestRetrain(ctx context.Context, tier int, force bool) error
	PortfolioPerformance(ctx context.Context) (models.PortfolioPerformance, error)
	CloseTrade(ctx context.Context, intentID string, exitPrice float64) (*models.TradeRecord, error)
}

// CandleReader serves historical candles.
type CandleReader interface {
	GetCandles(ctx context.Context, p usecase.GetCandlesParams) (*usecase.GetCandlesResult, error)
}

// EngineHandler implements the engine HTTP endpoints.
type EngineHandler struct {
	logger  *xlogger.Logger
	engine  Engine
	candles CandleReader
	cache   cache.Service
	rl      *ratelimit.Limiter
	now     func() time.Time
}

func NewEngineHandler(logger *xlogger.Logger, engine Engine, candles CandleReader) *EngineHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &EngineHandler{logger: logger, engine: engine, candles: candles, rl: ratelimit.New(), now: time.Now}
}

// SetCache enables short-lived caching of candle responses.
func (h *EngineHandler) SetCache(c cache.Service) { h.cache = c }

func (h *EngineHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/signal", h.Signal)
	g.GET("/feedback/status", h.FeedbackStatus)
	g.POST("/feedback/retrain", h.Retrain)
	g.POST("/outcomes", h.Outcome)
	g.POST("/trade", h.Trade)
	g.POST("/trades/close", h.CloseTrade)
	g.GET("/portfolio/performance", h.Portfolio)
	if h.candles != nil {
		g.GET("/candles", h.Candles)
	}
}

func (h *EngineHandler) Signal(c echo.Context) error {
	defer h.observe("signal", time.Now())
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig, err := h.engine.GetCurrentSignal(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.fail(c, "signal", err)
	}
	return xhttp.SuccessResponse(c, sig)
}

func (h *EngineHandler) FeedbackStatus(c echo.Context) error {
	defer h.observe("feedback_status", time.Now())
	return xhttp.SuccessResponse(c, h.engine.GetFeedbackStatus())
}

func (h *EngineHandler) Retrain(c echo.Context) error {
	defer h.observe("retrain", time.Now())
	req := &models.RetrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.engine.RequestRetrain(c.Request().Context(), req.Tier, req.Force); err != nil {
		return h.fail(c, "retrain", err)
	}
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]interface{}{
		"tier":   req.Tier,
		"force":  req.Force,
		"status": "queued",
	})
}

func (h *EngineHandler) Outcome(c echo.Context) error {
	defer h.observe("outcome", time.Now())
	req := &models.OutcomeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	applied, err := h.engine.SubmitOutcome(c.Request().Context(), req.PredictionID, req.Outcome)
	if err != nil {
		return h.fail(c, "outcome", err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"prediction_id": req.PredictionID,
		"applied":       applied,
	})
}

func (h *EngineHandler) Trade(c echo.Context) error {
	defer h.observe("trade", time.Now())
	if !h.rl.Allow(c.RealIP()+":trade", 5, 0.2) {
		h.logger.Warn("trade rate limited", xlogger.String("remote", c.RealIP()))
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
	}
	req := &models.TradeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.engine.ExecuteSignal(c.Request().Context(), req.Symbol, req.Amount, req.DryRun)
	if err != nil {
		return h.fail(c, "trade", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *EngineHandler) CloseTrade(c echo.Context) error {
	defer h.observe("trade_close", time.Now())
	req := &models.TradeCloseRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, err := h.engine.CloseTrade(c.Request().Context(), req.IntentID, req.ExitPrice)
	if err != nil {
		return h.fail(c, "trade_close", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *EngineHandler) Portfolio(c echo.Context) error {
	defer h.observe("portfolio", time.Now())
	perf, err := h.engine.PortfolioPerformance(c.Request().Context())
	if err != nil {
		return h.fail(c, "portfolio", err)
	}
	return xhttp.SuccessResponse(c, perf)
}

func (h *EngineHandler) Candles(c echo.Context) error {
	defer h.observe("candles", time.Now())
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf := domrepo.NormalizeTimeframe(req.TF)
	now := h.now().UTC()
	from := xhttp.ParseTimeDefault(req.From, now.Add(-24*time.Hour))
	to := xhttp.ParseTimeDefault(req.To, now)
	from, to = xhttp.AlignFromTo(from, to, string(tf))

	ctx := c.Request().Context()
	key := cache.GenerateKeyWithParams("api:candles", req.Symbol, string(tf), from.Unix(), to.Unix(), req.Limit)
	if h.cache != nil {
		var cached usecase.GetCandlesResult
		if err := h.cache.Get(ctx, key, &cached); err == nil {
			h.logger.Debug("candles cache hit", xlogger.String("key", key))
			return xhttp.SuccessResponse(c, &cached)
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			h.logger.Warn("candles cache get failed", xlogger.Error(err))
		}
	}

	res, err := h.candles.GetCandles(ctx, usecase.GetCandlesParams{
		Symbol:    req.Symbol,
		From:      from,
		To:        to,
		Timeframe: tf,
		Limit:     req.Limit,
	})
	if err != nil {
		return h.fail(c, "candles", err)
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, key, res, candlesCacheTTL); err != nil {
			h.logger.Warn("candles cache set failed", xlogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *EngineHandler) observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// fail maps domain errors onto the API envelope.
func (h *EngineHandler) fail(c echo.Context, endpoint string, err error) error {
	appErr := toAppError(err)
	metrics.APIErrors.WithLabelValues(endpoint, appErr.Code).Inc()
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(endpoint+" failed", xlogger.Error(err))
	} else {
		h.logger.Debug(endpoint+" rejected", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var pe *models.PredictionError
	switch {
	case errors.As(err, &pe):
		return xhttp.NewAppError("ERR_MODEL_NOT_READY", "", pe.Error(), http.StatusServiceUnavailable).WithError(err)
	case errors.Is(err, models.ErrUnknownPrediction):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrTradeNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.NewAppError("ERR_TIMEOUT", "", "request timed out", http.StatusGatewayTimeout).WithError(err)
	}
	var ce *models.ConfigurationError
	if errors.As(err, &ce) {
		return xhttp.NewAppError("ERR_NOT_CONFIGURED", ce.Field, ce.Error(), http.StatusServiceUnavailable).WithError(err)
	}
	if errors.Is(err, models.ErrInvalidInput) {
		return xhttp.BadRequestError(err.Error()).WithError(err)
	}
	return xhttp.InternalError("internal error").WithError(err)
}
