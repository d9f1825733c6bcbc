package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	"FinLearn/internal/service/ratelimit"
	applogger "FinLearn/pkg/logger"
)

// PaperExchange fills approved intents against the live quote book with fixed slippage.
type PaperExchange struct {
	prices      domrepo.PriceSource
	limiter     *ratelimit.Limiter
	clock       domrepo.Clock
	l           *applogger.Logger
	slippageBps float64
	maxQuoteAge time.Duration
	burst       float64
	refill      float64
}

// PaperOption configures PaperExchange.
type PaperOption func(*PaperExchange)

func WithSlippageBps(bps float64) PaperOption {
	return func(p *PaperExchange) { p.slippageBps = bps }
}

// WithMaxQuoteAge ignores quotes older than d and fills at the intent price instead.
func WithMaxQuoteAge(d time.Duration) PaperOption {
	return func(p *PaperExchange) { p.maxQuoteAge = d }
}

// WithOrderRate limits orders per symbol.
func WithOrderRate(burst, perSecond float64) PaperOption {
	return func(p *PaperExchange) {
		p.burst = burst
		p.refill = perSecond
	}
}

func WithPaperLogger(l *applogger.Logger) PaperOption {
	return func(p *PaperExchange) {
		if l != nil {
			p.l = l
		}
	}
}

func NewPaperExchange(prices domrepo.PriceSource, clock domrepo.Clock, opts ...PaperOption) *PaperExchange {
	p := &PaperExchange{
		prices:      prices,
		clock:       clock,
		l:           applogger.Nop(),
		slippageBps: 5,
		maxQuoteAge: 5 * time.Minute,
		burst:       2,
		refill:      1.0 / 30,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.limiter = ratelimit.New(ratelimit.WithNow(clock.Now))
	return p
}

// PlaceOrder never returns an error for business failures; they are reported on the result.
func (p *PaperExchange) PlaceOrder(ctx context.Context, intent models.TradeIntent) (models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return models.OrderResult{}, err
	}
	now := p.clock.Now()
	res := models.OrderResult{OrderID: uuid.NewString(), FilledAt: now}

	if !intent.Approved {
		res.Error = "intent not approved"
		return res, nil
	}
	if !p.limiter.Allow(intent.Symbol, p.burst, p.refill) {
		res.Error = "order rate limited"
		return res, nil
	}

	price := intent.EntryPrice
	if last, at, ok := p.prices.LastPrice(intent.Symbol); ok && now.Sub(at) <= p.maxQuoteAge {
		price = last
	}
	if price <= 0 {
		res.Error = fmt.Sprintf("no price for %s", intent.Symbol)
		return res, nil
	}

	slip := price * p.slippageBps / 10000
	switch intent.Side {
	case models.SignalBuy:
		price += slip
	case models.SignalSell:
		price -= slip
	}
	res.Success = true
	res.FillPrice = price

	p.l.Info("paper order filled",
		applogger.String("order_id", res.OrderID),
		applogger.String("symbol", intent.Symbol),
		applogger.String("side", string(intent.Side)),
		applogger.Float64("notional", intent.Notional),
		applogger.Float64("fill_price", price),
	)
	return res, nil
}
