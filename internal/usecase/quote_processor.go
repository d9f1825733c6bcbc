package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"FinLearn/internal/domain/models"
	drepo "FinLearn/internal/domain/repository"
	"FinLearn/pkg/logger"
)

// ErrBackpressure is returned when the pending batch is full and the sink is not draining.
var ErrBackpressure = errors.New("quote sink backpressure")

// QuoteBook receives every accepted quote.
type QuoteBook interface {
	Update(q models.Quote) bool
}

// QuoteProcessor updates the quote book and batches quotes into the sink.
type QuoteProcessor struct {
	sink       drepo.QuoteStore
	book       QuoteBook
	metrics    drepo.Metrics
	log        *logger.Logger
	batchSz    int
	batchTO    time.Duration
	maxPending int

	mu      sync.Mutex
	pending []models.Quote
}

// NewQuoteProcessor creates a new QuoteProcessor instance.
func NewQuoteProcessor(
	sink drepo.QuoteStore,
	book QuoteBook,
	metrics drepo.Metrics,
	log *logger.Logger,
	batchSz int,
	batchTO time.Duration,
) *QuoteProcessor {
	if batchSz <= 0 {
		batchSz = 500
	}
	if batchTO <= 0 {
		batchTO = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &QuoteProcessor{
		sink:       sink,
		book:       book,
		metrics:    metrics,
		log:        log,
		batchSz:    batchSz,
		batchTO:    batchTO,
		maxPending: batchSz * 20,
	}
}

// Process records q and flushes when a full batch is pending.
func (p *QuoteProcessor) Process(ctx context.Context, q models.Quote) error {
	if p.book != nil {
		p.book.Update(q)
	}
	if p.metrics != nil {
		p.metrics.RecordLastPrice(q.Symbol, q.Price)
	}

	p.mu.Lock()
	if len(p.pending) >= p.maxPending {
		p.mu.Unlock()
		return ErrBackpressure
	}
	p.pending = append(p.pending, q)
	full := len(p.pending) >= p.batchSz
	p.mu.Unlock()

	if full {
		if err := p.Flush(ctx); err != nil {
			p.log.Warn("quote batch flush failed", logger.Error(err))
		}
	}
	return nil
}

// Flush writes pending quotes. On failure they stay pending for the next attempt.
func (p *QuoteProcessor) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := p.sink.StoreBatch(ctx, batch); err != nil {
		p.mu.Lock()
		p.pending = append(batch, p.pending...)
		if len(p.pending) > p.maxPending {
			p.pending = p.pending[len(p.pending)-p.maxPending:]
		}
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.RecordError("quote_store")
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("quote_store_batch", time.Since(start).Seconds())
	}
	return nil
}

// Pending is the number of quotes not yet written.
func (p *QuoteProcessor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Run flushes on the batch timeout until ctx is done, then flushes once more.
func (p *QuoteProcessor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.batchTO)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Flush(fctx); err != nil {
				p.log.Error("final quote flush failed", logger.Error(err), logger.Int("pending", p.Pending()))
			}
			cancel()
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.log.Warn("quote flush failed", logger.Error(err), logger.Int("pending", p.Pending()))
			}
		}
	}
}
