package usecase

import (
	"context"
	"time"

	"FinLearn/internal/domain/models"
	drepo "FinLearn/internal/domain/repository"
	mid "FinLearn/internal/middleware"
	"FinLearn/pkg/logger"
)

// QuoteCollector pulls quotes from the market stream into the pipeline.
type QuoteCollector struct {
	stream  drepo.QuoteStream
	pipe    *mid.RealtimePipeline
	proc    *QuoteProcessor
	metrics drepo.Metrics
	log     *logger.Logger
	maxWait time.Duration
	done    chan struct{}
}

// NewQuoteCollector creates a new QuoteCollector instance.
func NewQuoteCollector(stream drepo.QuoteStream, pipe *mid.RealtimePipeline, proc *QuoteProcessor, metrics drepo.Metrics, log *logger.Logger) *QuoteCollector {
	if log == nil {
		log = logger.Nop()
	}
	return &QuoteCollector{stream: stream, pipe: pipe, proc: proc, metrics: metrics, log: log, maxWait: time.Minute}
}

// IsConnected returns true if the market stream is connected.
func (c *QuoteCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *QuoteCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.proc.Run(ctx)
	}()
	go c.consume(ctx)
	return nil
}

func (c *QuoteCollector) consume(ctx context.Context) {
	for {
		quotes, errs := c.stream.Read(ctx)
		c.drain(ctx, quotes, errs)
		if ctx.Err() != nil {
			return
		}
		c.reconnect(ctx)
	}
}

// drain returns when the stream fails or ctx is done.
func (c *QuoteCollector) drain(ctx context.Context, quotes <-chan models.Quote, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				c.recordError("stream")
				c.log.Warn("market stream error", logger.Error(err))
				return
			}
			if !ok {
				errs = nil
			}
		case q, ok := <-quotes:
			if !ok {
				return
			}
			if err := c.pipe.Process(ctx, q); err != nil {
				c.log.Debug("quote not processed", logger.String("symbol", q.Symbol), logger.Error(err))
			}
		}
	}
}

func (c *QuoteCollector) reconnect(ctx context.Context) {
	wait := time.Second
	for attempt := 1; ctx.Err() == nil; attempt++ {
		err := c.stream.Reconnect(ctx)
		if err == nil {
			c.log.Info("market stream reconnected", logger.Int("attempt", attempt))
			return
		}
		c.recordError("stream_reconnect")
		c.log.Warn("market stream reconnect failed", logger.Int("attempt", attempt), logger.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if wait < c.maxWait {
			wait *= 2
		}
	}
}

func (c *QuoteCollector) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordError(kind)
	}
}

// Shutdown stops the pipeline, waits for the final batch flush and closes the stream.
// ctx passed to Start must already be cancelled for the flush to complete.
func (c *QuoteCollector) Shutdown(ctx context.Context) error {
	c.pipe.Stop()
	if c.done != nil {
		select {
		case <-c.done:
		case <-ctx.Done():
		}
	}
	return c.stream.Close()
}
