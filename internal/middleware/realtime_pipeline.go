package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	"FinLearn/internal/service/ratelimit"
)

// Proc is the downstream stage, normally the quote processor.
type Proc interface {
	Process(ctx context.Context, q models.Quote) error
}

const (
	minRedeliver = 50 * time.Millisecond
	maxRedeliver = 2 * time.Second
)

// RealtimePipeline guards the quote processor: it rejects malformed quotes,
// thins bursts per symbol and parks quotes in a bounded buffer while the
// processor is failing.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	limiter *ratelimit.Limiter
	maxRPS  int
	maxSkew time.Duration
	now     func() time.Time
	parked  chan models.Quote

	once sync.Once
	stop chan struct{}
}

type PipelineOption func(*pipelineOptions)

type pipelineOptions struct {
	maxRPS  int
	bufSize int
	maxSkew time.Duration
	now     func() time.Time
}

// WithMaxRPS caps accepted quotes per symbol per second; 0 disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(o *pipelineOptions) {
		if n >= 0 {
			o.maxRPS = n
		}
	}
}

// WithBufferSize bounds the quotes parked while downstream fails.
func WithBufferSize(n int) PipelineOption {
	return func(o *pipelineOptions) {
		if n > 0 {
			o.bufSize = n
		}
	}
}

// WithMaxClockSkew rejects quotes stamped further than d ahead of the local clock.
func WithMaxClockSkew(d time.Duration) PipelineOption {
	return func(o *pipelineOptions) { o.maxSkew = d }
}

func WithNow(now func() time.Time) PipelineOption {
	return func(o *pipelineOptions) { o.now = now }
}

func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	o := pipelineOptions{maxRPS: 20, bufSize: 1000, maxSkew: 5 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &RealtimePipeline{
		proc:    proc,
		metrics: metrics,
		limiter: ratelimit.New(ratelimit.WithNow(o.now)),
		maxRPS:  o.maxRPS,
		maxSkew: o.maxSkew,
		now:     o.now,
		parked:  make(chan models.Quote, o.bufSize),
		stop:    make(chan struct{}),
	}
}

// Process validates q and hands it downstream. Throttled quotes are dropped
// without error; a downstream failure parks q and is returned.
func (p *RealtimePipeline) Process(ctx context.Context, q models.Quote) error {
	now := p.now()
	if err := p.validate(q, now); err != nil {
		p.count("pipeline_invalid")
		return err
	}
	if p.maxRPS > 0 && !p.limiter.Allow(q.Symbol, 1, float64(p.maxRPS)) {
		p.count("pipeline_throttled")
		return nil
	}

	start := time.Now()
	if err := p.proc.Process(ctx, q); err != nil {
		p.count("pipeline_downstream")
		p.park(q)
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	}
	return nil
}

// Buffered reports the parked quotes.
func (p *RealtimePipeline) Buffered() int { return len(p.parked) }

func (p *RealtimePipeline) park(q models.Quote) bool {
	select {
	case p.parked <- q:
		return true
	default:
		p.count("pipeline_buffer_full")
		return false
	}
}

// Start redelivers parked quotes until ctx ends or Stop is called. A failed
// redelivery re-parks the quote and backs off up to maxRedeliver.
func (p *RealtimePipeline) Start(ctx context.Context) {
	go func() {
		wait := minRedeliver
		for {
			var q models.Quote
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case q = <-p.parked:
			}

			if err := p.proc.Process(ctx, q); err == nil {
				wait = minRedeliver
				continue
			}
			p.count("pipeline_redeliver")
			p.park(q)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			}
			if wait *= 2; wait > maxRedeliver {
				wait = maxRedeliver
			}
		}
	}()
}

func (p *RealtimePipeline) Stop() {
	p.once.Do(func() { close(p.stop) })
}

func (p *RealtimePipeline) validate(q models.Quote, now time.Time) error {
	switch {
	case q.Symbol == "":
		return errors.New("symbol empty")
	case q.Time.IsZero():
		return errors.New("timestamp missing")
	case p.maxSkew > 0 && q.Time.Sub(now) > p.maxSkew:
		return fmt.Errorf("timestamp %s ahead of clock", q.Time.Sub(now))
	case !(q.Price > 0) || math.IsInf(q.Price, 1):
		return errors.New("price must be positive and finite")
	case q.Volume < 0 || math.IsNaN(q.Volume):
		return errors.New("volume must be non-negative")
	}
	return nil
}

func (p *RealtimePipeline) count(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}
