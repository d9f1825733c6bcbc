package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinLearn/internal/domain/models"
	"FinLearn/internal/domain/repository"
	"FinLearn/internal/service/clock"
	"FinLearn/pkg/logger"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// Config bounds the prediction log and sample buffer. The thresholds must
// match the ensemble's so slot votes are scored as the ensemble would act.
type Config struct {
	Capacity       int
	SampleCapacity int
	Window         int
	TrendDelta     float64
	BuyThreshold   float64
	SellThreshold  float64
}

// DefaultConfig keeps 1000 predictions and 5000 samples.
func DefaultConfig() Config {
	return Config{
		Capacity:       1000,
		SampleCapacity: 5000,
		Window:         10,
		TrendDelta:     0.02,
		BuyThreshold:   0.6,
		SellThreshold:  0.4,
	}
}

// Tracker logs predictions, attaches realized outcomes and derives rolling performance.
type Tracker struct {
	cfg Config

	mu      sync.RWMutex
	records *ring[*models.PredictionRecord]
	index   map[string]*models.PredictionRecord
	latest  map[string]*models.PredictionRecord // by symbol
	samples *ring[models.PerformanceSample]

	pendingMu       sync.Mutex
	pendingSamples  []models.PerformanceSample
	pendingResolved []models.PredictionRecord

	sink    repository.PerformanceSink
	clock   repository.Clock
	log     *logger.Logger
	metrics repository.Metrics
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSink mirrors samples and resolved predictions on Flush.
func WithSink(s repository.PerformanceSink) Option {
	return func(t *Tracker) { t.sink = s }
}

// WithClock sets the time source for record and resolution timestamps.
func WithClock(c repository.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithMetrics reports rolling accuracy after each resolved outcome.
func WithMetrics(m repository.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// New creates an empty Tracker. It fails with a ConfigurationError when a
// capacity or the window is not positive.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	if cfg.Capacity < 1 || cfg.SampleCapacity < 1 {
		return nil, models.NewConfigurationError("tracker.capacity", "must be positive")
	}
	if cfg.Window < 1 {
		return nil, models.NewConfigurationError("feedback.evaluation_window", "must be positive")
	}
	if cfg.TrendDelta < 0 {
		return nil, models.NewConfigurationError("tracker.trend_delta", "must not be negative")
	}
	t := &Tracker{
		cfg:     cfg,
		records: newRing[*models.PredictionRecord](cfg.Capacity),
		index:   make(map[string]*models.PredictionRecord, cfg.Capacity),
		latest:  make(map[string]*models.PredictionRecord),
		samples: newRing[models.PerformanceSample](cfg.SampleCapacity),
		clock:   clock.System{},
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// LogPrediction appends sig to the prediction log in generation order.
// A signal computed on the same snapshot as the symbol's latest record
// returns that record instead, so one bar is scored once however often
// it is polled.
func (t *Tracker) LogPrediction(sig models.EnsembleSignal) models.PredictionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev := t.sameSnapshotLocked(sig); prev != nil {
		return *prev
	}

	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	rec := &models.PredictionRecord{ID: sig.ID, GeneratedAt: sig.GeneratedAt, Signal: sig}
	if rec.GeneratedAt.IsZero() {
		rec.GeneratedAt = t.clock.Now()
	}
	if old, evicted := t.records.push(rec); evicted {
		delete(t.index, old.ID)
		if t.latest[old.Signal.Symbol] == old {
			delete(t.latest, old.Signal.Symbol)
		}
	}
	t.index[rec.ID] = rec
	if sig.Symbol != "" && !sig.SnapshotAt.IsZero() {
		t.latest[sig.Symbol] = rec
	}
	return *rec
}

func (t *Tracker) sameSnapshotLocked(sig models.EnsembleSignal) *models.PredictionRecord {
	if sig.Symbol == "" || sig.SnapshotAt.IsZero() {
		return nil
	}
	prev, ok := t.latest[sig.Symbol]
	if !ok || !prev.Signal.SnapshotAt.Equal(sig.SnapshotAt) {
		return nil
	}
	return prev
}

// SubmitOutcome attaches outcome to prediction id exactly once.
// It returns false without error when the record already had an outcome.
func (t *Tracker) SubmitOutcome(id string, outcome models.Signal) (bool, error) {
	now := t.clock.Now()

	t.mu.Lock()
	rec, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		return false, fmt.Errorf("%w: %s", models.ErrUnknownPrediction, id)
	}
	if rec.Resolved() {
		t.mu.Unlock()
		return false, nil
	}
	o := outcome
	rec.Outcome = &o
	rec.OutcomeSetAt = &now

	acc, n := t.windowAccuracyLocked(t.cfg.Window)
	samples := []models.PerformanceSample{{
		Subject: models.SubjectEnsemble, Timestamp: now, Metric: models.MetricAccuracy, Value: acc,
	}}
	for _, v := range rec.Signal.Votes {
		hit := 0.0
		if v.Direction(t.cfg.BuyThreshold, t.cfg.SellThreshold) == outcome {
			hit = 1
		}
		samples = append(samples, models.PerformanceSample{
			Subject: string(v.Slot), Timestamp: now, Metric: models.MetricAccuracy, Value: hit,
		})
	}
	for _, s := range samples {
		t.samples.push(s)
	}
	resolved := *rec
	t.mu.Unlock()

	t.pendingMu.Lock()
	t.pendingSamples = append(t.pendingSamples, samples...)
	t.pendingResolved = append(t.pendingResolved, resolved)
	t.pendingMu.Unlock()

	if t.metrics != nil && n > 0 {
		t.metrics.RecordAccuracy(models.SubjectEnsemble, acc)
	}
	t.log.Debug("prediction outcome attached",
		logger.String("prediction_id", id),
		logger.String("signal", string(resolved.Signal.Signal)),
		logger.String("outcome", string(outcome)),
		logger.Float64("rolling_accuracy", acc),
	)
	return true, nil
}

// LogPredictionOutcome attaches outcome to rec, or to the most recent
// unresolved record when rec carries no ID.
func (t *Tracker) LogPredictionOutcome(rec models.PredictionRecord, outcome models.Signal) (bool, error) {
	id := rec.ID
	if id == "" {
		t.mu.RLock()
		for i := t.records.len() - 1; i >= 0; i-- {
			if r := t.records.at(i); !r.Resolved() {
				id = r.ID
				break
			}
		}
		t.mu.RUnlock()
		if id == "" {
			return false, models.ErrUnknownPrediction
		}
	}
	return t.SubmitOutcome(id, outcome)
}

// RecentPerformance returns the match rate over the last window resolved
// predictions. Accuracy is nil when fewer than window are resolved.
func (t *Tracker) RecentPerformance(window int) models.RecentPerformance {
	if window < 1 {
		window = t.cfg.Window
	}
	t.mu.RLock()
	acc, n := t.windowAccuracyLocked(window)
	t.mu.RUnlock()

	out := models.RecentPerformance{SampleCount: n, Window: window}
	if n >= window {
		out.Accuracy = &acc
	}
	return out
}

// SlotAccuracy is RecentPerformance for one slot's own vote direction.
func (t *Tracker) SlotAccuracy(slot models.ModelSlot, window int) *float64 {
	if window < 1 {
		window = t.cfg.Window
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	hits, n := 0, 0
	for i := t.records.len() - 1; i >= 0 && n < window; i-- {
		r := t.records.at(i)
		if !r.Resolved() {
			continue
		}
		for _, v := range r.Signal.Votes {
			if v.Slot != slot {
				continue
			}
			n++
			if v.Direction(t.cfg.BuyThreshold, t.cfg.SellThreshold) == *r.Outcome {
				hits++
			}
		}
	}
	if n < window {
		return nil
	}
	acc := float64(hits) / float64(n)
	return &acc
}

// Trend compares the mean accuracy of the last window samples of subject
// against the window before it.
func (t *Tracker) Trend(subject string, window int) models.Trend {
	if window < 1 {
		window = t.cfg.Window
	}
	t.mu.RLock()
	values := make([]float64, 0, 2*window)
	for i := t.samples.len() - 1; i >= 0 && len(values) < 2*window; i-- {
		s := t.samples.at(i)
		if s.Subject == subject && s.Metric == models.MetricAccuracy {
			values = append(values, s.Value)
		}
	}
	t.mu.RUnlock()

	if len(values) < 2*window {
		return models.TrendInsufficientData
	}
	// values is newest first.
	recent := stat.Mean(values[:window], nil)
	prior := stat.Mean(values[window:], nil)
	switch diff := recent - prior; {
	case diff > t.cfg.TrendDelta:
		return models.TrendImproving
	case diff < -t.cfg.TrendDelta:
		return models.TrendDegrading
	default:
		return models.TrendStable
	}
}

// RecordSample stores an externally produced sample, e.g. validation accuracy after training.
func (t *Tracker) RecordSample(s models.PerformanceSample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = t.clock.Now()
	}
	t.mu.Lock()
	t.samples.push(s)
	t.mu.Unlock()

	t.pendingMu.Lock()
	t.pendingSamples = append(t.pendingSamples, s)
	t.pendingMu.Unlock()
}

// Samples returns the retained samples for subject, oldest first.
func (t *Tracker) Samples(subject string) []models.PerformanceSample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []models.PerformanceSample
	for i := 0; i < t.samples.len(); i++ {
		if s := t.samples.at(i); subject == "" || s.Subject == subject {
			out = append(out, s)
		}
	}
	return out
}

// Unresolved returns records without outcome generated at or before olderThan.
func (t *Tracker) Unresolved(olderThan time.Time) []models.PredictionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []models.PredictionRecord
	for i := 0; i < t.records.len(); i++ {
		r := t.records.at(i)
		if r.GeneratedAt.After(olderThan) {
			break
		}
		if !r.Resolved() {
			out = append(out, *r)
		}
	}
	return out
}

// Get returns a copy of the record with id.
func (t *Tracker) Get(id string) (models.PredictionRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.index[id]
	if !ok {
		return models.PredictionRecord{}, false
	}
	return *r, true
}

// Size is the number of retained prediction records.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.records.len()
}

// Flush writes buffered samples and resolved predictions to the sink.
// Entries that fail to write are kept for the next flush.
func (t *Tracker) Flush(ctx context.Context) error {
	if t.sink == nil {
		t.pendingMu.Lock()
		t.pendingSamples, t.pendingResolved = nil, nil
		t.pendingMu.Unlock()
		return nil
	}

	t.pendingMu.Lock()
	samples, resolved := t.pendingSamples, t.pendingResolved
	t.pendingSamples, t.pendingResolved = nil, nil
	t.pendingMu.Unlock()

	if len(samples) > 0 {
		if err := t.sink.StoreSamples(ctx, samples); err != nil {
			t.requeue(samples, resolved)
			return fmt.Errorf("store samples: %w", err)
		}
	}
	for i, rec := range resolved {
		if err := t.sink.StorePrediction(ctx, rec); err != nil {
			t.requeue(nil, resolved[i:])
			return fmt.Errorf("store prediction %s: %w", rec.ID, err)
		}
	}
	if len(samples)+len(resolved) > 0 {
		t.log.Debug("performance flushed",
			logger.Int("samples", len(samples)),
			logger.Int("predictions", len(resolved)),
		)
	}
	return nil
}

func (t *Tracker) requeue(samples []models.PerformanceSample, resolved []models.PredictionRecord) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	limit := t.cfg.SampleCapacity
	t.pendingSamples = append(samples, t.pendingSamples...)
	if len(t.pendingSamples) > limit {
		t.pendingSamples = t.pendingSamples[len(t.pendingSamples)-limit:]
	}
	t.pendingResolved = append(resolved, t.pendingResolved...)
	if len(t.pendingResolved) > t.cfg.Capacity {
		t.pendingResolved = t.pendingResolved[len(t.pendingResolved)-t.cfg.Capacity:]
	}
}

// windowAccuracyLocked walks newest to oldest over resolved records.
func (t *Tracker) windowAccuracyLocked(window int) (float64, int) {
	hits, n := 0, 0
	for i := t.records.len() - 1; i >= 0 && n < window; i-- {
		r := t.records.at(i)
		if !r.Resolved() {
			continue
		}
		n++
		if r.Correct() {
			hits++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return float64(hits) / float64(n), n
}
