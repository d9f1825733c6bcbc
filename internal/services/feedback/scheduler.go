package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"FinLearn/internal/domain/models"
	"FinLearn/internal/domain/repository"
	"FinLearn/internal/domain/service"
	"FinLearn/internal/service/clock"
	"FinLearn/pkg/logger"
)

type tier struct {
	cfg        TierConfig
	inProgress atomic.Bool

	mu            sync.RWMutex
	lastTrainedAt *time.Time
	lastError     string
	lastDuration  time.Duration
	runs          int
	failures      int
}

func (t *tier) state() models.TierState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := models.TierState{
		Tier:               t.cfg.Tier,
		Interval:           t.cfg.Interval,
		Slots:              append([]models.ModelSlot(nil), t.cfg.Slots...),
		TrainingInProgress: t.inProgress.Load(),
		LastError:          t.lastError,
		LastDuration:       t.lastDuration,
		Runs:               t.runs,
		Failures:           t.failures,
	}
	if t.lastTrainedAt != nil {
		ts := *t.lastTrainedAt
		st.LastTrainedAt = &ts
	}
	return st
}

// Scheduler retrains ensemble slots on independent tiered schedules.
type Scheduler struct {
	cfg   Config
	tiers []*tier

	predictor service.Predictor
	tracker   service.PerformanceTracker
	features  repository.FeatureProvider

	clock    repository.Clock
	log      *logger.Logger
	metrics  repository.Metrics
	notifier repository.Notifier
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source for tier intervals and the control loop.
func WithClock(c repository.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithMetrics records per-slot training outcomes and tier state.
func WithMetrics(m repository.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithNotifier alerts on slots that fail to train.
func WithNotifier(n repository.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// New creates a Scheduler with every tier untrained. predictor and tracker
// are required; features may be nil when callers always pass training data.
func New(cfg Config, predictor service.Predictor, tracker service.PerformanceTracker, features repository.FeatureProvider, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if predictor == nil || tracker == nil {
		return nil, errors.New("feedback: predictor and tracker are required")
	}
	s := &Scheduler{
		cfg:       cfg,
		predictor: predictor,
		tracker:   tracker,
		features:  features,
		clock:     clock.System{},
		log:       logger.Nop(),
	}
	for _, tc := range cfg.Tiers {
		s.tiers = append(s.tiers, &tier{cfg: tc})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scheduler) tier(n int) *tier {
	for _, t := range s.tiers {
		if t.cfg.Tier == n {
			return t
		}
	}
	return nil
}

// ShouldRetrain reports whether tier n is due. It has no side effects.
func (s *Scheduler) ShouldRetrain(n int) bool {
	t := s.tier(n)
	if t == nil || t.inProgress.Load() {
		return false
	}
	t.mu.RLock()
	last := t.lastTrainedAt
	t.mu.RUnlock()
	if last == nil {
		return true
	}

	elapsed := s.clock.Now().Sub(*last)
	if elapsed >= t.cfg.Interval {
		return true
	}
	perf := s.tracker.RecentPerformance(s.cfg.EvaluationWindow)
	return perf.Accuracy != nil &&
		*perf.Accuracy < s.cfg.PerformanceThreshold &&
		elapsed >= s.cfg.Cooldown
}

// ExecuteTrainingCycle trains every due tier in ascending order on data.
func (s *Scheduler) ExecuteTrainingCycle(ctx context.Context, data *models.TrainingSet) models.CycleReport {
	report := models.CycleReport{StartedAt: s.clock.Now()}
	for _, t := range s.tiers {
		if ctx.Err() != nil {
			report.Tiers = append(report.Tiers, models.TierResult{Tier: t.cfg.Tier, Skipped: "cancelled"})
			continue
		}
		if !s.ShouldRetrain(t.cfg.Tier) {
			reason := "not due"
			if t.inProgress.Load() {
				reason = "in progress"
			}
			report.Tiers = append(report.Tiers, models.TierResult{Tier: t.cfg.Tier, Skipped: reason})
			continue
		}
		res, err := s.runTier(ctx, t, data)
		if errors.Is(err, models.ErrTierBusy) {
			res = models.TierResult{Tier: t.cfg.Tier, Skipped: "in progress"}
		}
		report.Tiers = append(report.Tiers, res)
	}
	return report
}

// TrainTier runs tier n now. Without force it only runs when the tier is due.
func (s *Scheduler) TrainTier(ctx context.Context, n int, data *models.TrainingSet, force bool) (models.TierResult, error) {
	t := s.tier(n)
	if t == nil {
		return models.TierResult{}, fmt.Errorf("unknown tier %d", n)
	}
	if !force && !s.ShouldRetrain(n) {
		if t.inProgress.Load() {
			return models.TierResult{Tier: n, Skipped: "in progress"}, models.ErrTierBusy
		}
		return models.TierResult{Tier: n, Skipped: "not due"}, nil
	}
	return s.runTier(ctx, t, data)
}

func (s *Scheduler) runTier(ctx context.Context, t *tier, data *models.TrainingSet) (models.TierResult, error) {
	if !t.inProgress.CompareAndSwap(false, true) {
		return models.TierResult{Tier: t.cfg.Tier}, models.ErrTierBusy
	}
	s.recordTierState(t.cfg.Tier, true)
	defer func() {
		t.inProgress.Store(false)
		s.recordTierState(t.cfg.Tier, false)
	}()

	start := time.Now()
	snaps, labels := tierData(data, t.cfg.MaxSamples)
	res := models.TierResult{Tier: t.cfg.Tier, Fired: true}
	ok := 0
	var lastErr string
	for _, slot := range t.cfg.Slots {
		sr := s.trainSlot(ctx, t.cfg.Tier, slot, snaps, labels)
		if sr.OK() {
			ok++
		} else {
			lastErr = sr.Err
		}
		res.Slots = append(res.Slots, sr)
	}

	now := s.clock.Now()
	t.mu.Lock()
	t.runs++
	t.lastDuration = time.Since(start)
	t.lastError = lastErr
	if ok > 0 {
		t.lastTrainedAt = &now
	} else {
		t.failures++
	}
	t.mu.Unlock()

	s.log.Info("tier training finished",
		logger.Int("tier", t.cfg.Tier),
		logger.Int("slots_ok", ok),
		logger.Int("slots_total", len(t.cfg.Slots)),
		logger.Int("samples", len(snaps)),
		logger.Duration("duration_ms", time.Since(start)),
	)
	return res, nil
}

// trainSlot isolates one slot's training from its siblings, including panics.
func (s *Scheduler) trainSlot(ctx context.Context, tierN int, slot models.ModelSlot, snaps []models.FeatureSnapshot, labels []float64) (res models.SlotResult) {
	res.Slot = slot
	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TrainingTimeout)
	defer cancel()

	var (
		info *models.SlotInfo
		err  error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = models.NewTrainingError(slot, fmt.Sprintf("panic: %v", r), nil)
			}
		}()
		info, err = s.predictor.Train(tctx, slot, snaps, labels)
	}()
	res.Duration = time.Since(start)

	if err == nil && info != nil {
		res.Version = info.Version
		res.Accuracy = info.Metrics.ValidationAccuracy
		s.tracker.RecordSample(models.PerformanceSample{
			Subject:   string(slot),
			Timestamp: s.clock.Now(),
			Metric:    models.MetricValidationAccuracy,
			Value:     info.Metrics.ValidationAccuracy,
		})
		return res
	}
	if err == nil {
		err = models.NewTrainingError(slot, "no model returned", nil)
	}

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = models.NewTrainingError(slot, fmt.Sprintf("timed out after %s", s.cfg.TrainingTimeout), err)
	}
	res.Err = err.Error()
	if errors.Is(err, models.ErrCandidateRejected) {
		res.Rejected = true
		s.log.Info("slot kept previous version",
			logger.Int("tier", tierN),
			logger.String("slot", string(slot)),
		)
		return res
	}

	s.log.Error("slot training failed",
		logger.Int("tier", tierN),
		logger.String("slot", string(slot)),
		logger.Error(err),
	)
	if s.metrics != nil {
		s.metrics.RecordError("training")
	}
	if s.notifier != nil {
		if nerr := s.notifier.NotifyTrainingFailure(ctx, tierN, slot, err); nerr != nil {
			s.log.Warn("training failure notification failed", logger.Error(nerr))
		}
	}
	return res
}

// Tick adjusts weights and, if any tier is due, loads data and runs a cycle.
func (s *Scheduler) Tick(ctx context.Context) models.CycleReport {
	s.AdjustWeights()

	due := false
	for _, t := range s.tiers {
		if s.ShouldRetrain(t.cfg.Tier) {
			due = true
			break
		}
	}
	if !due {
		return models.CycleReport{StartedAt: s.clock.Now()}
	}

	data, err := s.LoadTrainingSet(ctx)
	if err != nil {
		s.log.Error("training set unavailable", logger.String("symbol", s.cfg.Symbol), logger.Error(err))
		if s.metrics != nil {
			s.metrics.RecordError("feature_provider")
		}
		return models.CycleReport{StartedAt: s.clock.Now()}
	}
	report := s.ExecuteTrainingCycle(ctx, data)
	if fired := report.Fired(); len(fired) > 0 {
		s.log.Info("training cycle complete", logger.Any("tiers", fired))
	}
	return report
}

// LoadTrainingSet fetches the configured lookback from the feature provider.
func (s *Scheduler) LoadTrainingSet(ctx context.Context) (*models.TrainingSet, error) {
	if s.features == nil {
		return nil, errors.New("no feature provider configured")
	}
	return s.features.GetTrainingSet(ctx, s.cfg.Symbol, s.cfg.LookbackDays)
}

// Run drives Tick from the injected clock until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.Info("feedback loop started",
		logger.Duration("tick_ms", s.cfg.TickInterval),
		logger.Int("tiers", len(s.tiers)),
	)
	s.safeTick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("feedback loop stopped")
			return
		case <-ticker.C():
			s.safeTick(ctx)
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("feedback tick panicked", logger.Any("panic", r))
		}
	}()
	s.Tick(ctx)
}

// AdjustWeights down-weights slots whose recent accuracy is below the threshold.
func (s *Scheduler) AdjustWeights() {
	for _, slot := range models.AllSlots() {
		base := s.predictor.BaseWeight(slot)
		want := base
		if acc := s.tracker.SlotAccuracy(slot, s.cfg.EvaluationWindow); acc != nil && *acc < s.cfg.PerformanceThreshold {
			want = base * s.cfg.DegradedWeightFactor
		}
		if cur := s.predictor.Weight(slot); cur != want {
			s.predictor.SetWeight(slot, want)
			s.log.Info("slot weight adjusted",
				logger.String("slot", string(slot)),
				logger.Float64("from", cur),
				logger.Float64("to", want),
			)
		}
	}
}

// TierStates returns every tier's state in ascending order.
func (s *Scheduler) TierStates() []models.TierState {
	out := make([]models.TierState, 0, len(s.tiers))
	for _, t := range s.tiers {
		out = append(out, t.state())
	}
	return out
}

// Status is the feedback snapshot served to API collaborators.
func (s *Scheduler) Status() models.FeedbackStatus {
	st := models.FeedbackStatus{
		Tiers:             s.TierStates(),
		RecentPerformance: s.tracker.RecentPerformance(s.cfg.EvaluationWindow),
		SlotAccuracy:      make(map[models.ModelSlot]*float64),
		ModelTrends:       map[string]models.Trend{models.SubjectEnsemble: s.tracker.Trend(models.SubjectEnsemble, s.cfg.EvaluationWindow)},
		Models:            s.predictor.Slots(),
		PredictionLogSize: s.tracker.Size(),
		GeneratedAt:       s.clock.Now(),
		Config: map[string]interface{}{
			"performance_threshold":  s.cfg.PerformanceThreshold,
			"evaluation_window":      s.cfg.EvaluationWindow,
			"cooldown":               s.cfg.Cooldown.String(),
			"training_timeout":       s.cfg.TrainingTimeout.String(),
			"tick_interval":          s.cfg.TickInterval.String(),
			"degraded_weight_factor": s.cfg.DegradedWeightFactor,
		},
	}
	for _, t := range st.Tiers {
		if t.TrainingInProgress {
			st.TrainingInProgress = true
		}
	}
	for _, slot := range models.AllSlots() {
		st.SlotAccuracy[slot] = s.tracker.SlotAccuracy(slot, s.cfg.EvaluationWindow)
		st.ModelTrends[string(slot)] = s.tracker.Trend(string(slot), s.cfg.EvaluationWindow)
	}
	return st
}

func (s *Scheduler) recordTierState(n int, inProgress bool) {
	if s.metrics != nil {
		s.metrics.RecordTierState(n, inProgress)
	}
}

// tierData trims the set to its most recent limit samples.
func tierData(data *models.TrainingSet, limit int) ([]models.FeatureSnapshot, []float64) {
	if data == nil {
		return nil, nil
	}
	snaps, labels := data.Snapshots, data.Labels
	if limit > 0 && len(snaps) > limit && len(labels) == len(snaps) {
		snaps = snaps[len(snaps)-limit:]
		labels = labels[len(labels)-limit:]
	}
	return snaps, labels
}
