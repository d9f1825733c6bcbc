package ensemble

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"FinLearn/internal/domain/models"
	"FinLearn/internal/domain/repository"
	"FinLearn/internal/service/clock"
	"FinLearn/pkg/logger"

	"github.com/google/uuid"
)

// SlotState is an immutable trained snapshot of one slot.
// Published states are never mutated; training replaces the pointer.
type SlotState struct {
	Slot            models.ModelSlot
	Version         uint64
	TrainedAt       time.Time
	Arity           int
	Normalizer      *Normalizer
	Model           Model
	Metrics         models.ModelMetrics
	Hyperparameters map[string]float64
	DataHash        string
	RestoredFrom    uint64
}

// Score returns the upward probability for a raw snapshot. Sequence models
// read the snapshot's recent history as well.
func (s *SlotState) Score(snap models.FeatureSnapshot) float64 {
	var p float64
	if sm, ok := s.Model.(SequenceModel); ok {
		p = sm.PredictSequence(s.Normalizer.TransformAll(window(snap, sm.WindowSize(), s.Arity)))
	} else {
		p = s.Model.PredictProba(s.Normalizer.Transform(snap.Values))
	}
	if math.IsNaN(p) {
		return 0.5
	}
	return clamp(p, 0, 1)
}

type slot struct {
	name    models.ModelSlot
	mu      sync.Mutex
	current atomic.Pointer[SlotState]
	history []*SlotState
}

// Predictor owns the model slots and combines their votes.
type Predictor struct {
	cfg       Config
	slots     map[models.ModelSlot]*slot
	order     []models.ModelSlot
	factories map[models.ModelSlot]ModelFactory

	wmu     sync.RWMutex
	weights map[models.ModelSlot]float64

	arity atomic.Int64

	store   repository.ModelStore
	clock   repository.Clock
	log     *logger.Logger
	metrics repository.Metrics
}

// Option configures Predictor.
type Option func(*Predictor)

// WithStore persists every published version.
func WithStore(s repository.ModelStore) Option {
	return func(p *Predictor) { p.store = s }
}

// WithClock overrides the wall clock.
func WithClock(c repository.Clock) Option {
	return func(p *Predictor) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Predictor) { p.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m repository.Metrics) Option {
	return func(p *Predictor) { p.metrics = m }
}

// WithFactory replaces the model used for a slot.
func WithFactory(s models.ModelSlot, f ModelFactory) Option {
	return func(p *Predictor) { p.factories[s] = f }
}

// New creates a Predictor with every slot empty.
func New(cfg Config, opts ...Option) (*Predictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Predictor{
		cfg:       cfg,
		slots:     make(map[models.ModelSlot]*slot),
		order:     models.AllSlots(),
		factories: DefaultFactories(),
		weights:   make(map[models.ModelSlot]float64),
		clock:     clock.System{},
		log:       logger.Nop(),
	}
	for _, name := range p.order {
		p.slots[name] = &slot{name: name}
	}
	for s, w := range cfg.Weights {
		p.weights[s] = w
	}
	if cfg.Arity > 0 {
		p.arity.Store(int64(cfg.Arity))
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Train fits a new version of slot. The slot keeps serving its previous
// version until the new one is published.
func (p *Predictor) Train(ctx context.Context, name models.ModelSlot, snapshots []models.FeatureSnapshot, labels []float64) (*models.SlotInfo, error) {
	s, ok := p.slots[name]
	if !ok {
		return nil, models.NewTrainingError(name, "unknown slot", nil)
	}
	x, y, err := p.prepare(name, snapshots, labels)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, models.NewTrainingError(name, "cancelled before fit", err)
	}

	start := time.Now()
	prev := s.current.Load()
	version := uint64(1)
	if prev != nil {
		version = prev.Version + 1
	}

	nTrain := p.trainSize(len(x))
	norm := FitNormalizer(x[:nTrain])
	xs := norm.TransformAll(x)

	model := p.factories[name](p.cfg.Seed + int64(version))
	score := func(i int) float64 { return model.PredictProba(xs[i]) }
	var fitErr error
	if sm, ok := model.(SequenceModel); ok {
		seqs := trainingWindows(snapshots, x, sm.WindowSize())
		for i := range seqs {
			seqs[i] = norm.TransformAll(seqs[i])
		}
		fitErr = sm.FitSequences(ctx, seqs[:nTrain], y[:nTrain])
		score = func(i int) float64 { return sm.PredictSequence(seqs[i]) }
	} else {
		fitErr = model.Fit(ctx, xs[:nTrain], y[:nTrain])
	}
	if fitErr != nil {
		p.observe(name, "error", start)
		return nil, models.NewTrainingError(name, "fit failed", fitErr)
	}

	cand := &SlotState{
		Slot:       name,
		Version:    version,
		TrainedAt:  p.clock.Now(),
		Arity:      len(x[0]),
		Normalizer: norm,
		Model:      model,
		Metrics: models.ModelMetrics{
			TrainAccuracy:      accuracy(score, y, 0, nTrain),
			ValidationAccuracy: accuracy(score, y, nTrain, len(y)),
			TrainSize:          nTrain,
			ValidationSize:     len(x) - nTrain,
		},
		Hyperparameters: model.Hyperparameters(),
		DataHash:        hashTrainingData(x, y),
	}

	if p.cfg.RollbackPolicy == RollbackKeepBetter && prev != nil &&
		cand.Metrics.ValidationAccuracy+p.cfg.RollbackTolerance < prev.Metrics.ValidationAccuracy {
		p.log.Warn("candidate model rejected",
			logger.String("slot", string(name)),
			logger.Uint64("previous_version", prev.Version),
			logger.Float64("previous_accuracy", prev.Metrics.ValidationAccuracy),
			logger.Float64("candidate_accuracy", cand.Metrics.ValidationAccuracy),
		)
		p.observe(name, "rejected", start)
		return nil, models.NewTrainingError(name, "validation accuracy regressed", models.ErrCandidateRejected)
	}

	p.publish(s, cand)
	p.arity.CompareAndSwap(0, int64(cand.Arity))
	p.observe(name, "ok", start)
	p.log.Info("model published",
		logger.String("slot", string(name)),
		logger.Uint64("version", cand.Version),
		logger.Float64("validation_accuracy", cand.Metrics.ValidationAccuracy),
		logger.Int("samples", len(x)),
		logger.String("data_hash", cand.DataHash),
		logger.Duration("duration_ms", time.Since(start)),
	)
	p.persist(ctx, cand)

	info := p.info(s, cand)
	return &info, nil
}

// Predict combines the votes of all trained slots.
func (p *Predictor) Predict(snap models.FeatureSnapshot) (*models.EnsembleSignal, error) {
	now := p.clock.Now()
	votes := make([]models.Vote, 0, len(p.order))
	var total float64

	for _, name := range p.order {
		st := p.slots[name].current.Load()
		if st == nil {
			continue
		}
		if snap.Arity() != st.Arity {
			return nil, &models.PredictionError{
				Reason: fmt.Sprintf("feature arity %d, %s expects %d", snap.Arity(), name, st.Arity),
			}
		}
		w := p.Weight(name)
		total += w
		votes = append(votes, models.Vote{
			Slot:    name,
			Score:   st.Score(snap),
			Weight:  w,
			Version: st.Version,
			IsStale: p.cfg.StaleAfter > 0 && now.Sub(st.TrainedAt) > p.cfg.StaleAfter,
		})
	}
	if len(votes) == 0 {
		return nil, models.ErrPredictionNotReady
	}

	if total <= 0 {
		for i := range votes {
			votes[i].Weight = 1
		}
		total = float64(len(votes))
	}

	var score float64
	for i := range votes {
		votes[i].Weight /= total
		score += votes[i].Weight * votes[i].Score
	}
	if len(votes) == 1 {
		score = votes[0].Score
	}
	score = clamp(score, 0, 1)

	sig := &models.EnsembleSignal{
		ID:          uuid.NewString(),
		Symbol:      snap.Symbol,
		Signal:      models.Classify(score, p.cfg.BuyThreshold, p.cfg.SellThreshold),
		Score:       score,
		Confidence:  math.Min(1, math.Abs(score-0.5)*2),
		Votes:       votes,
		Price:       snap.Price,
		SnapshotAt:  snap.Timestamp,
		GeneratedAt: now,
	}
	if p.metrics != nil {
		p.metrics.RecordPrediction(snap.Symbol, sig.Signal, sig.Confidence)
	}
	return sig, nil
}

// Rollback republishes the trained version preceding the one currently
// served, under a new version number. Repeated calls step further back.
func (p *Predictor) Rollback(ctx context.Context, name models.ModelSlot) (*models.SlotInfo, error) {
	s, ok := p.slots[name]
	if !ok {
		return nil, fmt.Errorf("unknown slot %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if cur == nil {
		return nil, fmt.Errorf("slot %s has no previous version", name)
	}
	origin := cur.Version
	if cur.RestoredFrom != 0 {
		origin = cur.RestoredFrom
	}
	var prev *SlotState
	for i := len(s.history) - 1; i >= 0; i-- {
		if h := s.history[i]; h.RestoredFrom == 0 && h.Version < origin {
			prev = h
			break
		}
	}
	if prev == nil {
		return nil, fmt.Errorf("slot %s has no previous version", name)
	}
	restored := *prev
	restored.Version = cur.Version + 1
	restored.RestoredFrom = prev.Version

	p.publish(s, &restored)
	p.log.Info("model rolled back",
		logger.String("slot", string(name)),
		logger.Uint64("from_version", cur.Version),
		logger.Uint64("restored_version", prev.Version),
	)
	p.persist(ctx, &restored)

	info := p.info(s, &restored)
	return &info, nil
}

// Weight returns the caller-adjusted weight of slot (1 when unset).
func (p *Predictor) Weight(name models.ModelSlot) float64 {
	p.wmu.RLock()
	defer p.wmu.RUnlock()
	if w, ok := p.weights[name]; ok {
		return w
	}
	return 1
}

// BaseWeight returns the configured weight of slot.
func (p *Predictor) BaseWeight(name models.ModelSlot) float64 {
	if w, ok := p.cfg.Weights[name]; ok {
		return w
	}
	return 1
}

// SetWeight adjusts the vote weight of slot. Negative weights are clamped to zero.
func (p *Predictor) SetWeight(name models.ModelSlot, w float64) {
	if w < 0 || math.IsNaN(w) {
		w = 0
	}
	p.wmu.Lock()
	p.weights[name] = w
	p.wmu.Unlock()
}

// Trained reports whether slot has a published version.
func (p *Predictor) Trained(name models.ModelSlot) bool {
	s, ok := p.slots[name]
	return ok && s.current.Load() != nil
}

// State returns the currently published state of slot, or nil.
func (p *Predictor) State(name models.ModelSlot) *SlotState {
	s, ok := p.slots[name]
	if !ok {
		return nil
	}
	return s.current.Load()
}

// Slots returns a status view of every slot in canonical order.
func (p *Predictor) Slots() []models.SlotInfo {
	out := make([]models.SlotInfo, 0, len(p.order))
	for _, name := range p.order {
		s := p.slots[name]
		s.mu.Lock()
		out = append(out, p.info(s, s.current.Load()))
		s.mu.Unlock()
	}
	return out
}

// Restore loads the latest persisted version of every slot.
func (p *Predictor) Restore(ctx context.Context) (int, error) {
	if p.store == nil {
		return 0, nil
	}
	restored := 0
	for _, name := range p.order {
		v, err := p.store.Latest(ctx, name)
		if err != nil {
			return restored, fmt.Errorf("load %s: %w", name, err)
		}
		if v == nil {
			continue
		}
		st, err := decodeState(*v)
		if err != nil {
			p.log.Warn("skip undecodable model version",
				logger.String("slot", string(name)),
				logger.Uint64("version", v.Version),
				logger.Error(err),
			)
			continue
		}
		if a := p.arity.Load(); a != 0 && int(a) != st.Arity {
			p.log.Warn("skip model with mismatched arity",
				logger.String("slot", string(name)),
				logger.Int("arity", st.Arity),
			)
			continue
		}
		s := p.slots[name]
		s.mu.Lock()
		p.publish(s, st)
		s.mu.Unlock()
		p.arity.CompareAndSwap(0, int64(st.Arity))
		restored++
	}
	return restored, nil
}

// CleanupOldVersions keeps only the newest keep persisted versions per slot.
func (p *Predictor) CleanupOldVersions(ctx context.Context, keep int) (int, error) {
	if p.store == nil {
		return 0, nil
	}
	if keep < 1 {
		keep = 1
	}
	removed := 0
	for _, name := range p.order {
		versions, err := p.store.Versions(ctx, name)
		if err != nil {
			return removed, err
		}
		if len(versions) <= keep {
			continue
		}
		// Versions is ascending.
		stale := versions[:len(versions)-keep]
		if err := p.store.Delete(ctx, name, stale...); err != nil {
			return removed, err
		}
		removed += len(stale)
	}
	return removed, nil
}

func (p *Predictor) prepare(name models.ModelSlot, snaps []models.FeatureSnapshot, labels []float64) ([][]float64, []float64, error) {
	if len(snaps) < p.cfg.MinSamples {
		return nil, nil, models.NewTrainingError(name,
			fmt.Sprintf("insufficient samples: %d < %d", len(snaps), p.cfg.MinSamples), nil)
	}
	if len(labels) != len(snaps) {
		return nil, nil, models.NewTrainingError(name,
			fmt.Sprintf("label count %d does not match sample count %d", len(labels), len(snaps)), nil)
	}
	expected := int(p.arity.Load())
	if expected == 0 {
		expected = snaps[0].Arity()
	}
	if expected == 0 {
		return nil, nil, models.NewTrainingError(name, "empty feature vectors", nil)
	}

	x := make([][]float64, len(snaps))
	y := make([]float64, len(labels))
	for i, s := range snaps {
		if s.Arity() != expected {
			return nil, nil, models.NewTrainingError(name,
				fmt.Sprintf("sample %d has arity %d, expected %d", i, s.Arity(), expected), nil)
		}
		for _, v := range s.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, models.NewTrainingError(name, fmt.Sprintf("sample %d has non-finite value", i), nil)
			}
		}
		x[i] = s.Values
		if labels[i] > 0.5 {
			y[i] = 1
		}
	}
	return x, y, nil
}

// window returns the last steps vectors of snap. History entries whose
// length differs from arity are replaced by the next newer vector.
func window(snap models.FeatureSnapshot, steps, arity int) [][]float64 {
	w := snap.Window(steps)
	for i := len(w) - 2; i >= 0; i-- {
		if len(w[i]) != arity {
			w[i] = w[i+1]
		}
	}
	return w
}

// trainingWindows uses each snapshot's own history when it has one and
// otherwise the preceding rows of the chronological training set.
func trainingWindows(snaps []models.FeatureSnapshot, x [][]float64, steps int) [][][]float64 {
	rows := rowWindows(x, steps)
	arity := len(x[0])
	for i, s := range snaps {
		if len(s.History) > 0 {
			rows[i] = window(s, steps, arity)
		}
	}
	return rows
}

func (p *Predictor) trainSize(n int) int {
	nTrain := int(math.Round(float64(n) * (1 - p.cfg.ValidationSplit)))
	if nTrain >= n {
		nTrain = n - 1
	}
	if nTrain < 1 {
		nTrain = 1
	}
	return nTrain
}

// publish must be called with s.mu held.
func (p *Predictor) publish(s *slot, st *SlotState) {
	s.current.Store(st)
	s.history = append(s.history, st)
	if len(s.history) > p.cfg.HistorySize {
		s.history = append([]*SlotState(nil), s.history[len(s.history)-p.cfg.HistorySize:]...)
	}
}

func (p *Predictor) persist(ctx context.Context, st *SlotState) {
	if p.store == nil {
		return
	}
	blob, err := encodeState(st)
	if err != nil {
		p.log.Warn("model encode failed", logger.String("slot", string(st.Slot)), logger.Error(err))
		return
	}
	err = p.store.Save(ctx, models.ModelVersion{
		Slot:            st.Slot,
		Version:         st.Version,
		TrainedAt:       st.TrainedAt,
		Metrics:         st.Metrics,
		Hyperparameters: st.Hyperparameters,
		DataHash:        st.DataHash,
		RestoredFrom:    st.RestoredFrom,
		Blob:            blob,
	})
	if err != nil {
		p.log.Error("model persist failed",
			logger.String("slot", string(st.Slot)),
			logger.Uint64("version", st.Version),
			logger.Error(err),
		)
		if p.metrics != nil {
			p.metrics.RecordError("model_persist")
		}
	}
}

func (p *Predictor) info(s *slot, st *SlotState) models.SlotInfo {
	info := models.SlotInfo{Slot: s.name, Weight: p.Weight(s.name), History: len(s.history)}
	if st == nil {
		return info
	}
	t := st.TrainedAt
	info.Trained = true
	info.Version = st.Version
	info.TrainedAt = &t
	info.Metrics = st.Metrics
	info.DataHash = st.DataHash
	return info
}

func (p *Predictor) observe(name models.ModelSlot, result string, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordTraining(name, result, time.Since(start).Seconds())
	}
}

// hashTrainingData fingerprints the training input (first 16 hex chars of sha256).
func hashTrainingData(x [][]float64, y []float64) string {
	h := sha256.New()
	buf := make([]byte, 8)
	for i := range x {
		for _, v := range x[i] {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			h.Write(buf)
		}
		binary.LittleEndian.PutUint64(buf, math.Float64bits(y[i]))
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// IsCandidateRejected reports whether err means the previous version was kept.
func IsCandidateRejected(err error) bool {
	return errors.Is(err, models.ErrCandidateRejected)
}
