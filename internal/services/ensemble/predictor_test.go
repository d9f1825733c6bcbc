package ensemble

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"FinLearn/internal/domain/models"
	"FinLearn/internal/service/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constModel struct{ p float64 }

func (m *constModel) Fit(context.Context, [][]float64, []float64) error { return nil }
func (m *constModel) PredictProba([]float64) float64                  { return m.p }
func (m *constModel) Hyperparameters() map[string]float64             { return nil }

// signModel predicts up when the first (scaled) feature is positive, optionally inverted.
type signModel struct{ invert bool }

func (m *signModel) Fit(context.Context, [][]float64, []float64) error { return nil }
func (m *signModel) PredictProba(x []float64) float64 {
	up := x[0] > 0
	if m.invert {
		up = !up
	}
	if up {
		return 0.9
	}
	return 0.1
}
func (m *signModel) Hyperparameters() map[string]float64 { return map[string]float64{"invert": 0} }

type memStore struct {
	mu       sync.Mutex
	versions map[models.ModelSlot]map[uint64]models.ModelVersion
}

func newMemStore() *memStore {
	return &memStore{versions: make(map[models.ModelSlot]map[uint64]models.ModelVersion)}
}

func (s *memStore) Save(_ context.Context, v models.ModelVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versions[v.Slot] == nil {
		s.versions[v.Slot] = make(map[uint64]models.ModelVersion)
	}
	s.versions[v.Slot][v.Version] = v
	return nil
}

func (s *memStore) Latest(ctx context.Context, slot models.ModelSlot) (*models.ModelVersion, error) {
	vs, _ := s.Versions(ctx, slot)
	if len(vs) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.versions[slot][vs[len(vs)-1]]
	return &v, nil
}

func (s *memStore) Versions(_ context.Context, slot models.ModelSlot) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.versions[slot]))
	for v := range s.versions[slot] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *memStore) Delete(_ context.Context, slot models.ModelSlot, versions ...uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range versions {
		delete(s.versions[slot], v)
	}
	return nil
}

// separable returns n snapshots whose label is the sign of the first feature.
func separable(n, arity int, seed int64) ([]models.FeatureSnapshot, []float64) {
	rng := rand.New(rand.NewSource(seed))
	snaps := make([]models.FeatureSnapshot, n)
	labels := make([]float64, n)
	for i := range snaps {
		v := make([]float64, arity)
		for j := range v {
			v[j] = rng.NormFloat64()
		}
		snaps[i] = models.FeatureSnapshot{Symbol: "BTCUSDT", Values: v, Price: 100}
		if v[0] > 0 {
			labels[i] = 1
		}
	}
	return snaps, labels
}

func snapshot(values ...float64) models.FeatureSnapshot {
	return models.FeatureSnapshot{Symbol: "BTCUSDT", Values: values, Price: 100}
}

func newTestPredictor(t *testing.T, cfg Config, opts ...Option) *Predictor {
	t.Helper()
	opts = append([]Option{WithClock(clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))}, opts...)
	p, err := New(cfg, opts...)
	require.NoError(t, err)
	return p
}

func TestPredictBeforeTraining(t *testing.T) {
	p := newTestPredictor(t, DefaultConfig())

	sig, err := p.Predict(snapshot(1, 2, 3))
	assert.Nil(t, sig)
	assert.ErrorIs(t, err, models.ErrPredictionNotReady)
	assert.True(t, models.IsPredictionError(err))
}

func TestTrainRejectsBadInput(t *testing.T) {
	p := newTestPredictor(t, DefaultConfig())
	ctx := context.Background()

	snaps, labels := separable(29, 3, 1)
	_, err := p.Train(ctx, models.SlotFastLinear, snaps, labels)
	assert.True(t, models.IsTrainingError(err), "29 samples: %v", err)

	snaps, labels = separable(40, 3, 1)
	_, err = p.Train(ctx, models.SlotFastLinear, snaps, labels[:39])
	assert.True(t, models.IsTrainingError(err), "label mismatch: %v", err)

	snaps[7].Values = []float64{1, 2}
	_, err = p.Train(ctx, models.SlotFastLinear, snaps, labels)
	assert.True(t, models.IsTrainingError(err), "ragged arity: %v", err)

	assert.False(t, p.Trained(models.SlotFastLinear))
}

func TestTrainExactlyMinSamples(t *testing.T) {
	p := newTestPredictor(t, DefaultConfig())
	snaps, labels := separable(30, 3, 2)

	info, err := p.Train(context.Background(), models.SlotFastLinear, snaps, labels)
	require.NoError(t, err)
	assert.True(t, info.Trained)
	assert.Equal(t, uint64(1), info.Version)
	assert.Len(t, info.DataHash, 16)
	assert.Equal(t, 24, info.Metrics.TrainSize)
	assert.Equal(t, 6, info.Metrics.ValidationSize)
}

func TestArityIsFixedAfterFirstTraining(t *testing.T) {
	p := newTestPredictor(t, DefaultConfig())
	ctx := context.Background()

	snaps, labels := separable(60, 3, 3)
	_, err := p.Train(ctx, models.SlotFastLinear, snaps, labels)
	require.NoError(t, err)

	wide, wideLabels := separable(60, 4, 3)
	_, err = p.Train(ctx, models.SlotGradientBoosted, wide, wideLabels)
	assert.True(t, models.IsTrainingError(err))

	_, err = p.Predict(snapshot(1, 2, 3, 4))
	assert.True(t, models.IsPredictionError(err))
}

func TestSingleTrainedSlotScoreIsUsedDirectly(t *testing.T) {
	p := newTestPredictor(t, DefaultConfig(),
		WithFactory(models.SlotGradientBoosted, func(int64) Model { return &constModel{p: 0.83} }),
	)
	snaps, labels := separable(50, 2, 4)
	_, err := p.Train(context.Background(), models.SlotGradientBoosted, snaps, labels)
	require.NoError(t, err)

	sig, err := p.Predict(snapshot(0.3, -0.2))
	require.NoError(t, err)
	assert.InDelta(t, 0.83, sig.Score, 1e-12)
	assert.Equal(t, models.SignalBuy, sig.Signal)
	assert.InDelta(t, 0.66, sig.Confidence, 1e-9)
	require.Len(t, sig.Votes, 1)
	assert.Equal(t, models.SlotGradientBoosted, sig.Votes[0].Slot)
	assert.NotEmpty(t, sig.ID)
}

func TestWeightedVote(t *testing.T) {
	p := newTestPredictor(t, DefaultConfig(),
		WithFactory(models.SlotFastLinear, func(int64) Model { return &constModel{p: 0.9} }),
		WithFactory(models.SlotGradientBoosted, func(int64) Model { return &constModel{p: 0.2} }),
	)
	ctx := context.Background()
	snaps, labels := separable(50, 2, 5)
	_, err := p.Train(ctx, models.SlotFastLinear, snaps, labels)
	require.NoError(t, err)
	_, err = p.Train(ctx, models.SlotGradientBoosted, snaps, labels)
	require.NoError(t, err)

	sig, err := p.Predict(snapshot(0, 0))
	require.NoError(t, err)
	assert.InDelta(t, 0.55, sig.Score, 1e-9)
	assert.Equal(t, models.SignalHold, sig.Signal)

	p.SetWeight(models.SlotGradientBoosted, 0)
	sig, err = p.Predict(snapshot(0, 0))
	require.NoError(t, err)
	assert.InDelta(t, 0.9, sig.Score, 1e-9)

	p.SetWeight(models.SlotFastLinear, 0)
	sig, err = p.Predict(snapshot(0, 0))
	require.NoError(t, err)
	assert.InDelta(t, 0.55, sig.Score, 1e-9, "all-zero weights fall back to equal")
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  models.Signal
	}{
		{0.6, models.SignalBuy},
		{0.4, models.SignalSell},
		{0.5, models.SignalHold},
		{1, models.SignalBuy},
		{0, models.SignalSell},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, models.Classify(tc.score, 0.6, 0.4), "score %v", tc.score)
	}
}

func TestRealModelsLearnSeparableData(t *testing.T) {
	p := newTestPredictor(t, DefaultConfig())
	ctx := context.Background()
	snaps, labels := separable(300, 4, 6)

	for _, slot := range models.AllSlots() {
		info, err := p.Train(ctx, slot, snaps, labels)
		require.NoError(t, err, slot)
		assert.Greater(t, info.Metrics.ValidationAccuracy, 0.75, slot)
	}

	up, err := p.Predict(snapshot(2.5, 0, 0, 0))
	require.NoError(t, err)
	down, err := p.Predict(snapshot(-2.5, 0, 0, 0))
	require.NoError(t, err)

	assert.Greater(t, up.Score, down.Score)
	for _, sig := range []*models.EnsembleSignal{up, down} {
		assert.GreaterOrEqual(t, sig.Confidence, 0.0)
		assert.LessOrEqual(t, sig.Confidence, 1.0)
		assert.Len(t, sig.Votes, 3)
	}
}

func TestKeepBetterRejectsRegression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RollbackPolicy = RollbackKeepBetter
	calls := 0
	p := newTestPredictor(t, cfg, WithFactory(models.SlotFastLinear, func(int64) Model {
		calls++
		return &signModel{invert: calls > 1}
	}))
	ctx := context.Background()
	snaps, labels := separable(100, 2, 7)

	first, err := p.Train(ctx, models.SlotFastLinear, snaps, labels)
	require.NoError(t, err)

	_, err = p.Train(ctx, models.SlotFastLinear, snaps, labels)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCandidateRejected))
	assert.True(t, IsCandidateRejected(err))
	assert.Equal(t, first.Version, p.State(models.SlotFastLinear).Version)
}

func TestOverwritePublishesRegression(t *testing.T) {
	calls := 0
	p := newTestPredictor(t, DefaultConfig(), WithFactory(models.SlotFastLinear, func(int64) Model {
		calls++
		return &signModel{invert: calls > 1}
	}))
	ctx := context.Background()
	snaps, labels := separable(100, 2, 7)

	_, err := p.Train(ctx, models.SlotFastLinear, snaps, labels)
	require.NoError(t, err)
	info, err := p.Train(ctx, models.SlotFastLinear, snaps, labels)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Version)
}

func TestRollbackRepublishesPreviousVersion(t *testing.T) {
	calls := 0
	p := newTestPredictor(t, DefaultConfig(), WithFactory(models.SlotFastLinear, func(int64) Model {
		calls++
		return &signModel{invert: calls > 1}
	}))
	ctx := context.Background()
	snaps, labels := separable(100, 2, 8)

	_, err := p.Rollback(ctx, models.SlotFastLinear)
	assert.Error(t, err)

	_, err = p.Train(ctx, models.SlotFastLinear, snaps, labels)
	require.NoError(t, err)
	_, err = p.Train(ctx, models.SlotFastLinear, snaps, labels)
	require.NoError(t, err)

	info, err := p.Rollback(ctx, models.SlotFastLinear)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.Version)

	st := p.State(models.SlotFastLinear)
	assert.Equal(t, uint64(1), st.RestoredFrom)
	assert.False(t, st.Model.(*signModel).invert)

	_, err = p.Rollback(ctx, models.SlotFastLinear)
	assert.Error(t, err)
	assert.Equal(t, uint64(3), p.State(models.SlotFastLinear).Version)
}

func TestRepeatedRollbackStepsFurtherBack(t *testing.T) {
	calls := 0
	p := newTestPredictor(t, DefaultConfig(), WithFactory(models.SlotFastLinear, func(int64) Model {
		calls++
		return &constModel{p: 0.5 + 0.1*float64(calls)}
	}))
	ctx := context.Background()
	snaps, labels := separable(40, 2, 15)
	for i := 0; i < 3; i++ {
		_, err := p.Train(ctx, models.SlotFastLinear, snaps, labels)
		require.NoError(t, err)
	}

	info, err := p.Rollback(ctx, models.SlotFastLinear)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), info.Version)
	st := p.State(models.SlotFastLinear)
	assert.Equal(t, uint64(2), st.RestoredFrom)
	assert.InDelta(t, 0.7, st.Model.(*constModel).p, 1e-9)

	info, err = p.Rollback(ctx, models.SlotFastLinear)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), info.Version)
	st = p.State(models.SlotFastLinear)
	assert.Equal(t, uint64(1), st.RestoredFrom)
	assert.InDelta(t, 0.6, st.Model.(*constModel).p, 1e-9)

	_, err = p.Rollback(ctx, models.SlotFastLinear)
	assert.Error(t, err)
	assert.Equal(t, uint64(5), p.State(models.SlotFastLinear).Version)
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 2
	p := newTestPredictor(t, cfg, WithFactory(models.SlotFastLinear, func(int64) Model { return &constModel{p: 0.7} }))
	snaps, labels := separable(40, 2, 9)
	for i := 0; i < 4; i++ {
		_, err := p.Train(context.Background(), models.SlotFastLinear, snaps, labels)
		require.NoError(t, err)
	}
	infos := p.Slots()
	require.Len(t, infos, 3)
	assert.Equal(t, 2, infos[0].History)
	assert.Equal(t, uint64(4), infos[0].Version)
	assert.False(t, infos[1].Trained)
}

func TestPersistAndRestore(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	snaps, labels := separable(120, 3, 10)

	p := newTestPredictor(t, DefaultConfig(), WithStore(store))
	for _, slot := range models.AllSlots() {
		_, err := p.Train(ctx, slot, snaps, labels)
		require.NoError(t, err)
	}
	want, err := p.Predict(snapshot(0.4, -1, 0.2))
	require.NoError(t, err)

	restored := newTestPredictor(t, DefaultConfig(), WithStore(store))
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := restored.Predict(snapshot(0.4, -1, 0.2))
	require.NoError(t, err)
	assert.InDelta(t, want.Score, got.Score, 1e-12)
	assert.Equal(t, p.State(models.SlotSequence).DataHash, restored.State(models.SlotSequence).DataHash)
}

func TestCleanupOldVersions(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	snaps, labels := separable(40, 2, 11)
	p := newTestPredictor(t, DefaultConfig(), WithStore(store))
	for i := 0; i < 7; i++ {
		_, err := p.Train(ctx, models.SlotFastLinear, snaps, labels)
		require.NoError(t, err)
	}

	removed, err := p.CleanupOldVersions(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	versions, _ := store.Versions(ctx, models.SlotFastLinear)
	assert.Equal(t, []uint64{3, 4, 5, 6, 7}, versions)
}

func TestPredictDuringTraining(t *testing.T) {
	p := newTestPredictor(t, DefaultConfig())
	ctx := context.Background()
	snaps, labels := separable(80, 3, 12)
	_, err := p.Train(ctx, models.SlotFastLinear, snaps, labels)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			_, _ = p.Train(ctx, models.SlotFastLinear, snaps, labels)
		}
	}()
	for i := 0; i < 200; i++ {
		sig, err := p.Predict(snapshot(0.1, 0.2, 0.3))
		require.NoError(t, err)
		assert.NotNil(t, sig)
	}
	wg.Wait()
}

func TestTrainHonoursCancelledContext(t *testing.T) {
	p := newTestPredictor(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snaps, labels := separable(60, 3, 13)

	_, err := p.Train(ctx, models.SlotGradientBoosted, snaps, labels)
	assert.True(t, models.IsTrainingError(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, p.Trained(models.SlotGradientBoosted))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BuyThreshold, cfg.SellThreshold = 0.4, 0.6
	_, err := New(cfg)
	var ce *models.ConfigurationError
	assert.ErrorAs(t, err, &ce)

	cfg = DefaultConfig()
	cfg.RollbackPolicy = "sometimes"
	_, err = New(cfg)
	assert.ErrorAs(t, err, &ce)
}

// blockingModel parks in Fit until released.
type blockingModel struct {
	entered chan<- struct{}
	release <-chan struct{}
}

func (m *blockingModel) Fit(context.Context, [][]float64, []float64) error {
	m.entered <- struct{}{}
	<-m.release
	return nil
}
func (m *blockingModel) PredictProba([]float64) float64      { return 0.6 }
func (m *blockingModel) Hyperparameters() map[string]float64 { return nil }

func TestConcurrentTrainOnOneSlotIsSerialized(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	p := newTestPredictor(t, DefaultConfig(), WithFactory(models.SlotFastLinear, func(int64) Model {
		return &blockingModel{entered: entered, release: release}
	}))
	ctx := context.Background()
	snaps, labels := separable(40, 2, 16)

	versions := make(chan uint64, 2)
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := p.Train(ctx, models.SlotFastLinear, snaps, labels)
			if err != nil {
				errs <- err
				return
			}
			versions <- info.Version
		}()
	}

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first fit never started")
	}
	select {
	case <-entered:
		t.Fatal("second fit started while the first still held the slot")
	case <-time.After(50 * time.Millisecond):
	}
	release <- struct{}{}

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("second fit never started")
	}
	release <- struct{}{}
	wg.Wait()
	close(versions)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	var got []uint64
	for v := range versions {
		got = append(got, v)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []uint64{1, 2}, got)
	assert.Equal(t, uint64(2), p.State(models.SlotFastLinear).Version)
}

func TestSequenceSlotReadsSnapshotHistory(t *testing.T) {
	p := newTestPredictor(t, DefaultConfig())
	ctx := context.Background()
	snaps, labels := lagged(240, 17)
	_, err := p.Train(ctx, models.SlotSequence, snaps, labels)
	require.NoError(t, err)

	st := p.State(models.SlotSequence)
	require.NotNil(t, st)
	up := models.FeatureSnapshot{Symbol: "BTCUSDT", Values: []float64{-1}, History: [][]float64{{-1}, {1}}}
	down := models.FeatureSnapshot{Symbol: "BTCUSDT", Values: []float64{-1}, History: [][]float64{{1}, {-1}}}
	assert.Greater(t, st.Score(up), st.Score(down))

	a, err := p.Predict(up)
	require.NoError(t, err)
	b, err := p.Predict(down)
	require.NoError(t, err)
	assert.NotEqual(t, a.Score, b.Score)
}
