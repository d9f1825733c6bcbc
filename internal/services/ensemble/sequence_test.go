package ensemble

import (
	"context"
	"math/rand"
	"testing"

	"FinLearn/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lagged returns a ±1 series whose label is the sign of the previous value,
// so a single vector carries no information about its own label.
func lagged(n int, seed int64) ([]models.FeatureSnapshot, []float64) {
	rng := rand.New(rand.NewSource(seed))
	vals := make([]float64, n+1)
	for i := range vals {
		vals[i] = 1
		if rng.Intn(2) == 0 {
			vals[i] = -1
		}
	}
	snaps := make([]models.FeatureSnapshot, n)
	labels := make([]float64, n)
	for i := range snaps {
		t := i + 1
		var hist [][]float64
		for k := max(0, t-4); k < t; k++ {
			hist = append(hist, []float64{vals[k]})
		}
		snaps[i] = models.FeatureSnapshot{Symbol: "BTCUSDT", Values: []float64{vals[t]}, History: hist, Price: 100}
		if vals[t-1] > 0 {
			labels[i] = 1
		}
	}
	return snaps, labels
}

func rowsOf(snaps []models.FeatureSnapshot) [][]float64 {
	x := make([][]float64, len(snaps))
	for i, s := range snaps {
		x[i] = s.Values
	}
	return x
}

func TestSequenceNetLearnsLagDependency(t *testing.T) {
	snaps, labels := lagged(400, 21)
	x := rowsOf(snaps)
	m := NewSequenceNet(3)
	m.Steps = 4
	m.Epochs = 60

	require.NoError(t, m.Fit(context.Background(), x[:300], labels[:300]))

	windows := rowWindows(x, m.Steps)
	correct := 0
	for i := 300; i < len(x); i++ {
		if (m.PredictSequence(windows[i]) >= 0.5) == (labels[i] == 1) {
			correct++
		}
	}
	assert.GreaterOrEqual(t, float64(correct)/100, 0.8)
}

func TestSequenceNetReadsEarlierSteps(t *testing.T) {
	snaps, labels := lagged(200, 22)
	m := NewSequenceNet(4)
	m.Steps = 3
	require.NoError(t, m.Fit(context.Background(), rowsOf(snaps), labels))

	a := m.PredictSequence([][]float64{{1}, {1}, {-1}})
	b := m.PredictSequence([][]float64{{1}, {-1}, {-1}})
	assert.NotEqual(t, a, b)

	assert.Equal(t, 0.5, m.PredictSequence([][]float64{{1, 2}}))
	assert.Equal(t, 0.5, m.PredictSequence(nil))
	// Longer windows are cut to the most recent Steps vectors.
	assert.Equal(t, m.PredictSequence([][]float64{{1}, {-1}, {-1}}),
		m.PredictSequence([][]float64{{-1}, {-1}, {1}, {-1}, {-1}}))
}

func TestSequenceNetRoundTrip(t *testing.T) {
	snaps, labels := lagged(120, 23)
	m := NewSequenceNet(5)
	require.NoError(t, m.Fit(context.Background(), rowsOf(snaps), labels))
	st := &SlotState{Slot: models.SlotSequence, Version: 2, Arity: 1, Normalizer: FitNormalizer(rowsOf(snaps)), Model: m}

	blob, err := encodeState(st)
	require.NoError(t, err)
	got, err := decodeState(models.ModelVersion{Slot: models.SlotSequence, Version: 2, Blob: blob, RestoredFrom: 1})
	require.NoError(t, err)

	seq := [][]float64{{1}, {-1}, {1}}
	assert.Equal(t, m.PredictSequence(seq), got.Model.(*SequenceNet).PredictSequence(seq))
	assert.Equal(t, m.Steps, got.Model.(*SequenceNet).WindowSize())
	assert.Equal(t, uint64(1), got.RestoredFrom)
}
