package ensemble

import (
	"context"
	"math"

	"FinLearn/internal/domain/models"
)

// Model is a binary classifier producing the probability of upward movement.
type Model interface {
	Fit(ctx context.Context, x [][]float64, y []float64) error
	PredictProba(x []float64) float64
	Hyperparameters() map[string]float64
}

// SequenceModel reads a window of consecutive vectors, oldest first, instead of one row.
type SequenceModel interface {
	Model
	WindowSize() int
	FitSequences(ctx context.Context, seqs [][][]float64, y []float64) error
	PredictSequence(seq [][]float64) float64
}

// ModelFactory builds an untrained model for a slot.
type ModelFactory func(seed int64) Model

// DefaultFactories returns the stock model for each slot.
func DefaultFactories() map[models.ModelSlot]ModelFactory {
	return map[models.ModelSlot]ModelFactory{
		models.SlotFastLinear:      func(int64) Model { return NewLogisticRegression() },
		models.SlotGradientBoosted: func(int64) Model { return NewGradientBoosted() },
		models.SlotSequence:        func(seed int64) Model { return NewSequenceNet(seed) },
	}
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func logit(p float64) float64 {
	p = clamp(p, 1e-6, 1-1e-6)
	return math.Log(p / (1 - p))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// accuracy is the share of samples in [lo, hi) whose thresholded probability matches the label.
func accuracy(score func(i int) float64, y []float64, lo, hi int) float64 {
	if hi <= lo {
		return 0
	}
	hits := 0
	for i := lo; i < hi; i++ {
		pred := 0.0
		if score(i) >= 0.5 {
			pred = 1
		}
		if pred == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(hi-lo)
}
