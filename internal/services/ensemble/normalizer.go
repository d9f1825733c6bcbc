package ensemble

import (
	"gonum.org/v1/gonum/stat"
)

const minStd = 1e-10

// Normalizer is a z-score scaler fitted on training data.
type Normalizer struct {
	Means []float64 `msgpack:"means"`
	Stds  []float64 `msgpack:"stds"`
}

// FitNormalizer computes per-column mean and standard deviation.
func FitNormalizer(x [][]float64) *Normalizer {
	if len(x) == 0 {
		return &Normalizer{}
	}
	d := len(x[0])
	n := &Normalizer{Means: make([]float64, d), Stds: make([]float64, d)}
	col := make([]float64, len(x))
	for j := 0; j < d; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if len(x) < 2 || std < minStd || std != std {
			std = 1
		}
		n.Means[j] = mean
		n.Stds[j] = std
	}
	return n
}

// Transform returns a scaled copy of v.
func (n *Normalizer) Transform(v []float64) []float64 {
	out := make([]float64, len(v))
	for j := range v {
		if j >= len(n.Means) {
			out[j] = v[j]
			continue
		}
		out[j] = (v[j] - n.Means[j]) / n.Stds[j]
	}
	return out
}

// TransformAll scales every row.
func (n *Normalizer) TransformAll(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i := range x {
		out[i] = n.Transform(x[i])
	}
	return out
}
