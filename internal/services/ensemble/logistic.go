package ensemble

import (
	"context"
	"errors"

	"gonum.org/v1/gonum/floats"
)

// LogisticRegression is an L2-regularized logistic classifier fitted by batch gradient descent.
type LogisticRegression struct {
	Weights      []float64 `msgpack:"weights"`
	Bias         float64   `msgpack:"bias"`
	LearningRate float64   `msgpack:"learning_rate"`
	Epochs       int       `msgpack:"epochs"`
	L2           float64   `msgpack:"l2"`
}

func NewLogisticRegression() *LogisticRegression {
	return &LogisticRegression{LearningRate: 0.1, Epochs: 300, L2: 1e-3}
}

func (m *LogisticRegression) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if len(x) == 0 {
		return errors.New("empty training set")
	}
	n := float64(len(x))
	d := len(x[0])
	m.Weights = make([]float64, d)
	m.Bias = logit(floats.Sum(y) / n)
	grad := make([]float64, d)

	for epoch := 0; epoch < m.Epochs; epoch++ {
		if epoch%20 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for j := range grad {
			grad[j] = 0
		}
		gb := 0.0
		for i := range x {
			e := sigmoid(floats.Dot(m.Weights, x[i])+m.Bias) - y[i]
			floats.AddScaled(grad, e, x[i])
			gb += e
		}
		floats.Scale(1/n, grad)
		floats.AddScaled(grad, m.L2, m.Weights)
		floats.AddScaled(m.Weights, -m.LearningRate, grad)
		m.Bias -= m.LearningRate * gb / n
	}
	return nil
}

func (m *LogisticRegression) PredictProba(x []float64) float64 {
	if len(m.Weights) != len(x) {
		return 0.5
	}
	return sigmoid(floats.Dot(m.Weights, x) + m.Bias)
}

func (m *LogisticRegression) Hyperparameters() map[string]float64 {
	return map[string]float64{
		"learning_rate": m.LearningRate,
		"epochs":        float64(m.Epochs),
		"l2":            m.L2,
	}
}
