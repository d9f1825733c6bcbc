package ensemble

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// SequenceNet is an Elman recurrent network over the last Steps feature
// vectors. It is trained by backpropagation through time in chronological
// order, with later windows weighted up by exponential recency decay.
type SequenceNet struct {
	Steps        int         `msgpack:"steps"`
	Hidden       int         `msgpack:"hidden"`
	Wx           [][]float64 `msgpack:"wx"`
	Wh           [][]float64 `msgpack:"wh"`
	Bh           []float64   `msgpack:"bh"`
	Wo           []float64   `msgpack:"wo"`
	Bo           float64     `msgpack:"bo"`
	LearningRate float64     `msgpack:"learning_rate"`
	Epochs       int         `msgpack:"epochs"`
	Decay        float64     `msgpack:"decay"`
	Clip         float64     `msgpack:"clip"`
	Seed         int64       `msgpack:"seed"`
}

func NewSequenceNet(seed int64) *SequenceNet {
	return &SequenceNet{
		Steps:        12,
		Hidden:       12,
		LearningRate: 0.03,
		Epochs:       30,
		Decay:        1.0,
		Clip:         5,
		Seed:         seed,
	}
}

// WindowSize is the number of consecutive vectors the network reads.
func (m *SequenceNet) WindowSize() int { return m.Steps }

// Fit treats the rows as one chronological series and trains on the window
// ending at every row.
func (m *SequenceNet) Fit(ctx context.Context, x [][]float64, y []float64) error {
	return m.FitSequences(ctx, rowWindows(x, m.Steps), y)
}

// FitSequences trains on windows of vectors, oldest first, one label per window.
func (m *SequenceNet) FitSequences(ctx context.Context, seqs [][][]float64, y []float64) error {
	if len(seqs) == 0 || len(seqs[0]) == 0 {
		return errors.New("empty training set")
	}
	if len(seqs) != len(y) {
		return errors.New("window and label count differ")
	}
	n := len(seqs)
	m.init(len(seqs[0][0]))

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = math.Exp(-m.Decay * float64(n-1-i) / float64(n))
	}
	floats.Scale(float64(n)/floats.Sum(weights), weights)

	g := newRNNGrad(m.Hidden, len(m.Wx[0]))
	for epoch := 0; epoch < m.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			m.step(seqs[i], y[i], weights[i], g)
		}
	}
	return nil
}

func (m *SequenceNet) init(d int) {
	rng := rand.New(rand.NewSource(m.Seed))
	if m.Steps < 1 {
		m.Steps = 1
	}
	xs := math.Sqrt(1 / float64(d))
	hs := math.Sqrt(1 / float64(m.Hidden))
	m.Wx = randMatrix(rng, m.Hidden, d, xs)
	m.Wh = randMatrix(rng, m.Hidden, m.Hidden, hs*0.5)
	m.Bh = make([]float64, m.Hidden)
	m.Wo = make([]float64, m.Hidden)
	for j := range m.Wo {
		m.Wo[j] = rng.NormFloat64() * hs
	}
	m.Bo = 0
}

func randMatrix(rng *rand.Rand, rows, cols int, scale float64) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			out[i][j] = rng.NormFloat64() * scale
		}
	}
	return out
}

// states runs the recurrence and returns h_0..h_T, h_0 being zero.
func (m *SequenceNet) states(seq [][]float64) [][]float64 {
	hs := make([][]float64, len(seq)+1)
	hs[0] = make([]float64, m.Hidden)
	for t, x := range seq {
		prev := hs[t]
		h := make([]float64, m.Hidden)
		for j := 0; j < m.Hidden; j++ {
			h[j] = math.Tanh(floats.Dot(m.Wx[j], x) + floats.Dot(m.Wh[j], prev) + m.Bh[j])
		}
		hs[t+1] = h
	}
	return hs
}

type rnnGrad struct {
	wx [][]float64
	wh [][]float64
	bh []float64
	wo []float64
	dh []float64
	da []float64
}

func newRNNGrad(hidden, d int) *rnnGrad {
	g := &rnnGrad{
		wx: make([][]float64, hidden),
		wh: make([][]float64, hidden),
		bh: make([]float64, hidden),
		wo: make([]float64, hidden),
		dh: make([]float64, hidden),
		da: make([]float64, hidden),
	}
	for j := 0; j < hidden; j++ {
		g.wx[j] = make([]float64, d)
		g.wh[j] = make([]float64, hidden)
	}
	return g
}

func (g *rnnGrad) zero() {
	for j := range g.wx {
		zero(g.wx[j])
		zero(g.wh[j])
	}
	zero(g.bh)
	zero(g.wo)
}

func zero(v []float64) {
	for i := range v {
		v[i] = 0
	}
}

func (g *rnnGrad) norm(bo float64) float64 {
	sum := bo * bo
	for j := range g.wx {
		sum += floats.Dot(g.wx[j], g.wx[j]) + floats.Dot(g.wh[j], g.wh[j])
	}
	sum += floats.Dot(g.bh, g.bh) + floats.Dot(g.wo, g.wo)
	return math.Sqrt(sum)
}

// step applies one SGD update on a single window, with gradients clipped by norm.
func (m *SequenceNet) step(seq [][]float64, label, weight float64, g *rnnGrad) {
	hs := m.states(seq)
	last := hs[len(seq)]
	out := sigmoid(floats.Dot(m.Wo, last) + m.Bo)
	delta := (out - label) * weight

	g.zero()
	floats.AddScaled(g.wo, delta, last)
	gbo := delta
	for j := range g.dh {
		g.dh[j] = delta * m.Wo[j]
	}
	for t := len(seq); t >= 1; t-- {
		h, prev := hs[t], hs[t-1]
		for j := range g.da {
			g.da[j] = g.dh[j] * (1 - h[j]*h[j])
		}
		for j := range g.da {
			floats.AddScaled(g.wx[j], g.da[j], seq[t-1])
			floats.AddScaled(g.wh[j], g.da[j], prev)
		}
		floats.Add(g.bh, g.da)
		zero(g.dh)
		for j := range g.da {
			floats.AddScaled(g.dh, g.da[j], m.Wh[j])
		}
	}

	lr := m.LearningRate
	if n := g.norm(gbo); m.Clip > 0 && n > m.Clip {
		lr *= m.Clip / n
	}
	for j := 0; j < m.Hidden; j++ {
		floats.AddScaled(m.Wx[j], -lr, g.wx[j])
		floats.AddScaled(m.Wh[j], -lr, g.wh[j])
	}
	floats.AddScaled(m.Bh, -lr, g.bh)
	floats.AddScaled(m.Wo, -lr, g.wo)
	m.Bo -= lr * gbo
}

// PredictSequence scores a window of vectors, oldest first.
func (m *SequenceNet) PredictSequence(seq [][]float64) float64 {
	if len(m.Wx) == 0 || len(seq) == 0 {
		return 0.5
	}
	d := len(m.Wx[0])
	for _, x := range seq {
		if len(x) != d {
			return 0.5
		}
	}
	if len(seq) > m.Steps {
		seq = seq[len(seq)-m.Steps:]
	}
	hs := m.states(seq)
	return sigmoid(floats.Dot(m.Wo, hs[len(seq)]) + m.Bo)
}

// PredictProba scores x as a window of one step.
func (m *SequenceNet) PredictProba(x []float64) float64 {
	return m.PredictSequence([][]float64{x})
}

func (m *SequenceNet) Hyperparameters() map[string]float64 {
	return map[string]float64{
		"steps":         float64(m.Steps),
		"hidden":        float64(m.Hidden),
		"learning_rate": m.LearningRate,
		"epochs":        float64(m.Epochs),
		"decay":         m.Decay,
	}
}

// rowWindows builds the window ending at each row of a chronological series.
func rowWindows(x [][]float64, steps int) [][][]float64 {
	if steps < 1 {
		steps = 1
	}
	out := make([][][]float64, len(x))
	for i := range x {
		w := make([][]float64, steps)
		for k := 0; k < steps; k++ {
			j := i - (steps - 1 - k)
			if j < 0 {
				j = 0
			}
			w[k] = x[j]
		}
		out[i] = w
	}
	return out
}
