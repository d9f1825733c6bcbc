package ensemble

import (
	"context"
	"errors"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// TreeNode is a flattened regression-tree node.
type TreeNode struct {
	Feature   int     `msgpack:"f"`
	Threshold float64 `msgpack:"t"`
	Left      int     `msgpack:"l"`
	Right     int     `msgpack:"r"`
	Value     float64 `msgpack:"v"`
	Leaf      bool    `msgpack:"leaf"`
}

// RegressionTree predicts a Newton-step leaf value.
type RegressionTree struct {
	Nodes []TreeNode `msgpack:"nodes"`
}

func (t *RegressionTree) predict(x []float64) float64 {
	i := 0
	for !t.Nodes[i].Leaf {
		n := t.Nodes[i]
		if n.Feature < len(x) && x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return t.Nodes[i].Value
}

// GradientBoosted is a log-loss gradient-boosted tree ensemble.
type GradientBoosted struct {
	Trees        []RegressionTree `msgpack:"trees"`
	BaseScore    float64          `msgpack:"base_score"`
	NEstimators  int              `msgpack:"n_estimators"`
	MaxDepth     int              `msgpack:"max_depth"`
	LearningRate float64          `msgpack:"learning_rate"`
	MinLeaf      int              `msgpack:"min_leaf"`
	Lambda       float64          `msgpack:"lambda"`
}

func NewGradientBoosted() *GradientBoosted {
	return &GradientBoosted{
		NEstimators:  100,
		MaxDepth:     3,
		LearningRate: 0.1,
		MinLeaf:      5,
		Lambda:       1,
	}
}

func (m *GradientBoosted) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if len(x) == 0 {
		return errors.New("empty training set")
	}
	n := len(x)
	m.BaseScore = logit(floats.Sum(y) / float64(n))
	m.Trees = make([]RegressionTree, 0, m.NEstimators)

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = m.BaseScore
	}
	g := make([]float64, n)
	h := make([]float64, n)
	idx := make([]int, n)

	for round := 0; round < m.NEstimators; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range raw {
			p := sigmoid(raw[i])
			g[i] = y[i] - p
			h[i] = p * (1 - p)
			idx[i] = i
		}
		b := &treeBuilder{x: x, g: g, h: h, maxDepth: m.MaxDepth, minLeaf: m.MinLeaf, lambda: m.Lambda}
		b.build(idx, 0)
		tree := RegressionTree{Nodes: b.nodes}
		for i := range raw {
			raw[i] += m.LearningRate * tree.predict(x[i])
		}
		m.Trees = append(m.Trees, tree)
	}
	return nil
}

func (m *GradientBoosted) PredictProba(x []float64) float64 {
	z := m.BaseScore
	for i := range m.Trees {
		z += m.LearningRate * m.Trees[i].predict(x)
	}
	return sigmoid(z)
}

func (m *GradientBoosted) Hyperparameters() map[string]float64 {
	return map[string]float64{
		"n_estimators":  float64(m.NEstimators),
		"max_depth":     float64(m.MaxDepth),
		"learning_rate": m.LearningRate,
		"min_leaf":      float64(m.MinLeaf),
		"lambda":        m.Lambda,
	}
}

type treeBuilder struct {
	x        [][]float64
	g, h     []float64
	maxDepth int
	minLeaf  int
	lambda   float64
	nodes    []TreeNode
}

func (b *treeBuilder) leafValue(idx []int) float64 {
	var gs, hs float64
	for _, i := range idx {
		gs += b.g[i]
		hs += b.h[i]
	}
	return gs / (hs + b.lambda)
}

// build appends the subtree for idx and returns its root position.
func (b *treeBuilder) build(idx []int, depth int) int {
	pos := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{})

	if depth >= b.maxDepth || len(idx) < 2*b.minLeaf {
		b.nodes[pos] = TreeNode{Leaf: true, Value: b.leafValue(idx)}
		return pos
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		b.nodes[pos] = TreeNode{Leaf: true, Value: b.leafValue(idx)}
		return pos
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[pos] = TreeNode{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return pos
}

func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	var gTotal, hTotal float64
	for _, i := range idx {
		gTotal += b.g[i]
		hTotal += b.h[i]
	}
	parent := gTotal * gTotal / (hTotal + b.lambda)

	bestGain := 1e-12
	bestFeature, bestThreshold, found := 0, 0.0, false
	sorted := make([]int, len(idx))
	d := len(b.x[idx[0]])

	for f := 0; f < d; f++ {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.x[sorted[a]][f] < b.x[sorted[c]][f] })

		var gl, hl float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			gl += b.g[i]
			hl += b.h[i]
			if k+1 < b.minLeaf || len(sorted)-k-1 < b.minLeaf {
				continue
			}
			cur, next := b.x[i][f], b.x[sorted[k+1]][f]
			if cur == next {
				continue
			}
			gr, hr := gTotal-gl, hTotal-hl
			gain := gl*gl/(hl+b.lambda) + gr*gr/(hr+b.lambda) - parent
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (cur + next) / 2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}
