package models

import "time"

// FeatureSnapshot is a fixed-shape feature vector for one time step.
// Values must not be mutated once the snapshot has been handed out.
type FeatureSnapshot struct {
	Symbol    string    `json:"symbol"`
	Names     []string  `json:"names,omitempty"`
	Values    []float64 `json:"values"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	// History holds the feature vectors of the preceding bars, oldest first.
	History [][]float64 `json:"history,omitempty"`
}

// Window returns the last steps vectors ending at this snapshot, oldest first.
// Missing history is padded by repeating the oldest vector available.
func (s FeatureSnapshot) Window(steps int) [][]float64 {
	if steps < 1 {
		steps = 1
	}
	out := make([][]float64, steps)
	out[steps-1] = s.Values
	h := len(s.History)
	for i := steps - 2; i >= 0; i-- {
		back := steps - 1 - i
		switch {
		case back <= h:
			out[i] = s.History[h-back]
		default:
			out[i] = out[i+1]
		}
	}
	return out
}

// Arity returns the number of features in the snapshot.
func (s FeatureSnapshot) Arity() int { return len(s.Values) }

// TrainingSet pairs snapshots with direction labels (1 = up, 0 = down/flat).
type TrainingSet struct {
	Symbol    string
	Snapshots []FeatureSnapshot
	Labels    []float64
	BuiltAt   time.Time
}

// Len returns the number of labelled samples.
func (t *TrainingSet) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Snapshots)
}

// Candle represents an OHLCV record for feature engineering and training.
type Candle struct {
	Bucket time.Time `json:"bucket"`
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Quote is a single price tick from the live market stream.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	Time   time.Time `json:"time"`
}
