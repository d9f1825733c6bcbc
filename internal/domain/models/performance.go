package models

import "time"

// SubjectEnsemble is the performance subject used for the combined signal.
const SubjectEnsemble = "ensemble"

const (
	MetricAccuracy           = "accuracy"
	MetricValidationAccuracy = "validation_accuracy"
)

// PredictionRecord is a logged signal awaiting (or holding) its realized outcome.
type PredictionRecord struct {
	ID           string         `json:"id"`
	GeneratedAt  time.Time      `json:"generated_at"`
	Signal       EnsembleSignal `json:"signal"`
	Outcome      *Signal        `json:"outcome,omitempty"`
	OutcomeSetAt *time.Time     `json:"outcome_set_at,omitempty"`
}

// Resolved reports whether an outcome has been attached.
func (r *PredictionRecord) Resolved() bool { return r.Outcome != nil }

// Correct reports whether the resolved outcome matches the signal.
func (r *PredictionRecord) Correct() bool {
	return r.Outcome != nil && *r.Outcome == r.Signal.Signal
}

// PerformanceSample is a single metric observation for a slot or the ensemble.
type PerformanceSample struct {
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
}

// RecentPerformance is the rolling accuracy over the evaluation window.
// Accuracy is nil when fewer than window records are resolved.
type RecentPerformance struct {
	Accuracy    *float64 `json:"accuracy"`
	SampleCount int      `json:"sample_count"`
	Window      int      `json:"window"`
}

// Trend describes the direction of a metric between two windows.
type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendDegrading        Trend = "degrading"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)
