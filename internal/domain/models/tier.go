package models

import "time"

// TierState is the observable state of one retraining tier.
type TierState struct {
	Tier               int           `json:"tier"`
	Interval           time.Duration `json:"interval"`
	Slots              []ModelSlot   `json:"slots"`
	LastTrainedAt      *time.Time    `json:"last_trained_at,omitempty"`
	TrainingInProgress bool          `json:"training_in_progress"`
	LastError          string        `json:"last_error,omitempty"`
	LastDuration       time.Duration `json:"last_duration"`
	Runs               int           `json:"runs"`
	Failures           int           `json:"failures"`
}

// FeedbackStatus is the snapshot returned to API collaborators.
type FeedbackStatus struct {
	Tiers              []TierState            `json:"tiers"`
	TrainingInProgress bool                   `json:"training_in_progress"`
	RecentPerformance  RecentPerformance      `json:"recent_performance"`
	SlotAccuracy       map[ModelSlot]*float64 `json:"slot_accuracy"`
	ModelTrends        map[string]Trend       `json:"model_performance_trends"`
	Models             []SlotInfo             `json:"models"`
	PredictionLogSize  int                    `json:"prediction_log_size"`
	Config             map[string]interface{} `json:"config"`
	GeneratedAt        time.Time              `json:"generated_at"`
}

// SlotResult reports the outcome of training a single slot inside a tier.
// Rejected means the rollback policy kept the previous version.
type SlotResult struct {
	Slot     ModelSlot     `json:"slot"`
	Version  uint64        `json:"version,omitempty"`
	Accuracy float64       `json:"accuracy,omitempty"`
	Duration time.Duration `json:"duration"`
	Rejected bool          `json:"rejected,omitempty"`
	Err      string        `json:"error,omitempty"`
}

// OK reports whether the slot ended the run with a usable model.
func (r SlotResult) OK() bool { return r.Err == "" || r.Rejected }

// TierResult reports one tier's run inside a training cycle.
type TierResult struct {
	Tier    int          `json:"tier"`
	Fired   bool         `json:"fired"`
	Skipped string       `json:"skipped,omitempty"`
	Slots   []SlotResult `json:"slots,omitempty"`
}

// CycleReport summarizes a training cycle.
type CycleReport struct {
	StartedAt time.Time    `json:"started_at"`
	Tiers     []TierResult `json:"tiers"`
}

// Fired returns the tiers that actually trained in the cycle.
func (r CycleReport) Fired() []int {
	out := make([]int, 0, len(r.Tiers))
	for _, t := range r.Tiers {
		if t.Fired {
			out = append(out, t.Tier)
		}
	}
	return out
}
