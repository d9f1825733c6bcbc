package service

import (
	"context"
	"time"

	"FinLearn/internal/domain/models"
)

// Predictor is the ensemble surface used by the scheduler and use cases.
type Predictor interface {
	Train(ctx context.Context, slot models.ModelSlot, snapshots []models.FeatureSnapshot, labels []float64) (*models.SlotInfo, error)
	Predict(snapshot models.FeatureSnapshot) (*models.EnsembleSignal, error)
	SetWeight(slot models.ModelSlot, w float64)
	Weight(slot models.ModelSlot) float64
	BaseWeight(slot models.ModelSlot) float64
	Slots() []models.SlotInfo
}

// PerformanceTracker is the performance surface used by the scheduler and use cases.
type PerformanceTracker interface {
	LogPrediction(sig models.EnsembleSignal) models.PredictionRecord
	SubmitOutcome(id string, outcome models.Signal) (bool, error)
	RecentPerformance(window int) models.RecentPerformance
	SlotAccuracy(slot models.ModelSlot, window int) *float64
	Trend(subject string, window int) models.Trend
	RecordSample(s models.PerformanceSample)
	Unresolved(olderThan time.Time) []models.PredictionRecord
	Size() int
}
