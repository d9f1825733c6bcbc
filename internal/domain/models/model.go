package models

import "time"

// ModelMetrics holds the evaluation results of one training run.
type ModelMetrics struct {
	ValidationAccuracy float64 `json:"validation_accuracy" msgpack:"validation_accuracy"`
	TrainAccuracy      float64 `json:"train_accuracy" msgpack:"train_accuracy"`
	TrainSize          int     `json:"train_size" msgpack:"train_size"`
	ValidationSize     int     `json:"validation_size" msgpack:"validation_size"`
}

// ModelVersion is the persisted metadata and parameter blob for a slot version.
type ModelVersion struct {
	Slot            ModelSlot          `json:"slot" msgpack:"slot"`
	Version         uint64             `json:"version" msgpack:"version"`
	TrainedAt       time.Time          `json:"trained_at" msgpack:"trained_at"`
	Metrics         ModelMetrics       `json:"metrics" msgpack:"metrics"`
	Hyperparameters map[string]float64 `json:"hyperparameters" msgpack:"hyperparameters"`
	DataHash        string             `json:"data_hash" msgpack:"data_hash"`
	RestoredFrom    uint64             `json:"restored_from,omitempty" msgpack:"restored_from,omitempty"`
	Blob            []byte             `json:"-" msgpack:"blob"`
}

// SlotInfo is a read-only view of a slot for status reporting.
type SlotInfo struct {
	Slot      ModelSlot    `json:"slot"`
	Trained   bool         `json:"trained"`
	Version   uint64       `json:"version"`
	TrainedAt *time.Time   `json:"trained_at,omitempty"`
	Weight    float64      `json:"weight"`
	Metrics   ModelMetrics `json:"metrics"`
	DataHash  string       `json:"data_hash,omitempty"`
	History   int          `json:"history"`
}
