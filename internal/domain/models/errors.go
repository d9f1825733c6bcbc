package models

import (
	"errors"
	"fmt"
)

var (
	// ErrPredictionNotReady is returned when no slot has been trained yet.
	ErrPredictionNotReady = &PredictionError{Reason: "model not ready"}
	// ErrCandidateRejected marks a trained model that the rollback policy refused to publish.
	ErrCandidateRejected = errors.New("candidate model rejected by rollback policy")
	// ErrUnknownPrediction is returned for outcomes that reference no logged prediction.
	ErrUnknownPrediction = errors.New("unknown prediction id")
	// ErrTradeNotFound is returned when closing an intent that was never recorded.
	ErrTradeNotFound = errors.New("trade not found")
	// ErrTierBusy is returned when a tier is asked to train while it already is.
	ErrTierBusy = errors.New("tier training already in progress")
	// ErrInvalidInput marks caller mistakes such as an unknown signal or tier.
	ErrInvalidInput = errors.New("invalid input")
)

// TrainingError reports insufficient or malformed training input, or a failed fit.
type TrainingError struct {
	Slot   ModelSlot
	Reason string
	Err    error
}

func (e *TrainingError) Error() string {
	msg := fmt.Sprintf("training %s: %s", e.Slot, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TrainingError) Unwrap() error { return e.Err }

// NewTrainingError creates a TrainingError for slot.
func NewTrainingError(slot ModelSlot, reason string, err error) *TrainingError {
	return &TrainingError{Slot: slot, Reason: reason, Err: err}
}

// PredictionError is surfaced to callers as "model not ready" and is never fatal.
type PredictionError struct {
	Reason string
}

func (e *PredictionError) Error() string { return "prediction: " + e.Reason }

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// IsPredictionError reports whether err is a PredictionError.
func IsPredictionError(err error) bool {
	var pe *PredictionError
	return errors.As(err, &pe)
}

// IsTrainingError reports whether err is a TrainingError.
func IsTrainingError(err error) bool {
	var te *TrainingError
	return errors.As(err, &te)
}
