package ensemble

import (
	"fmt"
	"time"

	"FinLearn/internal/domain/models"
)

// RollbackPolicy decides what happens when a retrained model validates worse.
type RollbackPolicy string

const (
	RollbackOverwrite  RollbackPolicy = "overwrite"
	RollbackKeepBetter RollbackPolicy = "keep_better"
)

type Config struct {
	MinSamples        int
	Arity             int // 0 learns arity from the first training set
	BuyThreshold      float64
	SellThreshold     float64
	StaleAfter        time.Duration
	RollbackPolicy    RollbackPolicy
	RollbackTolerance float64
	HistorySize       int
	ValidationSplit   float64
	Weights           map[models.ModelSlot]float64
	Seed              int64
}

func DefaultConfig() Config {
	return Config{
		MinSamples:        30,
		BuyThreshold:      0.6,
		SellThreshold:     0.4,
		StaleAfter:        48 * time.Hour,
		RollbackPolicy:    RollbackOverwrite,
		RollbackTolerance: 0.02,
		HistorySize:       5,
		ValidationSplit:   0.2,
		Seed:              42,
	}
}

// LegacyWeights are the fixed weights used before equal weighting became the default.
func LegacyWeights() map[models.ModelSlot]float64 {
	return map[models.ModelSlot]float64{
		models.SlotFastLinear:      0.3,
		models.SlotGradientBoosted: 0.5,
		models.SlotSequence:        0.2,
	}
}

func (c Config) Validate() error {
	if c.MinSamples < 2 {
		return models.NewConfigurationError("ensemble.min_samples", "must be at least 2")
	}
	if c.Arity < 0 {
		return models.NewConfigurationError("ensemble.arity", "must not be negative")
	}
	if !(c.SellThreshold < c.BuyThreshold) || c.SellThreshold < 0 || c.BuyThreshold > 1 {
		return models.NewConfigurationError("ensemble.thresholds",
			fmt.Sprintf("need 0 <= sell (%v) < buy (%v) <= 1", c.SellThreshold, c.BuyThreshold))
	}
	switch c.RollbackPolicy {
	case RollbackOverwrite, RollbackKeepBetter:
	default:
		return models.NewConfigurationError("ensemble.rollback_policy", fmt.Sprintf("unknown policy %q", c.RollbackPolicy))
	}
	if c.HistorySize < 1 {
		return models.NewConfigurationError("ensemble.history_size", "must be at least 1")
	}
	if c.ValidationSplit <= 0 || c.ValidationSplit >= 1 {
		return models.NewConfigurationError("ensemble.validation_split", "must be in (0, 1)")
	}
	for s, w := range c.Weights {
		if _, err := models.ParseSlot(string(s)); err != nil {
			return models.NewConfigurationError("ensemble.weights", err.Error())
		}
		if w < 0 {
			return models.NewConfigurationError("ensemble.weights", fmt.Sprintf("negative weight for %s", s))
		}
	}
	return nil
}
