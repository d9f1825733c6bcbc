package feedback

import (
	"fmt"
	"time"

	"FinLearn/internal/domain/models"
)

// TierConfig describes one retraining schedule.
type TierConfig struct {
	Tier     int
	Interval time.Duration
	Slots    []models.ModelSlot
	// MaxSamples trains on the most recent samples only; 0 uses the full set.
	MaxSamples int
}

// Config controls when tiers retrain and how a degraded slot is down-weighted.
type Config struct {
	Symbol               string
	LookbackDays         int
	TickInterval         time.Duration
	Tiers                []TierConfig
	PerformanceThreshold float64
	EvaluationWindow     int
	Cooldown             time.Duration
	TrainingTimeout      time.Duration
	DegradedWeightFactor float64
}

// DefaultTiers returns the hourly, six-hourly and daily tiers.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Tier: 1, Interval: time.Hour, Slots: []models.ModelSlot{models.SlotFastLinear}, MaxSamples: 500},
		{Tier: 2, Interval: 6 * time.Hour, Slots: []models.ModelSlot{models.SlotFastLinear, models.SlotGradientBoosted}, MaxSamples: 2000},
		{Tier: 3, Interval: 24 * time.Hour, Slots: models.AllSlots()},
	}
}

// DefaultConfig returns the default tiers with a 0.55 accuracy trigger.
func DefaultConfig() Config {
	return Config{
		Symbol:               "BTCUSDT",
		LookbackDays:         60,
		TickInterval:         time.Minute,
		Tiers:                DefaultTiers(),
		PerformanceThreshold: 0.55,
		EvaluationWindow:     10,
		Cooldown:             15 * time.Minute,
		TrainingTimeout:      10 * time.Minute,
		DegradedWeightFactor: 0.5,
	}
}

// Validate reports the first invalid field as a ConfigurationError.
func (c Config) Validate() error {
	if len(c.Tiers) == 0 {
		return models.NewConfigurationError("feedback.tiers", "at least one tier is required")
	}
	seen := make(map[int]bool, len(c.Tiers))
	for i, t := range c.Tiers {
		if t.Tier < 1 || seen[t.Tier] {
			return models.NewConfigurationError("feedback.tiers", fmt.Sprintf("invalid or duplicate tier number %d", t.Tier))
		}
		if i > 0 && t.Tier < c.Tiers[i-1].Tier {
			return models.NewConfigurationError("feedback.tiers", "tiers must be in ascending order")
		}
		seen[t.Tier] = true
		if t.Interval <= 0 {
			return models.NewConfigurationError(fmt.Sprintf("feedback.tier%d_interval", t.Tier), "must be positive")
		}
		if len(t.Slots) == 0 {
			return models.NewConfigurationError(fmt.Sprintf("feedback.tier%d_slots", t.Tier), "must name at least one slot")
		}
		for _, s := range t.Slots {
			if _, err := models.ParseSlot(string(s)); err != nil {
				return models.NewConfigurationError(fmt.Sprintf("feedback.tier%d_slots", t.Tier), err.Error())
			}
		}
	}
	if c.PerformanceThreshold <= 0 || c.PerformanceThreshold >= 1 {
		return models.NewConfigurationError("feedback.performance_threshold", "must be in (0, 1)")
	}
	if c.EvaluationWindow < 1 {
		return models.NewConfigurationError("feedback.evaluation_window", "must be positive")
	}
	if c.Cooldown < 0 {
		return models.NewConfigurationError("feedback.cooldown", "must not be negative")
	}
	if c.TrainingTimeout <= 0 {
		return models.NewConfigurationError("feedback.training_timeout", "must be positive")
	}
	if c.TickInterval <= 0 {
		return models.NewConfigurationError("engine.tick_interval", "must be positive")
	}
	if c.DegradedWeightFactor < 0 || c.DegradedWeightFactor > 1 {
		return models.NewConfigurationError("feedback.degraded_weight_factor", "must be in [0, 1]")
	}
	return nil
}
