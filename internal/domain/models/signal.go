package models

import (
	"fmt"
	"strings"
	"time"
)

// Signal is the actionable direction produced by the ensemble.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// ParseSignal normalizes s into a Signal.
func ParseSignal(s string) (Signal, error) {
	switch Signal(strings.ToUpper(strings.TrimSpace(s))) {
	case SignalBuy:
		return SignalBuy, nil
	case SignalSell:
		return SignalSell, nil
	case SignalHold:
		return SignalHold, nil
	default:
		return "", fmt.Errorf("%w: unknown signal %q", ErrInvalidInput, s)
	}
}

// ModelSlot names a model role inside the ensemble.
type ModelSlot string

const (
	SlotFastLinear      ModelSlot = "fast_linear"
	SlotGradientBoosted ModelSlot = "gradient_boosted"
	SlotSequence        ModelSlot = "sequence"
)

// AllSlots returns every slot in canonical order.
func AllSlots() []ModelSlot {
	return []ModelSlot{SlotFastLinear, SlotGradientBoosted, SlotSequence}
}

// ParseSlot validates a slot name.
func ParseSlot(s string) (ModelSlot, error) {
	for _, slot := range AllSlots() {
		if string(slot) == s {
			return slot, nil
		}
	}
	return "", fmt.Errorf("unknown model slot %q", s)
}

// Vote is a single slot's contribution to an ensemble signal.
type Vote struct {
	Slot    ModelSlot `json:"slot"`
	Score   float64   `json:"score"`
	Weight  float64   `json:"weight"`
	Version uint64    `json:"version"`
	IsStale bool      `json:"is_stale"`
}

// Direction maps the vote score onto a signal with the given thresholds.
func (v Vote) Direction(buy, sell float64) Signal {
	return Classify(v.Score, buy, sell)
}

// EnsembleSignal is the combined decision of all trained slots.
type EnsembleSignal struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Signal      Signal    `json:"signal"`
	Score       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	Votes       []Vote    `json:"votes"`
	Price       float64   `json:"price"`
	// SnapshotAt is the timestamp of the feature snapshot the signal was computed on.
	SnapshotAt  time.Time `json:"snapshot_at"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Classify maps an upward-probability score onto BUY/SELL/HOLD.
// Both thresholds are inclusive.
func Classify(score, buy, sell float64) Signal {
	switch {
	case score >= buy:
		return SignalBuy
	case score <= sell:
		return SignalSell
	default:
		return SignalHold
	}
}
