package repository

import "time"

// Timeframe is a candle bucket width as used in queries and config ("1m").
type Timeframe string

const (
	TF1s Timeframe = "1s"
	TF1m Timeframe = "1m"
	TF5m Timeframe = "5m"
	TF1h Timeframe = "1h"
)

var timeframeWidth = map[Timeframe]time.Duration{
	TF1s: time.Second,
	TF1m: time.Minute,
	TF5m: 5 * time.Minute,
	TF1h: time.Hour,
}

func (tf Timeframe) Valid() bool {
	_, ok := timeframeWidth[tf]
	return ok
}

// Duration is the bucket width, or 0 for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration { return timeframeWidth[tf] }

func DefaultTimeframe() Timeframe { return TF1m }

// NormalizeTimeframe maps unknown or empty input to the default.
func NormalizeTimeframe(s string) Timeframe {
	if tf := Timeframe(s); tf.Valid() {
		return tf
	}
	return DefaultTimeframe()
}
