package http

import (
	"time"

	xutil "FinLearn/pkg/util"
)

// ParseTimeDefault accepts RFC3339 or unix seconds/millis and falls back to def.
func ParseTimeDefault(s string, def time.Time) time.Time { return xutil.ParseTimeDefault(s, def) }

// AlignFromTo snaps a query range onto candle boundaries of tf.
func AlignFromTo(from, to time.Time, tf string) (time.Time, time.Time) {
	return xutil.AlignFromTo(from, to, tf)
}
