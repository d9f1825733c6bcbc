package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(WithNow(func() time.Time { return now }))

	assert.True(t, l.Allow("BTC", 2, 1))
	assert.True(t, l.Allow("BTC", 2, 1))
	assert.False(t, l.Allow("BTC", 2, 1), "burst exhausted")
	assert.True(t, l.Allow("ETH", 2, 1), "keys do not share buckets")

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, l.Allow("BTC", 2, 1))
	assert.False(t, l.Allow("BTC", 2, 1), "only one token refilled")
}

func TestSweepDropsRefilledBuckets(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(WithNow(func() time.Time { return now }))

	l.Allow("10.0.0.1:trade", 5, 0.2)
	l.Allow("10.0.0.2:trade", 5, 0.01)
	assert.Equal(t, 2, l.Len())

	// 0.2/s refills one token in 5s; 0.01/s needs 100s.
	now = now.Add(time.Minute)
	l.Allow("10.0.0.3:trade", 5, 0.2)
	assert.Equal(t, 2, l.Len())

	now = now.Add(2 * time.Minute)
	l.Allow("10.0.0.3:trade", 5, 0.2)
	assert.Equal(t, 1, l.Len())
}
