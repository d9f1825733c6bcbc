package quotebook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"FinLearn/internal/domain/models"
)

func TestBookKeepsNewest(t *testing.T) {
	b := New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, b.Update(models.Quote{Symbol: "BTCUSDT", Price: 100, Time: t0.Add(time.Second)}))
	assert.False(t, b.Update(models.Quote{Symbol: "BTCUSDT", Price: 90, Time: t0}), "older quote must not win")
	assert.False(t, b.Update(models.Quote{Symbol: "BTCUSDT", Price: 0, Time: t0.Add(time.Hour)}))

	p, at, ok := b.LastPrice("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 100.0, p)
	assert.Equal(t, t0.Add(time.Second), at)

	_, _, ok = b.LastPrice("ETHUSDT")
	assert.False(t, ok)
	assert.Len(t, b.Snapshot(), 1)
}
