package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinLearn/internal/domain/models"
)

type recProc struct {
	mu   sync.Mutex
	fail bool
	seen []models.Quote
}

func (r *recProc) Process(_ context.Context, q models.Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("down")
	}
	r.seen = append(r.seen, q)
	return nil
}

func (r *recProc) setFail(v bool) {
	r.mu.Lock()
	r.fail = v
	r.mu.Unlock()
}

func (r *recProc) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestPipelineValidatesAndThrottles(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	proc := &recProc{}
	p := NewRealtimePipeline(proc, nil, WithMaxRPS(2), WithNow(func() time.Time { return now }))
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, models.Quote{Price: 1, Time: now}))
	assert.Error(t, p.Process(ctx, models.Quote{Symbol: "BTC", Price: -1, Time: now}))
	assert.Error(t, p.Process(ctx, models.Quote{Symbol: "BTC", Price: 1}))
	assert.Error(t, p.Process(ctx, models.Quote{Symbol: "BTC", Price: 1, Time: now.Add(time.Minute)}))

	require.NoError(t, p.Process(ctx, models.Quote{Symbol: "BTC", Price: 1, Time: now}))
	require.NoError(t, p.Process(ctx, models.Quote{Symbol: "BTC", Price: 2, Time: now}), "throttled quotes are dropped silently")
	require.NoError(t, p.Process(ctx, models.Quote{Symbol: "ETH", Price: 2, Time: now}))
	assert.Equal(t, 2, proc.count())

	now = now.Add(600 * time.Millisecond)
	require.NoError(t, p.Process(ctx, models.Quote{Symbol: "BTC", Price: 3, Time: now}))
	assert.Equal(t, 3, proc.count())
}

func TestPipelineBuffersWhileDownstreamFails(t *testing.T) {
	proc := &recProc{fail: true}
	p := NewRealtimePipeline(proc, nil, WithBufferSize(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, sym := range []string{"BTC", "ETH", "SOL"} {
		assert.Error(t, p.Process(ctx, models.Quote{Symbol: sym, Price: 1, Time: time.Now()}))
	}
	assert.Equal(t, 2, p.Buffered(), "buffer is bounded")

	proc.setFail(false)
	p.Start(ctx)
	defer p.Stop()
	assert.Eventually(t, func() bool { return proc.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}
