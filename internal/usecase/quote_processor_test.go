package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinLearn/internal/domain/models"
	"FinLearn/internal/service/quotebook"
)

type memQuoteStore struct {
	mu      sync.Mutex
	batches [][]models.Quote
	fail    bool
}

func (s *memQuoteStore) StoreBatch(_ context.Context, quotes []models.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("clickhouse down")
	}
	s.batches = append(s.batches, append([]models.Quote(nil), quotes...))
	return nil
}

func (s *memQuoteStore) Health(context.Context) error { return nil }

func (s *memQuoteStore) stored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func quote(i int) models.Quote {
	return models.Quote{Symbol: "BTCUSDT", Price: 100 + float64(i), Volume: 1, Time: t0.Add(time.Duration(i) * time.Second)}
}

func TestQuoteProcessorFlushesFullBatch(t *testing.T) {
	store := &memQuoteStore{}
	book := quotebook.New()
	p := NewQuoteProcessor(store, book, nil, nil, 3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, p.Process(ctx, quote(i)))
	}
	assert.Len(t, store.batches, 2)
	assert.Equal(t, 1, p.Pending())

	price, at, ok := book.LastPrice("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 106.0, price)
	assert.Equal(t, t0.Add(6*time.Second), at)

	require.NoError(t, p.Flush(ctx))
	assert.Equal(t, 7, store.stored())
	assert.Zero(t, p.Pending())
}

func TestQuoteProcessorKeepsBatchOnFailure(t *testing.T) {
	store := &memQuoteStore{fail: true}
	p := NewQuoteProcessor(store, nil, nil, nil, 2, time.Hour)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, p.Process(ctx, quote(i)))
	}
	assert.Equal(t, 4, p.Pending())

	store.fail = false
	require.NoError(t, p.Flush(ctx))
	require.Len(t, store.batches, 1)
	assert.Equal(t, quote(0), store.batches[0][0], "retried quotes keep their order")
	assert.Equal(t, 4, store.stored())
}

func TestQuoteProcessorBackpressure(t *testing.T) {
	store := &memQuoteStore{fail: true}
	p := NewQuoteProcessor(store, nil, nil, nil, 1, time.Hour)
	ctx := context.Background()

	var err error
	for i := 0; i < 25 && err == nil; i++ {
		err = p.Process(ctx, quote(i))
	}
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.Equal(t, 20, p.Pending())
}

func TestQuoteProcessorRunFinalFlush(t *testing.T) {
	store := &memQuoteStore{}
	p := NewQuoteProcessor(store, nil, nil, nil, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Process(ctx, quote(1)))
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, store.stored())
}
