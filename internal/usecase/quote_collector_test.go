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
	mid "FinLearn/internal/middleware"
	"FinLearn/internal/service/quotebook"
)

// scriptedStream serves one batch of quotes per Read and fails the first read with an error.
type scriptedStream struct {
	mu         sync.Mutex
	batches    [][]models.Quote
	failFirst  bool
	reads      int
	reconnects int
	closed     bool
}

func (s *scriptedStream) Connect(context.Context) error   { return nil }
func (s *scriptedStream) Subscribe(context.Context) error { return nil }
func (s *scriptedStream) IsConnected() bool               { return true }

func (s *scriptedStream) Reconnect(context.Context) error {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	return nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedStream) Read(ctx context.Context) (<-chan models.Quote, <-chan error) {
	s.mu.Lock()
	n := s.reads
	s.reads++
	var batch []models.Quote
	if n < len(s.batches) {
		batch = s.batches[n]
	}
	fail := s.failFirst && n == 0
	s.mu.Unlock()

	qc := make(chan models.Quote, len(batch))
	ec := make(chan error, 1)
	for _, q := range batch {
		qc <- q
	}
	if fail {
		ec <- errors.New("connection reset")
		return qc, ec
	}
	go func() {
		<-ctx.Done()
		close(qc)
	}()
	return qc, ec
}

func TestQuoteCollectorReconnectsAndFlushes(t *testing.T) {
	stream := &scriptedStream{
		failFirst: true,
		batches: [][]models.Quote{
			nil,
			{
				{Symbol: "BTCUSDT", Price: 100, Time: t0},
				{Symbol: "ETHUSDT", Price: 10, Time: t0},
			},
		},
	}
	store := &memQuoteStore{}
	book := quotebook.New()
	proc := NewQuoteProcessor(store, book, nil, nil, 100, time.Hour)
	pipe := mid.NewRealtimePipeline(proc, nil, mid.WithNow(func() time.Time { return t0 }))
	c := NewQuoteCollector(stream, pipe, proc, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))

	require.Eventually(t, func() bool {
		_, _, ok := book.LastPrice("ETHUSDT")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	require.NoError(t, c.Shutdown(sctx))

	assert.Equal(t, 2, store.stored())
	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.Equal(t, 1, stream.reconnects)
	assert.True(t, stream.closed)
}
