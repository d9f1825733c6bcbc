package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinLearn/internal/domain/models"
)

func TestKafkaQuotesHandlerDecodesBatchAndSingle(t *testing.T) {
	store := &memQuoteStore{}
	h := NewKafkaQuotesHandler("quotes", store, nil)
	assert.Equal(t, "quotes", h.Topic())
	ctx := context.Background()

	batch := ` [{"symbol":"BTCUSDT","price":50000,"volume":0.1,"time":"2024-06-03T09:00:00Z"},
	           {"symbol":"BTCUSDT","price":50010,"volume":0.2,"time":"2024-06-03T09:00:01Z"}]`
	require.NoError(t, h.Handle(ctx, []byte(batch)))
	require.NoError(t, h.Handle(ctx, []byte(`{"symbol":"ETHUSDT","price":3000,"volume":1,"time":"2024-06-03T09:00:02Z"}`)))

	require.Len(t, store.batches, 2)
	assert.Len(t, store.batches[0], 2)
	assert.Equal(t, 50010.0, store.batches[0][1].Price)
	assert.Equal(t, "ETHUSDT", store.batches[1][0].Symbol)

	assert.Error(t, h.Handle(ctx, []byte(`{not json`)))
	require.NoError(t, h.Handle(ctx, []byte(`[]`)))
	assert.Len(t, store.batches, 2)
}

func TestKafkaQuotesHandlerStoreFailure(t *testing.T) {
	h := NewKafkaQuotesHandler("quotes", &memQuoteStore{fail: true}, nil)
	err := h.Handle(context.Background(), []byte(`{"symbol":"BTCUSDT","price":1,"time":"2024-06-03T09:00:00Z"}`))
	assert.Error(t, err)
}

type stubSubmitter struct {
	id, outcome string
	ok          bool
	err         error
}

func (s *stubSubmitter) SubmitOutcome(_ context.Context, id, outcome string) (bool, error) {
	s.id, s.outcome = id, outcome
	return s.ok, s.err
}

func TestKafkaOutcomeHandler(t *testing.T) {
	ctx := context.Background()

	sub := &stubSubmitter{ok: true}
	h := NewKafkaOutcomeHandler("outcomes", sub, nil)
	require.NoError(t, h.Handle(ctx, []byte(`{"prediction_id":"abc","outcome":"BUY"}`)))
	assert.Equal(t, "abc", sub.id)
	assert.Equal(t, "BUY", sub.outcome)

	// poison messages are dropped rather than retried
	assert.NoError(t, h.Handle(ctx, []byte(`garbage`)))
	assert.NoError(t, h.Handle(ctx, []byte(`{"outcome":"BUY"}`)))

	sub.err = models.ErrUnknownPrediction
	assert.NoError(t, h.Handle(ctx, []byte(`{"prediction_id":"gone","outcome":"SELL"}`)))
	sub.err = errors.New(`unknown signal "UP"`)
	assert.NoError(t, h.Handle(ctx, []byte(`{"prediction_id":"x","outcome":"UP"}`)))
}
