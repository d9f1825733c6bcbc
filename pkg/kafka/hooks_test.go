package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHook struct {
	name   string
	trail  *[]string
	failOn string
	panics bool
}

func (h recordingHook) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error) {
	*h.trail = append(*h.trail, "before:"+h.name)
	if h.panics {
		panic("boom")
	}
	if h.failOn == "before" {
		return ctx, errors.New("rejected")
	}
	return ctx, nil
}

func (h recordingHook) AfterHandle(_ context.Context, _ kafka.Message, _ error) {
	*h.trail = append(*h.trail, "after:"+h.name)
}

func TestHookChainOrder(t *testing.T) {
	var trail []string
	chain := NewHookChain(recordingHook{name: "a", trail: &trail}, nil, recordingHook{name: "b", trail: &trail})

	_, err := chain.BeforeHandle(context.Background(), kafka.Message{})
	require.NoError(t, err)
	chain.AfterHandle(context.Background(), kafka.Message{}, nil)
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, trail)
}

func TestHookChainStopsOnErrorAndPanic(t *testing.T) {
	var trail []string
	chain := NewHookChain(recordingHook{name: "a", trail: &trail, failOn: "before"}, recordingHook{name: "b", trail: &trail})
	_, err := chain.BeforeHandle(context.Background(), kafka.Message{})
	assert.EqualError(t, err, "rejected")
	assert.Equal(t, []string{"before:a"}, trail)

	chain = NewHookChain(recordingHook{name: "p", trail: &trail, panics: true})
	_, err = chain.BeforeHandle(context.Background(), kafka.Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook panic")
}

func TestLoggingHookPropagatesTraceID(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: traceHeader, Value: []byte("t-42")}}}
	ctx, err := LoggingHook{}.BeforeHandle(context.Background(), km)
	require.NoError(t, err)
	assert.Equal(t, "t-42", ctx.Value(CtxTraceID))

	// Records published while handling carry the same id.
	rec := record(ctx, "finlearn.signals", []byte("BTCUSDT"), []byte(`{}`))
	assert.Equal(t, "t-42", TraceID(rec))
	assert.Empty(t, TraceID(record(context.Background(), "x", nil, nil)))
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	d := backoff(100*time.Millisecond, time.Second, 1)
	assert.GreaterOrEqual(t, d, 50*time.Millisecond)
}

func TestEncodeAndCompression(t *testing.T) {
	b, err := encode("raw")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), b)

	b, err = encode(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(b))

	_, err = encode(make(chan int))
	assert.Error(t, err)

	c, err := compressionCodec("zstd")
	require.NoError(t, err)
	assert.Equal(t, kafka.Zstd, c)
	_, err = compressionCodec("brotli")
	assert.Error(t, err)
}

func TestNewProducerAndConsumerRequireBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
	_, err = NewConsumer()
	assert.Error(t, err)

	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)
	assert.Error(t, c.Start(), "no handlers")
}
