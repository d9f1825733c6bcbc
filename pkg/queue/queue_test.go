package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	c := QueueConfig{RetryDelay: time.Second}
	c.normalize()
	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 8*time.Second, c.backoff(4))
	assert.Equal(t, maxRetryDelay, c.backoff(40))
}

func TestParsePayloadShapes(t *testing.T) {
	want := payload{N: 3}

	p, err := ParsePayload[payload](want)
	require.NoError(t, err)
	assert.Equal(t, want, *p)

	p, err = ParsePayload[payload](&want)
	require.NoError(t, err)
	assert.Same(t, &want, p)

	p, err = ParsePayload[payload](json.RawMessage(`{"n":3}`))
	require.NoError(t, err)
	assert.Equal(t, want, *p)

	p, err = ParsePayload[payload](map[string]interface{}{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, want, *p)

	_, err = ParsePayload[payload](42)
	assert.Error(t, err)
	_, err = ParsePayload[payload](json.RawMessage(`{`))
	assert.Error(t, err)
}

func TestEnvelopeKeepsPayloadRaw(t *testing.T) {
	env, err := newEnvelope("test.count", payload{N: 9})
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)

	b, err := json.Marshal(env)
	require.NoError(t, err)
	var back envelope
	require.NoError(t, json.Unmarshal(b, &back))

	p, err := ParsePayload[payload](back.Payload)
	require.NoError(t, err)
	assert.Equal(t, 9, p.N)
}

func TestRedisQueueKeysAndOptions(t *testing.T) {
	q := NewRedisQueue(nil, nil, nil, WithKeyPrefix("fl:queue"), WithDeadLetterCap(10), WithRetryPoll(time.Second))
	assert.Equal(t, "fl:queue:pending", q.pendingKey())
	assert.Equal(t, "fl:queue:retry", q.retryKey())
	assert.Equal(t, "fl:queue:dead", q.deadKey())
	assert.EqualValues(t, 10, q.dlqSize)
	assert.Equal(t, 1, q.cfg.Workers)
}

func TestRegistryKeepsFirstJob(t *testing.T) {
	q := NewMemoryQueue(nil, nil)
	first, second := &countingJob{}, &countingJob{}
	q.RegisterJob(first)
	q.RegisterJob(second)
	j, ok := q.reg.lookup("test.count")
	require.True(t, ok)
	assert.Same(t, first, j)
}
