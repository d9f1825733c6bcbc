package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	N int `json:"n"`
}

type countingJob struct {
	failures int32
	calls    int32
	sum      int64
}

func (j *countingJob) Name() string { return "counting" }
func (j *countingJob) Type() string { return "test.count" }

func (j *countingJob) Handle(_ context.Context, raw interface{}) error {
	n := atomic.AddInt32(&j.calls, 1)
	if n <= atomic.LoadInt32(&j.failures) {
		return errors.New("transient")
	}
	p, err := ParsePayload[payload](raw)
	if err != nil {
		return err
	}
	atomic.AddInt64(&j.sum, int64(p.N))
	return nil
}

func TestMemoryQueueDeliversAndRetries(t *testing.T) {
	job := &countingJob{failures: 1}
	q := NewMemoryQueue(nil, &QueueConfig{Workers: 1, RetryLimit: 2, RetryDelay: time.Millisecond})
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	require.NoError(t, q.PublishMessage(context.Background(), "test.count", payload{N: 7}))
	require.Eventually(t, func() bool { return atomic.LoadInt64(&job.sum) == 7 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, atomic.LoadInt32(&job.calls))
}

func TestMemoryQueueRejects(t *testing.T) {
	q := NewMemoryQueue(nil, &QueueConfig{QueueSize: 1})
	q.RegisterJob(&countingJob{})

	err := q.PublishMessage(context.Background(), "test.count", payload{})
	require.Error(t, err, "not running")

	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()
	err = q.PublishMessage(context.Background(), "other", payload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no job registered")
}
