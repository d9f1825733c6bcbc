package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunNowContainsFailures(t *testing.T) {
	s := New(nil, time.Second)
	var calls atomic.Int32

	s.RunNow(FuncJob{JobName: "fails", Fn: func(context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	}})
	s.RunNow(FuncJob{JobName: "panics", Fn: func(context.Context) error {
		calls.Add(1)
		panic("bad")
	}})
	assert.Equal(t, int32(2), calls.Load())
}

func TestRunNowAppliesTimeout(t *testing.T) {
	s := New(nil, 20*time.Millisecond)
	var deadline atomic.Bool
	s.RunNow(FuncJob{JobName: "slow", Fn: func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		deadline.Store(ok)
		return nil
	}})
	assert.True(t, deadline.Load())
}

func TestScheduledJobRuns(t *testing.T) {
	s := New(nil, 0)
	ran := make(chan struct{}, 1)
	require.NoError(t, s.AddJob("@every 1s", FuncJob{JobName: "tick", Fn: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}}))
	assert.Error(t, s.AddJob("not a schedule", FuncJob{JobName: "bad"}))

	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}
