package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"FinLearn/pkg/logger"
)

// MemoryQueue is an in-process queue for single-replica deployments without Redis.
// Messages are lost on restart.
type MemoryQueue struct {
	log  *logger.Logger
	cfg  QueueConfig
	reg  *registry
	msgs chan Message

	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewMemoryQueue(lgr *logger.Logger, config *QueueConfig) *MemoryQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	var cfg QueueConfig
	if config != nil {
		cfg = *config
	}
	cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		log:    lgr,
		cfg:    cfg,
		reg:    newRegistry(lgr),
		msgs:   make(chan Message, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *MemoryQueue) RegisterJob(job Job) { q.reg.add(job) }

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("queue already running")
	}
	q.running = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.log.Info("memory queue started", logger.Int("workers", q.cfg.Workers))
	return nil
}

// PublishMessage never blocks; a full buffer is an error.
func (q *MemoryQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.running {
		return errors.New("queue not running")
	}
	if err := q.reg.require(msgType); err != nil {
		return err
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: payload, EnqueuedAt: time.Now()}
	select {
	case q.msgs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue full (%d)", q.cfg.QueueSize)
	}
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-q.msgs:
			q.run(msg)
		}
	}
}

// run retries in place; there is no persistence to park the message in.
func (q *MemoryQueue) run(msg Message) {
	job, _ := q.reg.lookup(msg.Type)
	for {
		err := job.Handle(q.ctx, msg.Payload)
		if err == nil || q.ctx.Err() != nil {
			return
		}
		msg.Attempts++
		if msg.Attempts > q.cfg.RetryLimit {
			q.log.Error("job failed, giving up",
				logger.String("job", job.Name()),
				logger.String("id", msg.ID),
				logger.Int("attempts", msg.Attempts),
				logger.Error(err))
			return
		}
		delay := q.cfg.backoff(msg.Attempts)
		q.log.Warn("job failed, retrying",
			logger.String("job", job.Name()),
			logger.Int("attempt", msg.Attempts),
			logger.Duration("delay", delay),
			logger.Error(err))
		select {
		case <-time.After(delay):
		case <-q.ctx.Done():
			return
		}
	}
}

// Stop cancels in-flight jobs and waits for the workers.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()
	return waitGroup(ctx, &q.wg)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workers did not stop: %w", ctx.Err())
	}
}
