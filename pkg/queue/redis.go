package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"FinLearn/pkg/logger"
)

// RedisQueue shares jobs across replicas. Pending messages live in a list,
// scheduled retries in a sorted set scored by due time, and exhausted ones in
// a capped dead-letter list.
type RedisQueue struct {
	log    *logger.Logger
	cfg    QueueConfig
	client *redis.Client
	reg    *registry

	prefix  string
	dlqSize int64
	poll    time.Duration

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces the queue keys.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithDeadLetterCap bounds the dead-letter list.
func WithDeadLetterCap(n int64) RedisQueueOption {
	return func(r *RedisQueue) { r.dlqSize = n }
}

// WithRetryPoll sets how often due retries are promoted back to the pending list.
func WithRetryPoll(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) {
		if d > 0 {
			r.poll = d
		}
	}
}

func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	var cfg QueueConfig
	if config != nil {
		cfg = *config
	}
	cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisQueue{
		log:     lgr,
		cfg:     cfg,
		client:  client,
		reg:     newRegistry(lgr),
		prefix:  "finlearn:queue",
		dlqSize: 1000,
		poll:    2 * time.Second,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisQueue) pendingKey() string { return r.prefix + ":pending" }
func (r *RedisQueue) retryKey() string   { return r.prefix + ":retry" }
func (r *RedisQueue) deadKey() string    { return r.prefix + ":dead" }

func (r *RedisQueue) RegisterJob(job Job) { r.reg.add(job) }

func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	r.running = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.consume()
	}
	r.wg.Add(1)
	go r.promoteLoop()

	r.log.Info("redis queue started",
		logger.String("prefix", r.prefix),
		logger.Int("workers", r.cfg.Workers))
	return nil
}

// Stop cancels in-flight jobs; their messages are not re-queued.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()
	return waitGroup(ctx, &r.wg)
}

// envelope is the stored form; Payload stays raw so jobs decode their own type.
type envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

func newEnvelope(msgType string, payload interface{}) (envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, fmt.Errorf("encode payload: %w", err)
	}
	return envelope{ID: uuid.NewString(), Type: msgType, Payload: raw, EnqueuedAt: time.Now().UTC()}, nil
}

// PublishMessage only accepts types this process can also run, so a typo
// fails at the caller instead of in the dead-letter list.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		return errors.New("queue not running")
	}
	if err := r.reg.require(msgType); err != nil {
		return err
	}
	env, err := newEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b, _ := json.Marshal(env)
	if err := r.client.LPush(ctx, r.pendingKey(), b).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	return nil
}

func (r *RedisQueue) consume() {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		res, err := r.client.BRPop(r.ctx, time.Second, r.pendingKey()).Result()
		switch {
		case errors.Is(err, redis.Nil), r.ctx.Err() != nil:
			continue
		case err != nil:
			r.log.Error("dequeue failed", logger.Error(err))
			r.sleep(time.Second)
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			r.log.Error("undecodable message dropped", logger.Error(err))
			continue
		}
		r.handle(env)
	}
}

func (r *RedisQueue) handle(env envelope) {
	job, ok := r.reg.lookup(env.Type)
	if !ok {
		r.bury(env, "no job registered")
		return
	}
	err := job.Handle(r.ctx, env.Payload)
	if err == nil || r.ctx.Err() != nil {
		return
	}

	env.Attempts++
	env.LastError = err.Error()
	if env.Attempts > r.cfg.RetryLimit {
		r.log.Error("job failed, dead-lettered",
			logger.String("job", job.Name()),
			logger.String("id", env.ID),
			logger.Int("attempts", env.Attempts),
			logger.Error(err))
		r.bury(env, env.LastError)
		return
	}
	due := time.Now().Add(r.cfg.backoff(env.Attempts))
	b, _ := json.Marshal(env)
	if err := r.client.ZAdd(context.Background(), r.retryKey(), redis.Z{Score: float64(due.UnixMilli()), Member: b}).Err(); err != nil {
		r.log.Error("schedule retry failed", logger.String("id", env.ID), logger.Error(err))
		return
	}
	r.log.Warn("job failed, retry scheduled",
		logger.String("job", job.Name()),
		logger.Int("attempt", env.Attempts),
		logger.String("due", due.UTC().Format(time.RFC3339)),
		logger.Error(err))
}

func (r *RedisQueue) bury(env envelope, reason string) {
	env.LastError = reason
	b, _ := json.Marshal(env)
	pipe := r.client.TxPipeline()
	pipe.LPush(context.Background(), r.deadKey(), b)
	if r.dlqSize > 0 {
		pipe.LTrim(context.Background(), r.deadKey(), 0, r.dlqSize-1)
	}
	if _, err := pipe.Exec(context.Background()); err != nil {
		r.log.Error("dead-letter failed", logger.String("id", env.ID), logger.Error(err))
	}
}

// promoteDue moves due retries to the pending list atomically, so two
// replicas polling at once cannot both promote the same message.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

const promoteBatch = 100

func (r *RedisQueue) promoteLoop() {
	defer r.wg.Done()
	t := time.NewTicker(r.poll)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			now := strconv.FormatInt(time.Now().UnixMilli(), 10)
			n, err := promoteDue.Run(r.ctx, r.client, []string{r.retryKey(), r.pendingKey()}, now, promoteBatch).Int()
			if err != nil && r.ctx.Err() == nil {
				r.log.Error("promote retries failed", logger.Error(err))
			} else if n > 0 {
				r.log.Debug("retries promoted", logger.Int("count", n))
			}
		}
	}
}

func (r *RedisQueue) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-r.ctx.Done():
	}
}
