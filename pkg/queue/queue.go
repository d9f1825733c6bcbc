package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"FinLearn/pkg/logger"
)

// Job handles one message type.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}

type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Server is a queue that also runs registered jobs.
type Server interface {
	QueueService
	RegisterJob(job Job)
	Start() error
	Stop(ctx context.Context) error
}

type QueueConfig struct {
	Workers    int
	QueueSize  int           // memory queue buffer
	RetryLimit int           // retries after the first attempt
	RetryDelay time.Duration // first retry delay, doubled per attempt
}

// maxRetryDelay caps the doubling so a flapping job is retried at least this often.
const maxRetryDelay = 10 * time.Minute

func (c *QueueConfig) normalize() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
}

// backoff is the delay before retry number attempt (1-based).
func (c *QueueConfig) backoff(attempt int) time.Duration {
	d := c.RetryDelay
	for i := 1; i < attempt && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

type Message struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Payload    interface{} `json:"payload"`
	Attempts   int         `json:"attempts"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// registry maps message types to jobs. Duplicate registrations keep the first job.
type registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
	log  *logger.Logger
}

func newRegistry(log *logger.Logger) *registry {
	return &registry{jobs: make(map[string]Job), log: log}
}

func (r *registry) add(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.jobs[job.Type()]; ok {
		r.log.Warn("duplicate job ignored",
			logger.String("type", job.Type()),
			logger.String("kept", prev.Name()),
			logger.String("ignored", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.log.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

func (r *registry) lookup(msgType string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[msgType]
	return j, ok
}

func (r *registry) require(msgType string) error {
	if _, ok := r.lookup(msgType); !ok {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}
	return nil
}

// ParsePayload converts whatever a queue delivered into *T. In-process queues
// hand over the original value; Redis delivers raw JSON.
func ParsePayload[T any](payload interface{}) (*T, error) {
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		return decodeJSON[T](p)
	case []byte:
		return decodeJSON[T](p)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("re-encode payload: %w", err)
		}
		return decodeJSON[T](b)
	}
	return nil, fmt.Errorf("unsupported payload type %T", payload)
}

func decodeJSON[T any](b []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}
