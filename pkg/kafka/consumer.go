package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "FinLearn/pkg/logger"
)

var (
	handledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finlearn",
		Subsystem: "kafka_consumer",
		Name:      "messages_total",
		Help:      "Consumed messages by final outcome",
	}, []string{"topic", "result"})

	handleSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finlearn",
		Subsystem: "kafka_consumer",
		Name:      "handle_seconds",
		Help:      "Time from dequeue to commit, retries included",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})
)

// MessageHandler consumes one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer reads every registered topic in one consumer group and hands
// messages to a worker pool. A partition is pinned to one worker, so its
// messages are handled in offset order.
type Consumer struct {
	cfg      consumerConfig
	log      *applogger.Logger
	hook     ConsumerHook
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	inboxes  []chan kafka.Message
	dlq      *kafka.Writer

	ctx      context.Context
	cancel   context.CancelFunc
	readWG   sync.WaitGroup
	workWG   sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:      cfg,
		log:      cfg.log.With(applogger.String("component", "kafka_consumer")),
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.dlqTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.brokers...), Topic: cfg.dlqTopic, Balancer: &kafka.Hash{}}
	}
	return c, nil
}

// WithConsumerHook replaces the hook. Call before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler must be called before Start; a second handler for a topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, dup := c.handlers[h.Topic()]; dup {
		c.log.Warn("duplicate handler ignored", applogger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka: no handlers registered")
	}
	start := kafka.FirstOffset
	if c.cfg.latest {
		start = kafka.LastOffset
	}

	c.inboxes = make([]chan kafka.Message, c.cfg.workers)
	for i := range c.inboxes {
		c.inboxes[i] = make(chan kafka.Message, c.cfg.bufferSize)
		c.workWG.Add(1)
		go c.work(c.inboxes[i])
	}

	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.brokers,
			GroupID:     c.cfg.groupID,
			Topic:       topic,
			MinBytes:    c.cfg.minBytes,
			MaxBytes:    c.cfg.maxBytes,
			StartOffset: start,
		})
		c.readers[topic] = r
		topics = append(topics, topic)
		c.readWG.Add(1)
		go c.read(r)
	}
	c.log.Info("consumer started",
		applogger.Strings("topics", topics),
		applogger.String("group", c.cfg.groupID),
		applogger.Int("workers", c.cfg.workers))
	return nil
}

// Stop ends fetching, lets workers drain their inboxes and closes the readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		c.readWG.Wait()
		for _, in := range c.inboxes {
			close(in)
		}

		done := make(chan struct{})
		go func() {
			c.workWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer drain: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("reader close failed", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
	})
	return err
}

// read fetches without committing; workers commit after handling.
func (c *Consumer) read(r *kafka.Reader) {
	defer c.readWG.Done()
	for {
		km, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("fetch failed", applogger.String("topic", r.Config().Topic), applogger.Error(err))
			c.sleep(time.Second)
			continue
		}
		select {
		case c.inboxes[km.Partition%len(c.inboxes)] <- km:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(inbox <-chan kafka.Message) {
	defer c.workWG.Done()
	for km := range inbox {
		c.process(km)
	}
}

func (c *Consumer) process(km kafka.Message) {
	start := time.Now()
	h := c.handlers[km.Topic]

	err := c.attempt(h, km)
	for n := 1; err != nil && n <= c.cfg.retryMax; n++ {
		if c.ctx.Err() != nil {
			// Uncommitted; the group redelivers it after rebalance.
			return
		}
		c.sleep(backoff(c.cfg.backoffMin, c.cfg.backoffMax, n))
		err = c.attempt(h, km)
	}

	result := "ok"
	if err != nil {
		result = "failed"
		c.log.Error("message dropped after retries",
			applogger.String("topic", km.Topic),
			applogger.Int64("offset", km.Offset),
			applogger.Error(err))
		if c.dlq != nil {
			result = "dead_lettered"
			c.deadLetter(km, err)
		}
	}
	handledTotal.WithLabelValues(km.Topic, result).Inc()

	// Committing failures too keeps a poison message from blocking the partition.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := c.readers[km.Topic].CommitMessages(ctx, km); cerr != nil {
		c.log.Warn("commit failed", applogger.String("topic", km.Topic), applogger.Int64("offset", km.Offset), applogger.Error(cerr))
	}
	handleSeconds.WithLabelValues(km.Topic).Observe(time.Since(start).Seconds())
}

func (c *Consumer) attempt(h MessageHandler, km kafka.Message) (err error) {
	ctx, err := c.hook.BeforeHandle(c.ctx, km)
	if err == nil {
		err = func() (herr error) {
			defer func() {
				if r := recover(); r != nil {
					herr = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return h.Handle(ctx, km.Value)
		}()
	}
	c.hook.AfterHandle(ctx, km, err)
	return err
}

func (c *Consumer) deadLetter(km kafka.Message, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := kafka.Message{
		Key:   km.Key,
		Value: km.Value,
		Headers: append(km.Headers,
			kafka.Header{Key: "source_topic", Value: []byte(km.Topic)},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
		),
	}
	if err := c.dlq.WriteMessages(ctx, rec); err != nil {
		c.log.Error("dead-letter write failed", applogger.String("topic", km.Topic), applogger.Error(err))
	}
}

func (c *Consumer) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-c.ctx.Done():
	}
}

// backoff doubles from min per attempt up to max, minus up to 50% jitter.
func backoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := min
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	if half := int64(d) / 2; half > 0 {
		d -= time.Duration(rand.Int63n(half))
	}
	return d
}
