package kafka

import (
	"time"

	applogger "FinLearn/pkg/logger"
)

type ProducerOption func(*producerConfig)

type producerConfig struct {
	brokers      []string
	acks         int
	compression  string
	maxAttempts  int
	writeTimeout time.Duration
	readTimeout  time.Duration
	batchSize    int
	batchBytes   int
	linger       time.Duration
	async        bool
	hashByKey    bool
}

func defaultProducerConfig() producerConfig {
	return producerConfig{
		acks:         -1,
		compression:  "snappy",
		maxAttempts:  3,
		writeTimeout: 10 * time.Second,
		readTimeout:  10 * time.Second,
		batchSize:    100,
		batchBytes:   1 << 20,
		linger:       10 * time.Millisecond,
	}
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *producerConfig) { c.brokers = brokers }
}

// WithCompression accepts none, gzip, snappy, lz4 or zstd.
func WithCompression(codec string) ProducerOption {
	return func(c *producerConfig) { c.compression = codec }
}

// WithRequiredAcks: -1 waits for all in-sync replicas, 1 for the leader only.
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *producerConfig) { c.acks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *producerConfig) { c.maxAttempts = n }
}

func WithBatchSize(n int) ProducerOption {
	return func(c *producerConfig) { c.batchSize = n }
}

func WithBatchBytes(n int) ProducerOption {
	return func(c *producerConfig) { c.batchBytes = n }
}

// WithBatchTimeout is how long the writer lingers to fill a batch.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(c *producerConfig) { c.linger = d }
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *producerConfig) {
		c.writeTimeout, c.readTimeout = write, read
	}
}

// WithAsync makes Publish return before the broker acknowledges.
func WithAsync(async bool) ProducerOption {
	return func(c *producerConfig) { c.async = async }
}

// WithHashByKey routes equal keys to one partition, keeping per-symbol order.
func WithHashByKey(hash bool) ProducerOption {
	return func(c *producerConfig) { c.hashByKey = hash }
}

type ConsumerOption func(*consumerConfig)

type consumerConfig struct {
	brokers    []string
	groupID    string
	latest     bool
	workers    int
	bufferSize int
	retryMax   int
	backoffMin time.Duration
	backoffMax time.Duration
	dlqTopic   string
	minBytes   int
	maxBytes   int
	log        *applogger.Logger
}

func defaultConsumerConfig() consumerConfig {
	return consumerConfig{
		groupID:    "finlearn",
		workers:    1,
		bufferSize: 64,
		retryMax:   3,
		backoffMin: 100 * time.Millisecond,
		backoffMax: 5 * time.Second,
		minBytes:   1,
		maxBytes:   10 << 20,
		log:        applogger.Nop(),
	}
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *consumerConfig) { c.brokers = brokers }
}

func WithConsumerGroupID(id string) ConsumerOption {
	return func(c *consumerConfig) {
		if id != "" {
			c.groupID = id
		}
	}
}

// WithConsumerStartLatest makes a new group skip the backlog.
func WithConsumerStartLatest(latest bool) ConsumerOption {
	return func(c *consumerConfig) { c.latest = latest }
}

// WithConsumerWorkers sets the handler pool size. Messages of one partition
// always land on the same worker.
func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithConsumerBufferSize bounds each worker's inbox.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithConsumerRetry sets handler retries and the jittered exponential backoff range.
func WithConsumerRetry(max int, min, maxDelay time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		c.retryMax, c.backoffMin, c.backoffMax = max, min, maxDelay
	}
}

// WithConsumerDLQ parks exhausted messages on topic; empty disables it.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *consumerConfig) { c.dlqTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *consumerConfig) { c.minBytes, c.maxBytes = minBytes, maxBytes }
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *consumerConfig) {
		if l != nil {
			c.log = l
		}
	}
}
