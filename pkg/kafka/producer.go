package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finlearn",
		Subsystem: "kafka_producer",
		Name:      "messages_total",
		Help:      "Messages handed to the Kafka writer",
	}, []string{"topic", "result"})

	publishSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finlearn",
		Subsystem: "kafka_producer",
		Name:      "write_seconds",
		Help:      "WriteMessages latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})
)

// Message is one record of a batch. Value follows the Publish encoding rules.
type Message struct {
	Key   []byte
	Value interface{}
}

// Producer writes JSON records. It is safe for concurrent use.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	codec, err := compressionCodec(cfg.compression)
	if err != nil {
		return nil, err
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.hashByKey {
		balancer = &kafka.Hash{}
	}
	return &Producer{w: &kafka.Writer{
		Addr:         kafka.TCP(cfg.brokers...),
		Balancer:     balancer,
		RequiredAcks: kafka.RequiredAcks(cfg.acks),
		Compression:  codec,
		MaxAttempts:  cfg.maxAttempts,
		WriteTimeout: cfg.writeTimeout,
		ReadTimeout:  cfg.readTimeout,
		BatchSize:    cfg.batchSize,
		BatchBytes:   int64(cfg.batchBytes),
		BatchTimeout: cfg.linger,
		Async:        cfg.async,
	}}, nil
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("kafka: unknown compression %q", name)
}

// encode passes []byte and string through and JSON-encodes everything else.
func encode(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

// record builds a message carrying the trace id from ctx, if any.
func record(ctx context.Context, topic string, key []byte, value []byte) kafka.Message {
	m := kafka.Message{Topic: topic, Key: key, Value: value, Time: time.Now()}
	if id, _ := ctx.Value(CtxTraceID).(string); id != "" {
		m.Headers = append(m.Headers, kafka.Header{Key: traceHeader, Value: []byte(id)})
	}
	return m
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishBatch writes all messages in one WriteMessages call. Encoding
// failures abort before anything is sent.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	recs := make([]kafka.Message, len(messages))
	for i, m := range messages {
		v, err := encode(m.Value)
		if err != nil {
			return err
		}
		recs[i] = record(ctx, topic, m.Key, v)
	}

	start := time.Now()
	err := p.w.WriteMessages(ctx, recs...)
	publishSeconds.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	publishedTotal.WithLabelValues(topic, result).Add(float64(len(recs)))
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}
