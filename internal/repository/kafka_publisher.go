package repository

import (
	"context"
	"fmt"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	pkgkafka "FinLearn/pkg/kafka"
	applogger "FinLearn/pkg/logger"
)

// KafkaPublisher implements SignalPublisher for Kafka; messages are keyed by symbol.
type KafkaPublisher struct {
	producer    *pkgkafka.Producer
	signalTopic string
	intentTopic string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, signalTopic, intentTopic string) domrepo.SignalPublisher {
	return &KafkaPublisher{producer: producer, signalTopic: signalTopic, intentTopic: intentTopic}
}

func (p *KafkaPublisher) PublishSignal(ctx context.Context, sig models.EnsembleSignal) error {
	return p.producer.Publish(ctx, p.signalTopic, []byte(sig.Symbol), sig)
}

func (p *KafkaPublisher) PublishIntent(ctx context.Context, intent models.TradeIntent) error {
	return p.producer.Publish(ctx, p.intentTopic, []byte(intent.Symbol), intent)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// KafkaQuoteSink is a QuoteStore that forwards quote batches to a Kafka topic;
// a consumer on that topic persists them.
type KafkaQuoteSink struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaQuoteSink creates a Kafka-backed quote sink.
func NewKafkaQuoteSink(producer *pkgkafka.Producer, topic string) domrepo.QuoteStore {
	return &KafkaQuoteSink{producer: producer, topic: topic}
}

// StoreBatch publishes one message per symbol in a single write so
// partitions keep per-symbol order.
func (s *KafkaQuoteSink) StoreBatch(ctx context.Context, quotes []models.Quote) error {
	bySymbol := make(map[string][]models.Quote)
	order := make([]string, 0)
	for _, q := range quotes {
		if _, ok := bySymbol[q.Symbol]; !ok {
			order = append(order, q.Symbol)
		}
		bySymbol[q.Symbol] = append(bySymbol[q.Symbol], q)
	}
	msgs := make([]pkgkafka.Message, 0, len(order))
	for _, sym := range order {
		msgs = append(msgs, pkgkafka.Message{Key: []byte(sym), Value: bySymbol[sym]})
	}
	if err := s.producer.PublishBatch(ctx, s.topic, msgs); err != nil {
		return fmt.Errorf("publish quotes: %w", err)
	}
	return nil
}

func (s *KafkaQuoteSink) Health(ctx context.Context) error {
	if s.producer == nil {
		return fmt.Errorf("kafka producer not configured")
	}
	return nil
}

// KafkaLogShipper publishes aggregated warn/error logs for central alerting.
type KafkaLogShipper struct {
	producer *pkgkafka.Producer
	source   string
}

// NewKafkaLogShipper creates a shipper; source keys messages so one instance stays on one partition.
func NewKafkaLogShipper(producer *pkgkafka.Producer, source string) *KafkaLogShipper {
	return &KafkaLogShipper{producer: producer, source: source}
}

func (s *KafkaLogShipper) PublishLogs(ctx context.Context, topic string, entries []applogger.AggregatedLogEntry) error {
	return s.producer.Publish(ctx, topic, []byte(s.source), entries)
}
