package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	pkgkafka "FinLearn/pkg/kafka"
	"FinLearn/pkg/logger"
)

// KafkaQuotesHandler consumes quote batches from Kafka and writes them to storage.
type KafkaQuotesHandler struct {
	topic   string
	store   domrepo.QuoteStore
	metrics domrepo.Metrics
}

func NewKafkaQuotesHandler(topic string, store domrepo.QuoteStore, metrics domrepo.Metrics) *KafkaQuotesHandler {
	return &KafkaQuotesHandler{topic: topic, store: store, metrics: metrics}
}

func (h *KafkaQuotesHandler) Topic() string { return h.topic }

// Handle accepts either a single quote object or an array of quotes.
func (h *KafkaQuotesHandler) Handle(ctx context.Context, b []byte) error {
	quotes, err := decodeQuotes(b)
	if err != nil {
		h.recordError("consumer_unmarshal")
		return err
	}
	if len(quotes) == 0 {
		return nil
	}
	if h.metrics != nil {
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(quotes[len(quotes)-1].Time).Seconds())
	}

	start := time.Now()
	err = h.store.StoreBatch(ctx, quotes)
	if h.metrics != nil {
		h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
	}
	if err != nil {
		h.recordError("consumer_store")
		return err
	}
	return nil
}

func (h *KafkaQuotesHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

func decodeQuotes(b []byte) ([]models.Quote, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var qs []models.Quote
		if err := json.Unmarshal(b, &qs); err != nil {
			return nil, fmt.Errorf("decode quotes: %w", err)
		}
		return qs, nil
	}
	var q models.Quote
	if err := json.Unmarshal(b, &q); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	return []models.Quote{q}, nil
}

// OutcomeSubmitter attaches realized outcomes to logged predictions.
type OutcomeSubmitter interface {
	SubmitOutcome(ctx context.Context, predictionID, outcome string) (bool, error)
}

// KafkaOutcomeHandler applies outcome events published by downstream settlement.
type KafkaOutcomeHandler struct {
	topic  string
	engine OutcomeSubmitter
	log    *logger.Logger
}

func NewKafkaOutcomeHandler(topic string, engine OutcomeSubmitter, log *logger.Logger) *KafkaOutcomeHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaOutcomeHandler{topic: topic, engine: engine, log: log}
}

func (h *KafkaOutcomeHandler) Topic() string { return h.topic }

// Handle drops unknown ids and malformed payloads instead of retrying them.
func (h *KafkaOutcomeHandler) Handle(ctx context.Context, b []byte) error {
	var req models.OutcomeRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.log.Warn("outcome event dropped", logger.Error(err))
		return nil
	}
	if req.PredictionID == "" {
		h.log.Warn("outcome event without prediction id")
		return nil
	}
	ok, err := h.engine.SubmitOutcome(ctx, req.PredictionID, req.Outcome)
	if errors.Is(err, models.ErrUnknownPrediction) {
		h.log.Debug("outcome for unknown prediction", logger.String("prediction_id", req.PredictionID))
		return nil
	}
	if err != nil {
		h.log.Warn("outcome rejected", logger.String("prediction_id", req.PredictionID), logger.Error(err))
		return nil
	}
	if !ok {
		h.log.Debug("outcome already recorded", logger.String("prediction_id", req.PredictionID))
	}
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*KafkaQuotesHandler)(nil)
	_ pkgkafka.MessageHandler = (*KafkaOutcomeHandler)(nil)
)
