package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FinLearn/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	predictions    *prometheus.CounterVec
	confidence     *prometheus.GaugeVec
	trainingRuns   *prometheus.CounterVec
	trainingTime   *prometheus.HistogramVec
	tierInProgress *prometheus.GaugeVec
	accuracy       *prometheus.GaugeVec
	riskDecisions  *prometheus.CounterVec
	orders         *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finlearn_predictions_total",
				Help: "Total number of ensemble predictions by symbol and signal",
			},
			[]string{"symbol", "signal"},
		),
		confidence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finlearn_prediction_confidence",
				Help: "Confidence of the latest prediction",
			},
			[]string{"symbol"},
		),
		trainingRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finlearn_training_runs_total",
				Help: "Training runs by slot and result",
			},
			[]string{"slot", "result"},
		),
		trainingTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finlearn_training_duration_seconds",
				Help:    "Duration of slot training in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"slot"},
		),
		tierInProgress: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finlearn_tier_training_in_progress",
				Help: "1 while a tier is training",
			},
			[]string{"tier"},
		),
		accuracy: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finlearn_recent_accuracy",
				Help: "Rolling accuracy by subject",
			},
			[]string{"subject"},
		),
		riskDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finlearn_risk_decisions_total",
				Help: "Risk gate decisions by result and reason",
			},
			[]string{"result", "reason"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finlearn_orders_total",
				Help: "Orders placed by result",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finlearn_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finlearn_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finlearn_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordPrediction records an emitted ensemble signal.
func (r *Recorder) RecordPrediction(symbol string, sig models.Signal, confidence float64) {
	r.predictions.WithLabelValues(symbol, string(sig)).Inc()
	r.confidence.WithLabelValues(symbol).Set(confidence)
}

// RecordTraining records one slot training attempt.
func (r *Recorder) RecordTraining(slot models.ModelSlot, result string, seconds float64) {
	r.trainingRuns.WithLabelValues(string(slot), result).Inc()
	r.trainingTime.WithLabelValues(string(slot)).Observe(seconds)
}

func (r *Recorder) RecordTierState(tier int, inProgress bool) {
	v := 0.0
	if inProgress {
		v = 1
	}
	r.tierInProgress.WithLabelValues(strconv.Itoa(tier)).Set(v)
}

func (r *Recorder) RecordAccuracy(subject string, accuracy float64) {
	r.accuracy.WithLabelValues(subject).Set(accuracy)
}

func (r *Recorder) RecordRiskDecision(approved bool, reason string) {
	result := "rejected"
	if approved {
		result = "approved"
	}
	r.riskDecisions.WithLabelValues(result, reason).Inc()
}

func (r *Recorder) RecordOrder(result string) {
	r.orders.WithLabelValues(result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
