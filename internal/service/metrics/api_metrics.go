package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine API instrumentation keyed by logical endpoint (predict, trade, ...).
var (
	APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finlearn",
		Subsystem: "engine_api",
		Name:      "latency_seconds",
		Help:      "Engine endpoint latency, rendering included",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"endpoint"})

	APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "finlearn",
		Subsystem: "engine_api",
		Name:      "errors_total",
		Help:      "Engine endpoint calls answered with an error envelope",
	}, []string{"endpoint", "code"})
)
