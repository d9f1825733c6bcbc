package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	applogger "FinLearn/pkg/logger"
)

var (
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "finlearn",
		Subsystem: "http",
		Name:      "request_seconds",
		Help:      "API request latency by route template",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"route", "method", "code"})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "finlearn",
		Subsystem: "http",
		Name:      "in_flight",
		Help:      "Requests currently being served",
	})
)

type routeKey struct{}

// WithRoute stores the route template on ctx so metric labels stay bounded.
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeKey{}, route)
}

func routeOf(r *http.Request) string {
	if s, _ := r.Context().Value(routeKey{}).(string); s != "" {
		return s
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Metrics observes latency per route. 5xx responses are logged as errors and
// requests slower than slow (if > 0) as warnings.
func Metrics(l *applogger.Logger, slow time.Duration) func(http.Handler) http.Handler {
	if l == nil {
		l = applogger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inFlight.Inc()
			defer inFlight.Dec()

			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			took := time.Since(start)

			route := routeOf(r)
			requestLatency.WithLabelValues(route, r.Method, strconv.Itoa(rec.code)).Observe(took.Seconds())

			switch {
			case rec.code >= 500:
				l.Error("request failed", applogger.String("route", route), applogger.Int("code", rec.code), applogger.Duration("took", took))
			case slow > 0 && took >= slow:
				l.Warn("slow request", applogger.String("route", route), applogger.Duration("took", took))
			}
		})
	}
}
