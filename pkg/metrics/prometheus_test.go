package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"FinLearn/internal/domain/models"
)

func TestRecorder(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.RecordPrediction("BTCUSDT", models.SignalBuy, 0.7)
	r.RecordPrediction("BTCUSDT", models.SignalBuy, 0.4)
	r.RecordTierState(2, true)
	r.RecordRiskDecision(false, models.ReasonDailyLimit)
	r.RecordTraining(models.SlotSequence, "ok", 1.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.predictions.WithLabelValues("BTCUSDT", "BUY")))
	assert.Equal(t, 0.4, testutil.ToFloat64(r.confidence.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tierInProgress.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.riskDecisions.WithLabelValues("rejected", models.ReasonDailyLimit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trainingRuns.WithLabelValues("sequence", "ok")))

	r.RecordTierState(2, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.tierInProgress.WithLabelValues("2")))
}
