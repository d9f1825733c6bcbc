package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"FinLearn/internal/domain/models"
)

func makeCandles(n int) []models.Candle {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	price := 100.0
	for i := range out {
		price *= 1 + 0.01*math.Sin(float64(i)/5)
		out[i] = models.Candle{
			Bucket: start.Add(time.Duration(i) * time.Hour),
			Symbol: "BTCUSDT",
			Open:   price, High: price * 1.01, Low: price * 0.99, Close: price,
			Volume: 10 + float64(i%7),
		}
	}
	return out
}

func TestExtractShapes(t *testing.T) {
	candles := makeCandles(160)
	snaps, err := Extract("BTCUSDT", candles)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(snaps) != 160-Warmup {
		t.Fatalf("got %d snapshots, want %d", len(snaps), 160-Warmup)
	}
	for i, s := range snaps {
		if s.Arity() != Arity() {
			t.Fatalf("snapshot %d arity %d, want %d", i, s.Arity(), Arity())
		}
		for j, v := range s.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("snapshot %d feature %s is not finite", i, featureNames[j])
			}
		}
	}
	last := snaps[len(snaps)-1]
	if last.Price != candles[len(candles)-1].Close {
		t.Fatalf("price %v, want last close", last.Price)
	}
	if rsi := last.Values[6]; rsi < 0 || rsi > 1 {
		t.Fatalf("scaled rsi out of range: %v", rsi)
	}
}

func TestExtractNotEnoughCandles(t *testing.T) {
	_, err := Extract("BTCUSDT", makeCandles(Warmup))
	if !errors.Is(err, ErrNotEnoughCandles) {
		t.Fatalf("expected ErrNotEnoughCandles, got %v", err)
	}
}

func TestBuildTrainingSetLabels(t *testing.T) {
	candles := makeCandles(150)
	now := time.Now()
	set, err := BuildTrainingSet("BTCUSDT", candles, now)
	if err != nil {
		t.Fatalf("BuildTrainingSet: %v", err)
	}
	if set.Len() != 150-Warmup-1 || len(set.Labels) != set.Len() {
		t.Fatalf("unexpected sizes: %d snapshots, %d labels", set.Len(), len(set.Labels))
	}
	for i := range set.Labels {
		up := candles[Warmup+i+1].Close > candles[Warmup+i].Close
		if (set.Labels[i] == 1) != up {
			t.Fatalf("label %d = %v, next close up = %v", i, set.Labels[i], up)
		}
	}
}

func TestRealizedVolatility(t *testing.T) {
	if v := RealizedVolatility([]float64{0.01, 0.01, 0.01}, 3, 1); v != 0 {
		t.Fatalf("constant returns should have zero vol, got %v", v)
	}
	if v := RealizedVolatility([]float64{0.01}, 3, 1); v != 0 {
		t.Fatalf("short input should return 0, got %v", v)
	}
	v := RealizedVolatility([]float64{0.01, -0.01}, 2, 4)
	if math.Abs(v-math.Sqrt(0.0002*4)) > 1e-12 {
		t.Fatalf("unexpected vol %v", v)
	}
}

func TestExtractCarriesHistory(t *testing.T) {
	snaps, err := Extract("BTCUSDT", makeCandles(Warmup+40))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(snaps[0].History) != 0 {
		t.Fatalf("first snapshot history = %d, want 0", len(snaps[0].History))
	}
	if got := len(snaps[3].History); got != 3 {
		t.Fatalf("snapshot 3 history = %d, want 3", got)
	}
	last := snaps[len(snaps)-1]
	if len(last.History) != HistoryDepth {
		t.Fatalf("last history = %d, want %d", len(last.History), HistoryDepth)
	}
	prev := snaps[len(snaps)-2].Values
	for i, v := range last.History[HistoryDepth-1] {
		if v != prev[i] {
			t.Fatalf("history tail differs from previous snapshot at %d", i)
		}
	}

	w := snaps[1].Window(4)
	if len(w) != 4 {
		t.Fatalf("window len = %d", len(w))
	}
	// padded with the oldest vector available
	if &w[0][0] != &snaps[0].Values[0] || &w[2][0] != &snaps[0].Values[0] || &w[3][0] != &snaps[1].Values[0] {
		t.Fatal("window not padded from the oldest history entry")
	}
}
