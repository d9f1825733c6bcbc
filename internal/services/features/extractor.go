package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"FinLearn/internal/domain/models"

	"github.com/markcheno/go-talib"
)

// Warmup is the number of leading candles consumed by the longest indicator.
const Warmup = 99

// HistoryDepth is how many preceding feature vectors each snapshot carries.
const HistoryDepth = 15

// ErrNotEnoughCandles is returned when fewer than Warmup+1 candles are supplied.
var ErrNotEnoughCandles = errors.New("not enough candles for indicators")

var featureNames = []string{
	"sma_7_ratio",
	"sma_25_ratio",
	"sma_99_ratio",
	"ema_12_26_ratio",
	"macd_hist",
	"macd_signal",
	"rsi_14",
	"bb_position",
	"bb_width",
	"volatility_24",
	"volume_ratio_20",
	"return_1",
	"return_24",
	"support_48",
	"resistance_48",
	"quarter_end",
}

// Names returns the feature names in vector order.
func Names() []string {
	return append([]string(nil), featureNames...)
}

// Arity is the length of every extracted feature vector.
func Arity() int { return len(featureNames) }

type series struct {
	close, volume              []float64
	sma7, sma25, sma99         []float64
	ema12, ema26               []float64
	macdSignal, macdHist       []float64
	rsi                        []float64
	bbUpper, bbMiddle, bbLower []float64
	volSma                     []float64
	rollMin, rollMax           []float64
	logReturns                 []float64
}

func compute(candles []models.Candle) *series {
	s := &series{
		close:  make([]float64, len(candles)),
		volume: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.close[i] = c.Close
		s.volume[i] = c.Volume
	}
	s.sma7 = talib.Sma(s.close, 7)
	s.sma25 = talib.Sma(s.close, 25)
	s.sma99 = talib.Sma(s.close, 99)
	s.ema12 = talib.Ema(s.close, 12)
	s.ema26 = talib.Ema(s.close, 26)
	_, s.macdSignal, s.macdHist = talib.Macd(s.close, 12, 26, 9)
	s.rsi = talib.Rsi(s.close, 14)
	s.bbUpper, s.bbMiddle, s.bbLower = talib.BBands(s.close, 20, 2, 2, 0)
	s.volSma = talib.Sma(s.volume, 20)
	s.rollMin = talib.Min(s.close, 48)
	s.rollMax = talib.Max(s.close, 48)
	s.logReturns = ComputeLogReturns(candles)
	return s
}

// row builds the feature vector for candle i (i >= Warmup).
func (s *series) row(i int, ts time.Time) []float64 {
	c := s.close[i]
	v := []float64{
		ratio(s.sma7[i], c),
		ratio(s.sma25[i], c),
		ratio(s.sma99[i], c),
		ratio(s.ema12[i], s.ema26[i]),
		safeDiv(s.macdHist[i], c),
		safeDiv(s.macdSignal[i], c),
		s.rsi[i] / 100,
		bandPosition(c, s.bbLower[i], s.bbUpper[i]),
		safeDiv(s.bbUpper[i]-s.bbLower[i], s.bbMiddle[i]),
		RealizedVolatility(s.logReturns[:i], 24, 1),
		ratio(s.volume[i], s.volSma[i]),
		ratio(c, s.close[i-1]),
		ratio(c, s.close[i-24]),
		ratio(c, s.rollMin[i]),
		ratio(c, s.rollMax[i]),
		quarterEnd(ts),
	}
	for j := range v {
		if math.IsNaN(v[j]) || math.IsInf(v[j], 0) {
			v[j] = 0
		}
	}
	return v
}

// Extract returns one snapshot per candle after the warmup period.
func Extract(symbol string, candles []models.Candle) ([]models.FeatureSnapshot, error) {
	if len(candles) <= Warmup {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughCandles, len(candles), Warmup+1)
	}
	s := compute(candles)
	names := Names()
	out := make([]models.FeatureSnapshot, 0, len(candles)-Warmup)
	rows := make([][]float64, 0, len(candles)-Warmup)
	for i := Warmup; i < len(candles); i++ {
		row := s.row(i, candles[i].Bucket)
		out = append(out, models.FeatureSnapshot{
			Symbol:    symbol,
			Names:     names,
			Values:    row,
			Price:     candles[i].Close,
			Timestamp: candles[i].Bucket,
			History:   rows[max(0, len(rows)-HistoryDepth):len(rows):len(rows)],
		})
		rows = append(rows, row)
	}
	return out, nil
}

// Latest returns the snapshot for the most recent candle.
func Latest(symbol string, candles []models.Candle) (models.FeatureSnapshot, error) {
	snaps, err := Extract(symbol, candles)
	if err != nil {
		return models.FeatureSnapshot{}, err
	}
	return snaps[len(snaps)-1], nil
}

// BuildTrainingSet labels each snapshot 1 when the next close is higher.
// The last candle has no label and is dropped.
func BuildTrainingSet(symbol string, candles []models.Candle, now time.Time) (*models.TrainingSet, error) {
	snaps, err := Extract(symbol, candles)
	if err != nil {
		return nil, err
	}
	set := &models.TrainingSet{
		Symbol:    symbol,
		Snapshots: snaps[:len(snaps)-1],
		Labels:    make([]float64, len(snaps)-1),
		BuiltAt:   now,
	}
	for i := range set.Labels {
		if snaps[i+1].Price > snaps[i].Price {
			set.Labels[i] = 1
		}
	}
	return set, nil
}

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility is the sample standard deviation of the last window
// returns, scaled by sqrt(barsPerYear).
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sum, sum2 := 0.0, 0.0
	for _, r := range logReturns[len(logReturns)-window:] {
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * barsPerYear)
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a/b - 1
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func bandPosition(price, lower, upper float64) float64 {
	w := upper - lower
	if w <= 0 {
		return 0.5
	}
	return (price - lower) / w
}

// quarterEnd flags the last days of a calendar quarter.
func quarterEnd(ts time.Time) float64 {
	if ts.Month()%3 == 0 && ts.Day() >= 28 {
		return 1
	}
	return 0
}
