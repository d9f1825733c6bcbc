package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	pkgch "FinLearn/pkg/clickhouse"
	applogger "FinLearn/pkg/logger"
)

// CHCandleStore reads OHLCV candles from the AggregatingMergeTree rollups
// that the quote pipeline feeds.
type CHCandleStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHCandleStore(ch *pkgch.Client, database string) *CHCandleStore {
	return &CHCandleStore{db: ch.DB(), database: database, l: applogger.Nop()}
}

func (s *CHCandleStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

// rollup names the table and the bucket expression serving a timeframe.
// 5m regroups the 1m rollup; aggregate states merge across buckets.
type rollup struct {
	table  string
	bucket string
}

func (s *CHCandleStore) rollupFor(tf domrepo.Timeframe) (rollup, error) {
	switch tf {
	case domrepo.TF1s:
		return rollup{s.database + ".candles_1s", "bucket"}, nil
	case domrepo.TF1m:
		return rollup{s.database + ".candles_1m", "bucket"}, nil
	case domrepo.TF5m:
		return rollup{s.database + ".candles_1m", "toStartOfFiveMinutes(bucket)"}, nil
	case domrepo.TF1h:
		return rollup{s.database + ".candles_1h", "bucket"}, nil
	}
	return rollup{}, fmt.Errorf("unsupported timeframe: %s", tf)
}

// candleSQL merges the partial aggregate states of one symbol per bucket.
func (r rollup) candleSQL(where, order string, limit bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s AS b, symbol, argMinMerge(open), max(high), min(low), argMaxMerge(close), sum(vol) FROM %s", r.bucket, r.table)
	b.WriteString(" WHERE " + where)
	b.WriteString(" GROUP BY b, symbol ORDER BY b " + order)
	if limit {
		b.WriteString(" LIMIT ?")
	}
	return b.String()
}

// GetCandles returns the candles with bucket in [from, to], oldest first.
func (s *CHCandleStore) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	r, err := s.rollupFor(tf)
	if err != nil {
		return nil, err
	}
	q := r.candleSQL("symbol = ? AND bucket >= ? AND bucket <= ?", "ASC", false)
	return s.read(ctx, "range", r, symbol, tf, q, symbol, from.UTC(), to.UTC())
}

// GetLatestNCandles returns the newest n candles, oldest first.
func (s *CHCandleStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	r, err := s.rollupFor(tf)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	out, err := s.read(ctx, "latest", r, symbol, tf, r.candleSQL("symbol = ?", "DESC", true), symbol, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CHCandleStore) read(ctx context.Context, op string, r rollup, symbol string, tf domrepo.Timeframe, q string, args ...interface{}) ([]models.Candle, error) {
	start := time.Now()
	out, err := scanCandles(ctx, s.db, q, args...)
	fields := []applogger.Field{
		applogger.String("op", op),
		applogger.String("table", r.table),
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Duration("took", time.Since(start)),
	}
	if err != nil {
		s.l.Error("candle query failed", append(fields, applogger.Error(err))...)
		return nil, fmt.Errorf("candles %s %s: %w", op, symbol, err)
	}
	s.l.Debug("candle query", append(fields, applogger.Int("rows", len(out)))...)
	return out, nil
}

func scanCandles(ctx context.Context, db *sql.DB, q string, args ...interface{}) ([]models.Candle, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
