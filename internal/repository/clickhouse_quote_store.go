package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
)

// insertChunkSize bounds rows per multi-row INSERT.
const insertChunkSize = 2000

// ClickHouseQuoteStore writes raw quotes; candle rollups are derived by materialized views.
type ClickHouseQuoteStore struct {
	db     *sql.DB
	table  string
	source string
}

// NewClickHouseQuoteStore creates a quote store writing to table.
func NewClickHouseQuoteStore(db *sql.DB, table, source string) domrepo.QuoteStore {
	return &ClickHouseQuoteStore{db: db, table: table, source: source}
}

func (s *ClickHouseQuoteStore) StoreBatch(ctx context.Context, quotes []models.Quote) error {
	rows := make([][]interface{}, 0, len(quotes))
	for _, q := range quotes {
		if q.Symbol == "" || q.Time.IsZero() || q.Price <= 0 {
			continue
		}
		rows = append(rows, []interface{}{q.Time.UTC(), q.Symbol, q.Price, q.Volume, s.source})
	}
	return insertChunked(ctx, s.db, s.table, []string{"ts", "symbol", "price", "volume", "source"}, rows)
}

func (s *ClickHouseQuoteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// insertChunked batches rows into multi-row VALUES statements to reduce round-trips.
func insertChunked(ctx context.Context, db *sql.DB, table string, cols []string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	for start := 0; start < len(rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*len(cols))
		for _, r := range rows[start:end] {
			values = append(values, placeholder)
			args = append(args, r...)
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(cols, ", "), strings.Join(values, ","))
		if _, err := db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}
