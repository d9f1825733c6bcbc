package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
)

// ClickHousePerformanceSink persists performance samples and resolved predictions.
type ClickHousePerformanceSink struct {
	db       *sql.DB
	database string
}

// NewClickHousePerformanceSink creates a sink writing into database.
func NewClickHousePerformanceSink(db *sql.DB, database string) domrepo.PerformanceSink {
	return &ClickHousePerformanceSink{db: db, database: database}
}

func (s *ClickHousePerformanceSink) StoreSamples(ctx context.Context, samples []models.PerformanceSample) error {
	rows := make([][]interface{}, 0, len(samples))
	for _, smp := range samples {
		rows = append(rows, []interface{}{smp.Timestamp.UTC(), smp.Subject, smp.Metric, smp.Value})
	}
	return insertChunked(ctx, s.db, s.database+".performance_samples", []string{"ts", "subject", "metric", "value"}, rows)
}

func (s *ClickHousePerformanceSink) StorePrediction(ctx context.Context, rec models.PredictionRecord) error {
	votes, err := json.Marshal(rec.Signal.Votes)
	if err != nil {
		return fmt.Errorf("marshal votes: %w", err)
	}
	var outcome string
	var outcomeAt *time.Time
	if rec.Outcome != nil {
		outcome = string(*rec.Outcome)
	}
	if rec.OutcomeSetAt != nil {
		t := rec.OutcomeSetAt.UTC()
		outcomeAt = &t
	}
	row := []interface{}{
		rec.ID,
		rec.GeneratedAt.UTC(),
		rec.Signal.Symbol,
		string(rec.Signal.Signal),
		rec.Signal.Score,
		rec.Signal.Confidence,
		rec.Signal.Price,
		string(votes),
		outcome,
		outcomeAt,
	}
	cols := []string{"id", "generated_at", "symbol", "signal", "score", "confidence", "price", "votes", "outcome", "outcome_at"}
	return insertChunked(ctx, s.db, s.database+".predictions", cols, [][]interface{}{row})
}

// Prune drops rows older than the cutoff; TTLs cover the steady state.
func (s *ClickHousePerformanceSink) Prune(ctx context.Context, olderThan time.Time) error {
	stmts := []string{
		fmt.Sprintf("ALTER TABLE %s.performance_samples DELETE WHERE ts < ?", s.database),
		fmt.Sprintf("ALTER TABLE %s.predictions DELETE WHERE generated_at < ?", s.database),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q, olderThan.UTC()); err != nil {
			return fmt.Errorf("prune: %w", err)
		}
	}
	return nil
}
