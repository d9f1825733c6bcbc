package clickhouse

import (
	"fmt"
	"regexp"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// candleRollups maps a rollup table suffix to the ClickHouse bucketing function and retention.
var candleRollups = []struct {
	suffix string
	bucket string
	ttl    string
}{
	{"1s", "toStartOfSecond(ts)", "INTERVAL 2 DAY"},
	{"1m", "toStartOfMinute(ts)", "INTERVAL 120 DAY"},
	{"1h", "toStartOfHour(ts)", "INTERVAL 730 DAY"},
}

// Schema returns the idempotent DDL for the engine's database.
// Raw quotes feed aggregating candle rollups through materialized views.
func Schema(db string) ([]string, error) {
	if !identRe.MatchString(db) {
		return nil, fmt.Errorf("invalid database name %q", db)
	}
	stmts := []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, db),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.quotes (
            ts      DateTime64(3, 'UTC'),
            symbol  LowCardinality(String),
            price   Float64,
            volume  Float64,
            source  LowCardinality(String)
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMMDD(ts)
        ORDER BY (symbol, ts)
        TTL toDateTime(ts) + INTERVAL 30 DAY`, db),
	}
	for _, r := range candleRollups {
		stmts = append(stmts,
			fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %[1]s.candles_%[2]s (
            bucket  DateTime('UTC'),
            symbol  LowCardinality(String),
            open    AggregateFunction(argMin, Float64, DateTime64(3, 'UTC')),
            high    SimpleAggregateFunction(max, Float64),
            low     SimpleAggregateFunction(min, Float64),
            close   AggregateFunction(argMax, Float64, DateTime64(3, 'UTC')),
            vol     SimpleAggregateFunction(sum, Float64)
        ) ENGINE = AggregatingMergeTree
        ORDER BY (symbol, bucket)
        TTL bucket + %[3]s`, db, r.suffix, r.ttl),
			fmt.Sprintf(`
        CREATE MATERIALIZED VIEW IF NOT EXISTS %[1]s.candles_%[2]s_mv TO %[1]s.candles_%[2]s AS
        SELECT
            %[3]s AS bucket,
            symbol,
            argMinState(price, ts) AS open,
            max(price) AS high,
            min(price) AS low,
            argMaxState(price, ts) AS close,
            sum(volume) AS vol
        FROM %[1]s.quotes
        GROUP BY bucket, symbol`, db, r.suffix, r.bucket),
		)
	}
	stmts = append(stmts,
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.performance_samples (
            ts      DateTime64(3, 'UTC'),
            subject LowCardinality(String),
            metric  LowCardinality(String),
            value   Float64
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(ts)
        ORDER BY (subject, metric, ts)
        TTL toDateTime(ts) + INTERVAL 180 DAY`, db),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.predictions (
            id            String,
            generated_at  DateTime64(3, 'UTC'),
            symbol        LowCardinality(String),
            signal        LowCardinality(String),
            score         Float64,
            confidence    Float64,
            price         Float64,
            votes         String,
            outcome       LowCardinality(String),
            outcome_at    Nullable(DateTime64(3, 'UTC'))
        ) ENGINE = ReplacingMergeTree
        ORDER BY id
        TTL toDateTime(generated_at) + INTERVAL 180 DAY`, db),
	)
	return stmts, nil
}
