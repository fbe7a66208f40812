package repository

// SchemaStatements returns the DDL applied on startup when the ClickHouse
// backend is enabled. Every statement is idempotent.
//
// ticks_raw keys on (symbol, org_id, ts, dedup_key) so scans come back in
// the canonical aggregation order; the ReplacingMergeTree collapses
// re-delivered dedup keys that slip past the exists check. The candle
// tables replace by materialized_at, so the latest materialization pass
// wins after merges.
func SchemaStatements(database string) []string {
	return []string{
		"CREATE DATABASE IF NOT EXISTS " + database,
		`CREATE TABLE IF NOT EXISTS ` + database + `.ticks_raw (
			symbol LowCardinality(String),
			org_id LowCardinality(String),
			ts DateTime64(3, 'UTC'),
			price Float64,
			size Float64,
			kind LowCardinality(String),
			dedup_key String
		) ENGINE = ReplacingMergeTree
		PARTITION BY toYYYYMMDD(ts)
		ORDER BY (symbol, org_id, ts, dedup_key)`,
		candleTableDDL(database, "candles_1m"),
		candleTableDDL(database, "candles_1h"),
	}
}

func candleTableDDL(database, table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + database + `.` + table + ` (
			symbol LowCardinality(String),
			org_id LowCardinality(String),
			bucket_start DateTime('UTC'),
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			trade_count UInt64,
			materialized_at DateTime64(3, 'UTC') DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(materialized_at)
		PARTITION BY toYYYYMM(bucket_start)
		ORDER BY (symbol, org_id, bucket_start)`
}
