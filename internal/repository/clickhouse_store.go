package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
)

// CHTickStore implements TickStore on ClickHouse. Rows live in a
// ReplacingMergeTree keyed by (symbol, org_id, ts, dedup_key); duplicate
// detection is an exists check before insert, with the merge engine as a
// backstop for re-deliveries that race the check.
type CHTickStore struct {
	db       *sql.DB
	database string
}

// NewCHTickStore creates a ClickHouse-backed tick store.
func NewCHTickStore(db *sql.DB, database string) *CHTickStore {
	return &CHTickStore{db: db, database: database}
}

func (s *CHTickStore) table() string { return s.database + ".ticks_raw" }

func (s *CHTickStore) Append(ctx context.Context, t *models.Tick) (models.IngestStatus, error) {
	if err := t.Validate(); err != nil {
		return models.IngestRejected, err
	}

	existsQ := fmt.Sprintf(
		"SELECT 1 FROM %s WHERE symbol = ? AND org_id = ? AND dedup_key = ? LIMIT 1",
		s.table())
	var one uint8
	err := s.db.QueryRowContext(ctx, existsQ, t.Symbol, t.OrgID, t.DedupKey).Scan(&one)
	switch {
	case err == nil:
		return models.IngestDuplicate, nil
	case err != sql.ErrNoRows:
		return models.IngestRejected, fmt.Errorf("dedup check: %w", err)
	}

	insertQ := fmt.Sprintf(
		"INSERT INTO %s (symbol, org_id, ts, price, size, kind, dedup_key) VALUES (?, ?, ?, ?, ?, ?, ?)",
		s.table())
	if _, err := s.db.ExecContext(ctx, insertQ,
		t.Symbol, t.OrgID, t.Time.UTC(), t.Price, t.Size, string(t.Kind), t.DedupKey); err != nil {
		return models.IngestRejected, fmt.Errorf("insert tick: %w", err)
	}
	return models.IngestAccepted, nil
}

func (s *CHTickStore) Query(ctx context.Context, symbol, orgID string, from, to time.Time) ([]models.Tick, error) {
	q := fmt.Sprintf(
		`SELECT symbol, org_id, ts, price, size, kind, dedup_key
		 FROM %s FINAL
		 WHERE symbol = ? AND org_id = ? AND ts >= ? AND ts < ?
		 ORDER BY ts, dedup_key`,
		s.table())
	rows, err := s.db.QueryContext(ctx, q, symbol, orgID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var out []models.Tick
	for rows.Next() {
		var t models.Tick
		var kind string
		if err := rows.Scan(&t.Symbol, &t.OrgID, &t.Time, &t.Price, &t.Size, &kind, &t.DedupKey); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		t.Kind = models.TickKind(kind)
		t.Time = t.Time.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *CHTickStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	countQ := fmt.Sprintf("SELECT count() FROM %s WHERE ts < ?", s.table())
	var n int64
	if err := s.db.QueryRowContext(ctx, countQ, cutoff.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ticks: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	deleteQ := fmt.Sprintf("ALTER TABLE %s DELETE WHERE ts < ?", s.table())
	if _, err := s.db.ExecContext(ctx, deleteQ, cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("delete ticks: %w", err)
	}
	return n, nil
}

func (s *CHTickStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHTickStore) Close() error {
	return nil // pool owned by pkg/clickhouse.Client
}

// CHCandleStore implements CandleStore on ClickHouse, one table per
// materialized timeframe. Upsert is a plain insert: the ReplacingMergeTree
// keeps the row with the latest materialized_at, and FINAL reads collapse
// unmerged revisions so callers never see two rows for one bucket.
type CHCandleStore struct {
	db       *sql.DB
	database string
}

// NewCHCandleStore creates a ClickHouse-backed candle store.
func NewCHCandleStore(db *sql.DB, database string) *CHCandleStore {
	return &CHCandleStore{db: db, database: database}
}

func (s *CHCandleStore) table(tf domrepo.Timeframe) string {
	return fmt.Sprintf("%s.candles_%s", s.database, tf)
}

func (s *CHCandleStore) Upsert(ctx context.Context, tf domrepo.Timeframe, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	const chunkSize = 2000
	for start := 0; start < len(candles); start += chunkSize {
		end := start + chunkSize
		if end > len(candles) {
			end = len(candles)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*9)
		for _, c := range candles[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				c.Symbol, c.OrgID, c.Bucket.UTC(),
				c.Open, c.High, c.Low, c.Close,
				c.Volume, c.TradeCount,
			)
		}
		q := fmt.Sprintf(
			"INSERT INTO %s (symbol, org_id, bucket_start, open, high, low, close, volume, trade_count) VALUES %s",
			s.table(tf), strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("upsert candles %s: %w", tf, err)
		}
	}
	return nil
}

func (s *CHCandleStore) Query(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, from, to time.Time) ([]models.Candle, error) {
	q := fmt.Sprintf(
		`SELECT symbol, org_id, bucket_start, open, high, low, close, volume, trade_count
		 FROM %s FINAL
		 WHERE symbol = ? AND org_id = ? AND bucket_start >= ? AND bucket_start < ?
		 ORDER BY bucket_start`,
		s.table(tf))
	rows, err := s.db.QueryContext(ctx, q, symbol, orgID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candles %s: %w", tf, err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

func (s *CHCandleStore) Latest(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, n int) ([]models.Candle, error) {
	q := fmt.Sprintf(
		`SELECT symbol, org_id, bucket_start, open, high, low, close, volume, trade_count
		 FROM %s FINAL
		 WHERE symbol = ? AND org_id = ?
		 ORDER BY bucket_start DESC
		 LIMIT ?`,
		s.table(tf))
	rows, err := s.db.QueryContext(ctx, q, symbol, orgID, n)
	if err != nil {
		return nil, fmt.Errorf("latest candles %s: %w", tf, err)
	}
	defer rows.Close()

	out, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CHCandleStore) DeleteBucket(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, bucket time.Time) error {
	q := fmt.Sprintf(
		"ALTER TABLE %s DELETE WHERE symbol = ? AND org_id = ? AND bucket_start = ?",
		s.table(tf))
	if _, err := s.db.ExecContext(ctx, q, symbol, orgID, bucket.UTC()); err != nil {
		return fmt.Errorf("delete bucket %s: %w", tf, err)
	}
	return nil
}

func (s *CHCandleStore) DeleteBefore(ctx context.Context, tf domrepo.Timeframe, cutoff time.Time) (int64, error) {
	countQ := fmt.Sprintf("SELECT count() FROM %s FINAL WHERE bucket_start < ?", s.table(tf))
	var n int64
	if err := s.db.QueryRowContext(ctx, countQ, cutoff.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count candles %s: %w", tf, err)
	}
	if n == 0 {
		return 0, nil
	}
	deleteQ := fmt.Sprintf("ALTER TABLE %s DELETE WHERE bucket_start < ?", s.table(tf))
	if _, err := s.db.ExecContext(ctx, deleteQ, cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("delete candles %s: %w", tf, err)
	}
	return n, nil
}

func scanCandles(rows *sql.Rows) ([]models.Candle, error) {
	var out []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Symbol, &c.OrgID, &c.Bucket,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.TradeCount); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Bucket = c.Bucket.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
