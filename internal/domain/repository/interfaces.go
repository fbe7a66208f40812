package repository

import (
	"context"
	"time"

	"CandleMill/internal/domain/models"
)

// TickStore owns raw tick history. Append is idempotent by dedup key;
// Query returns ticks in the canonical (event time, dedup key) order used
// by every downstream aggregation. Rows are append-only and removed only
// by retention.
type TickStore interface {
	// Append stores the tick unless its dedup key was already seen for
	// that (symbol, tenant). Re-submission is a silent no-op reported as
	// IngestDuplicate, not an error.
	Append(ctx context.Context, t *models.Tick) (models.IngestStatus, error)
	// Query returns ticks for [from, to) ordered by (event time, dedup key).
	Query(ctx context.Context, symbol, orgID string, from, to time.Time) ([]models.Tick, error)
	// DeleteBefore removes ticks with event time < cutoff. Partial
	// application is safe; deletion is monotonic and convergent.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Health(ctx context.Context) error
	Close() error
}

// CandleStore owns materialized candle history, one logical table per
// materialized timeframe. Each table is fully reconstructable from its
// immediate upstream source.
type CandleStore interface {
	// Upsert replaces the candle rows for their buckets (atomic
	// upsert-or-merge; read-modify-write by callers is not allowed).
	Upsert(ctx context.Context, tf Timeframe, candles []models.Candle) error
	// Query returns candles with bucket start in [from, to), ascending.
	Query(ctx context.Context, tf Timeframe, symbol, orgID string, from, to time.Time) ([]models.Candle, error)
	// Latest returns the most recent n candles, ascending.
	Latest(ctx context.Context, tf Timeframe, symbol, orgID string, n int) ([]models.Candle, error)
	// DeleteBucket removes one candle row, used when a bucket fails its
	// OHLC invariants and must not be served.
	DeleteBucket(ctx context.Context, tf Timeframe, symbol, orgID string, bucket time.Time) error
	DeleteBefore(ctx context.Context, tf Timeframe, cutoff time.Time) (int64, error)
}

// Publisher fans accepted ticks out to a broker for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, t *models.Tick) error
	PublishBatch(ctx context.Context, ticks []*models.Tick) error
	Close() error
}

// MarketStream is a live tick source (e.g. an exchange WebSocket feed).
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Metrics records engine observability signals.
type Metrics interface {
	RecordTick(status string) // accepted | duplicate | rejected
	RecordMaterialization(tf string, buckets int, seconds float64)
	RecordMaterializationLag(tf string, seconds float64)
	RecordConsistencyViolation(tf string)
	RecordRetentionDeleted(table string, rows int64)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordError(kind string)
}
