package usecase

import (
	"context"
	"encoding/json"
	"time"

	"CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
	"CandleMill/pkg/cache"
	applogger "CandleMill/pkg/logger"
)

// CandlesOption configures CandlesUseCase.
type CandlesOption func(*CandlesUseCase)

// WithQueryCache caches settled query ranges.
func WithQueryCache(c cache.Service, ttl time.Duration) CandlesOption {
	return func(u *CandlesUseCase) {
		u.cache = c
		if ttl > 0 {
			u.cacheTTL = ttl
		}
	}
}

// WithCandlesMetrics sets the metrics recorder.
func WithCandlesMetrics(m domrepo.Metrics) CandlesOption {
	return func(u *CandlesUseCase) {
		u.metrics = m
	}
}

// CandlesUseCase is the query boundary. Materialized timeframes read
// their own table; every other timeframe goes through the dynamic
// aggregator. Reads never wait on materialization: they return the state
// of the last completed pass.
type CandlesUseCase struct {
	candles  domrepo.CandleStore
	agg      *DynamicAggregator
	mat      *Materializer
	logger   *applogger.Logger
	metrics  domrepo.Metrics
	cache    cache.Service
	cacheTTL time.Duration
}

// NewCandlesUseCase creates the query boundary.
func NewCandlesUseCase(candles domrepo.CandleStore, agg *DynamicAggregator, mat *Materializer, logger *applogger.Logger, opts ...CandlesOption) *CandlesUseCase {
	u := &CandlesUseCase{
		candles:  candles,
		agg:      agg,
		mat:      mat,
		logger:   logger,
		cacheTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Query returns candles for [from, to) on the tf grid. ascending=false
// reverses the rows. A candle failing its OHLC invariants is never
// served: it is recomputed from upstream, and omitted if the recompute
// does not restore it.
func (u *CandlesUseCase) Query(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, from, to time.Time, limit int, ascending bool) ([]models.Candle, error) {
	start := time.Now()
	defer func() {
		if u.metrics != nil {
			u.metrics.RecordLatency("candles_query", time.Since(start).Seconds())
		}
	}()

	key := ""
	if u.cache != nil && u.settled(tf, to) {
		key = cache.GenerateKeyWithParams("candles", string(tf), symbol, orgID, from.Unix(), to.Unix())
		if hit, err := cache.GetTyped[[]models.Candle](ctx, u.cache, key); err == nil {
			return u.shape(*hit, limit, ascending), nil
		}
	}

	var (
		rows []models.Candle
		err  error
	)
	if tf.Materialized() {
		rows, err = u.candles.Query(ctx, tf, symbol, orgID, tf.Truncate(from), to)
	} else {
		rows, err = u.agg.Aggregate(ctx, symbol, orgID, tf, from, to)
	}
	if err != nil {
		return nil, err
	}
	rows = u.verify(ctx, tf, symbol, orgID, rows)

	if key != "" {
		if raw, err := json.Marshal(rows); err == nil {
			_ = u.cache.Set(ctx, key, string(raw), u.cacheTTL)
		}
	}
	return u.shape(rows, limit, ascending), nil
}

// Latest returns the most recent n candles, ascending.
func (u *CandlesUseCase) Latest(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, n int) ([]models.Candle, error) {
	if tf.Materialized() {
		rows, err := u.candles.Latest(ctx, tf, symbol, orgID, n)
		if err != nil {
			return nil, err
		}
		return u.verify(ctx, tf, symbol, orgID, rows), nil
	}

	// Derived timeframe: read enough source rows to fill n buckets and
	// fold, keeping the tail.
	src := domrepo.SourceFor(tf)
	span := time.Duration(n) * tf.Duration()
	now := time.Now().UTC()
	rows, err := u.agg.Aggregate(ctx, symbol, orgID, tf, now.Add(-span), now.Add(src.Duration()))
	if err != nil {
		return nil, err
	}
	rows = u.verify(ctx, tf, symbol, orgID, rows)
	if len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	return rows, nil
}

// verify drops candles that fail their OHLC invariants after giving each
// one chance to be recomputed from its immediate upstream. Derived
// timeframes recompute at the source level, since they have no table of
// their own.
func (u *CandlesUseCase) verify(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, rows []models.Candle) []models.Candle {
	out := rows[:0]
	for _, c := range rows {
		if c.CheckInvariants() == nil {
			out = append(out, c)
			continue
		}
		if u.metrics != nil {
			u.metrics.RecordConsistencyViolation(string(tf))
		}
		u.logger.Error("candle failed invariants, recomputing",
			applogger.String("timeframe", string(tf)),
			applogger.String("symbol", symbol),
			applogger.Time("bucket", c.Bucket))

		repaired, ok := u.recompute(ctx, tf, symbol, orgID, c.Bucket)
		if !ok {
			continue // omit rather than serve an inconsistent value
		}
		out = append(out, repaired)
	}
	return out
}

func (u *CandlesUseCase) recompute(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, bucket time.Time) (models.Candle, bool) {
	target := tf
	if !tf.Materialized() {
		target = domrepo.SourceFor(tf)
	}
	if err := u.mat.Recompute(ctx, target, symbol, orgID, bucket); err != nil {
		u.logger.Error("forced recompute failed", applogger.Error(err))
		return models.Candle{}, false
	}

	var (
		rows []models.Candle
		err  error
	)
	if tf.Materialized() {
		rows, err = u.candles.Query(ctx, tf, symbol, orgID, bucket, bucket.Add(tf.Duration()))
	} else {
		rows, err = u.agg.Aggregate(ctx, symbol, orgID, tf, bucket, bucket.Add(tf.Duration()))
	}
	if err != nil || len(rows) == 0 {
		return models.Candle{}, false
	}
	if rows[0].CheckInvariants() != nil {
		return models.Candle{}, false
	}
	return rows[0], true
}

// settled reports whether the range ends before the bucket now falls in,
// so its rows can only change through backfill repair.
func (u *CandlesUseCase) settled(tf domrepo.Timeframe, to time.Time) bool {
	return !to.After(tf.Truncate(time.Now().UTC()))
}

func (u *CandlesUseCase) shape(rows []models.Candle, limit int, ascending bool) []models.Candle {
	if !ascending {
		rev := make([]models.Candle, len(rows))
		for i, c := range rows {
			rev[len(rows)-1-i] = c
		}
		rows = rev
	}
	if limit > 0 && len(rows) > limit {
		if ascending {
			rows = rows[len(rows)-limit:]
		} else {
			rows = rows[:limit]
		}
	}
	return rows
}
