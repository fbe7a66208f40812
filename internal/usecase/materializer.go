package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
	applogger "CandleMill/pkg/logger"
)

// dirtyBucket identifies one minute bucket whose candle no longer matches
// the ticks in the store.
type dirtyBucket struct {
	Symbol string
	OrgID  string
	Bucket int64 // unix seconds, minute-aligned
}

// MaterializerOption configures Materializer.
type MaterializerOption func(*Materializer)

// WithInterval sets the pass interval.
func WithInterval(d time.Duration) MaterializerOption {
	return func(m *Materializer) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics domrepo.Metrics) MaterializerOption {
	return func(m *Materializer) {
		m.metrics = metrics
	}
}

// Materializer keeps the minute candle table equal to the aggregate of
// the ticks currently in the tick store, and propagates minute revisions
// up the materialized chain. Ingestion marks buckets dirty and never
// blocks on a pass; passes run on a timer or when nudged, so consistency
// between levels is eventual, bounded by the pass interval.
//
// A pass recomputes each dirty bucket from its immediate upstream: minute
// candles from ticks, hour candles from minute candles. Re-running over
// an unchanged tick set reproduces byte-identical rows.
type Materializer struct {
	ticks   domrepo.TickStore
	candles domrepo.CandleStore
	logger  *applogger.Logger
	metrics domrepo.Metrics

	interval time.Duration

	mu    sync.Mutex
	dirty map[dirtyBucket]time.Time // value: when the bucket was marked

	seriesMu sync.Mutex
	series   map[seriesLock]*sync.Mutex

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

type seriesLock struct {
	symbol string
	orgID  string
	tf     domrepo.Timeframe
}

// NewMaterializer creates a materializer over the given stores.
func NewMaterializer(ticks domrepo.TickStore, candles domrepo.CandleStore, logger *applogger.Logger, opts ...MaterializerOption) *Materializer {
	m := &Materializer{
		ticks:    ticks,
		candles:  candles,
		logger:   logger,
		interval: time.Second,
		dirty:    make(map[dirtyBucket]time.Time),
		series:   make(map[seriesLock]*sync.Mutex),
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MarkDirty records that a tick landed in the minute bucket containing
// at. Never blocks: the mark is a map write plus a non-blocking nudge of
// the pass loop.
func (m *Materializer) MarkDirty(symbol, orgID string, at time.Time) {
	b := dirtyBucket{
		Symbol: symbol,
		OrgID:  orgID,
		Bucket: domrepo.TF1m.Truncate(at).Unix(),
	}

	m.mu.Lock()
	if _, ok := m.dirty[b]; !ok {
		m.dirty[b] = time.Now()
	}
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Start runs the pass loop until Stop is called.
func (m *Materializer) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
			case <-m.notify:
			}
			if err := m.RunPass(context.Background()); err != nil {
				m.logger.Error("materialization pass failed", applogger.Error(err))
			}
		}
	}()
	m.logger.Info("materializer started", applogger.Duration("interval_ms", m.interval))
}

// Stop halts the loop and runs one final pass so nothing marked before
// shutdown is lost.
func (m *Materializer) Stop(ctx context.Context) error {
	var err error
	m.once.Do(func() {
		close(m.stop)
		<-m.done
		err = m.RunPass(ctx)
	})
	return err
}

// RunPass drains the dirty set and recomputes every affected bucket,
// minute level first, then the coarser materialized levels containing the
// revised minutes. Buckets for different series run concurrently; work on
// one (symbol, tenant, timeframe) is serialized so concurrent passes
// cannot interleave writes to the same series.
func (m *Materializer) RunPass(ctx context.Context) error {
	m.mu.Lock()
	if len(m.dirty) == 0 {
		m.mu.Unlock()
		return nil
	}
	batch := m.dirty
	m.dirty = make(map[dirtyBucket]time.Time)
	m.mu.Unlock()

	start := time.Now()

	// Group dirty minutes per series so each series is one unit of work.
	type series struct{ symbol, orgID string }
	perSeries := make(map[series][]dirtyBucket)
	var oldestMark time.Time
	for b, marked := range batch {
		k := series{symbol: b.Symbol, orgID: b.OrgID}
		perSeries[k] = append(perSeries[k], b)
		if oldestMark.IsZero() || marked.Before(oldestMark) {
			oldestMark = marked
		}
	}
	if m.metrics != nil && !oldestMark.IsZero() {
		m.metrics.RecordMaterializationLag(string(domrepo.TF1m), time.Since(oldestMark).Seconds())
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for k, buckets := range perSeries {
		wg.Add(1)
		go func(k series, buckets []dirtyBucket) {
			defer wg.Done()
			if err := m.materializeSeries(ctx, k.symbol, k.orgID, buckets); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				// Failed buckets go back on the dirty set so the next
				// pass retries them.
				m.mu.Lock()
				for _, b := range buckets {
					if _, ok := m.dirty[b]; !ok {
						m.dirty[b] = time.Now()
					}
				}
				m.mu.Unlock()
			}
		}(k, buckets)
	}
	wg.Wait()

	if m.metrics != nil {
		m.metrics.RecordMaterialization(string(domrepo.TF1m), len(batch), time.Since(start).Seconds())
	}
	return firstErr
}

func (m *Materializer) lockSeries(symbol, orgID string, tf domrepo.Timeframe) *sync.Mutex {
	k := seriesLock{symbol: symbol, orgID: orgID, tf: tf}
	m.seriesMu.Lock()
	defer m.seriesMu.Unlock()
	mu, ok := m.series[k]
	if !ok {
		mu = &sync.Mutex{}
		m.series[k] = mu
	}
	return mu
}

func (m *Materializer) materializeSeries(ctx context.Context, symbol, orgID string, buckets []dirtyBucket) error {
	mu := m.lockSeries(symbol, orgID, domrepo.TF1m)
	mu.Lock()
	hours := make(map[int64]struct{})
	for _, b := range buckets {
		bucket := time.Unix(b.Bucket, 0).UTC()
		if err := m.rematerializeMinute(ctx, symbol, orgID, bucket); err != nil {
			mu.Unlock()
			return err
		}
		hours[domrepo.TF1h.Truncate(bucket).Unix()] = struct{}{}
	}
	mu.Unlock()

	// Propagate the minute revisions into every coarser materialized
	// level containing them.
	hmu := m.lockSeries(symbol, orgID, domrepo.TF1h)
	hmu.Lock()
	defer hmu.Unlock()
	for h := range hours {
		if err := m.rollupBucket(ctx, domrepo.TF1h, symbol, orgID, time.Unix(h, 0).UTC()); err != nil {
			return err
		}
	}
	return nil
}

// rematerializeMinute recomputes one minute candle from the ticks
// currently in the store. A bucket whose ticks have all been deleted by
// retention keeps its existing candle: candle history outlives the raw
// ticks that produced it.
func (m *Materializer) rematerializeMinute(ctx context.Context, symbol, orgID string, bucket time.Time) error {
	ticks, err := m.ticks.Query(ctx, symbol, orgID, bucket, bucket.Add(time.Minute))
	if err != nil {
		return fmt.Errorf("query ticks for %s/%s@%s: %w", symbol, orgID, bucket.Format(time.RFC3339), err)
	}

	c, ok := FoldTicks(symbol, orgID, bucket, ticks)
	if !ok {
		return nil
	}
	if err := c.CheckInvariants(); err != nil {
		if m.metrics != nil {
			m.metrics.RecordConsistencyViolation(string(domrepo.TF1m))
		}
		return fmt.Errorf("minute candle failed invariants: %w", err)
	}
	return m.candles.Upsert(ctx, domrepo.TF1m, []models.Candle{c})
}

// rollupBucket recomputes one coarse candle from the level below it.
func (m *Materializer) rollupBucket(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, bucket time.Time) error {
	src, ok := tf.Upstream()
	if !ok {
		return fmt.Errorf("timeframe %s has no candle upstream", tf)
	}
	rows, err := m.candles.Query(ctx, src, symbol, orgID, bucket, bucket.Add(tf.Duration()))
	if err != nil {
		return fmt.Errorf("query %s rows for rollup: %w", src, err)
	}

	c, ok := FoldCandles(symbol, orgID, bucket, rows)
	if !ok {
		return nil
	}
	if err := c.CheckInvariants(); err != nil {
		if m.metrics != nil {
			m.metrics.RecordConsistencyViolation(string(tf))
		}
		return fmt.Errorf("%s candle failed invariants: %w", tf, err)
	}
	return m.candles.Upsert(ctx, tf, []models.Candle{c})
}

// Recompute forces a rebuild of one bucket from its immediate upstream.
// Used when a served candle fails its invariants and must not be returned
// as-is.
func (m *Materializer) Recompute(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, bucket time.Time) error {
	mu := m.lockSeries(symbol, orgID, tf)
	mu.Lock()
	defer mu.Unlock()

	bucket = tf.Truncate(bucket)
	if tf == domrepo.TF1m {
		return m.rematerializeMinute(ctx, symbol, orgID, bucket)
	}
	return m.rollupBucket(ctx, tf, symbol, orgID, bucket)
}

// Backfill re-derives a timeframe's candles from its immediate upstream
// over [from, to), bucket by bucket. Used for repair after an upstream
// correction.
func (m *Materializer) Backfill(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, from, to time.Time) (int, error) {
	if !tf.Materialized() {
		return 0, fmt.Errorf("timeframe %s is derived, nothing to backfill", tf)
	}

	mu := m.lockSeries(symbol, orgID, tf)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	var rebuilt int
	for bucket := tf.Truncate(from); bucket.Before(to); bucket = bucket.Add(tf.Duration()) {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}
		var err error
		if tf == domrepo.TF1m {
			err = m.rematerializeMinute(ctx, symbol, orgID, bucket)
		} else {
			err = m.rollupBucket(ctx, tf, symbol, orgID, bucket)
		}
		if err != nil {
			return rebuilt, err
		}
		rebuilt++
	}

	if m.metrics != nil {
		m.metrics.RecordMaterialization(string(tf), rebuilt, time.Since(start).Seconds())
	}
	m.logger.Info("backfill complete",
		applogger.String("timeframe", string(tf)),
		applogger.String("symbol", symbol),
		applogger.Int("buckets", rebuilt))
	return rebuilt, nil
}
