package usecase

import (
	"context"
	"sync"
	"time"

	domrepo "CandleMill/internal/domain/repository"
	applogger "CandleMill/pkg/logger"
)

// RetentionHorizons sets how long each store keeps history. A zero
// horizon means keep forever.
type RetentionHorizons struct {
	Ticks     time.Duration
	Candles1m time.Duration
	Candles1h time.Duration
}

// Horizon returns the candle horizon for tf.
func (h RetentionHorizons) Horizon(tf domrepo.Timeframe) time.Duration {
	switch tf {
	case domrepo.TF1m:
		return h.Candles1m
	case domrepo.TF1h:
		return h.Candles1h
	default:
		return 0
	}
}

// RetentionOption configures RetentionManager.
type RetentionOption func(*RetentionManager)

// WithRetentionInterval sets how often the sweep runs.
func WithRetentionInterval(d time.Duration) RetentionOption {
	return func(r *RetentionManager) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithRetentionMetrics sets the metrics recorder.
func WithRetentionMetrics(m domrepo.Metrics) RetentionOption {
	return func(r *RetentionManager) {
		r.metrics = m
	}
}

// WithRetentionClock overrides the time source, for tests.
func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(r *RetentionManager) {
		r.now = now
	}
}

// RetentionManager deletes history past its configured horizon. Cutoffs
// are aligned down to the bucket grid so only fully-settled buckets are
// ever removed: a bucket still inside any horizon, or still open, cannot
// be touched, so no live query races a deletion of its own bucket.
// Partial application is safe; a sweep that dies mid-way just leaves
// rows for the next sweep.
//
// Ticks and candles age out independently. A candle whose source ticks
// have been deleted keeps serving until its own horizon passes.
type RetentionManager struct {
	ticks    domrepo.TickStore
	candles  domrepo.CandleStore
	horizons RetentionHorizons
	logger   *applogger.Logger
	metrics  domrepo.Metrics
	interval time.Duration
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewRetentionManager creates a retention sweeper.
func NewRetentionManager(ticks domrepo.TickStore, candles domrepo.CandleStore, horizons RetentionHorizons, logger *applogger.Logger, opts ...RetentionOption) *RetentionManager {
	r := &RetentionManager{
		ticks:    ticks,
		candles:  candles,
		horizons: horizons,
		logger:   logger,
		interval: time.Minute,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the sweep loop until Stop is called.
func (r *RetentionManager) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				if err := r.RunOnce(context.Background()); err != nil {
					r.logger.Error("retention sweep failed", applogger.Error(err))
				}
			}
		}
	}()
	r.logger.Info("retention manager started", applogger.Duration("interval_ms", r.interval))
}

// Stop halts the loop.
func (r *RetentionManager) Stop() {
	r.once.Do(func() {
		close(r.stop)
		<-r.done
	})
}

// RunOnce applies every configured horizon once.
func (r *RetentionManager) RunOnce(ctx context.Context) error {
	now := r.now().UTC()

	if r.horizons.Ticks > 0 {
		// Align to the minute grid so a bucket that still feeds the
		// minute materializer is never partially emptied.
		cutoff := domrepo.TF1m.Truncate(now.Add(-r.horizons.Ticks))
		deleted, err := r.ticks.DeleteBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		r.observe("ticks_raw", cutoff, deleted)
	}

	for _, tf := range domrepo.MaterializedTimeframes() {
		horizon := r.horizons.Horizon(tf)
		if horizon <= 0 {
			continue
		}
		cutoff := tf.Truncate(now.Add(-horizon))
		deleted, err := r.candles.DeleteBefore(ctx, tf, cutoff)
		if err != nil {
			return err
		}
		r.observe("candles_"+string(tf), cutoff, deleted)
	}
	return nil
}

func (r *RetentionManager) observe(table string, cutoff time.Time, deleted int64) {
	if r.metrics != nil {
		r.metrics.RecordRetentionDeleted(table, deleted)
	}
	if deleted > 0 {
		r.logger.Info("retention deleted rows",
			applogger.String("table", table),
			applogger.Time("cutoff", cutoff),
			applogger.Int64("rows", deleted))
	}
}
