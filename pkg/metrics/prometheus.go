package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal       *prometheus.CounterVec
	materializations *prometheus.CounterVec
	materializeSecs  *prometheus.HistogramVec
	materializeLag   *prometheus.GaugeVec
	violationsTotal  *prometheus.CounterVec
	retentionDeleted *prometheus.CounterVec
	lastPrice        *prometheus.GaugeVec
	latency          *prometheus.HistogramVec
	errorsTotal      *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlemill_ticks_total",
				Help: "Total ingested ticks by outcome",
			},
			[]string{"status"},
		),
		materializations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlemill_materialized_buckets_total",
				Help: "Total candle buckets recomputed",
			},
			[]string{"timeframe"},
		),
		materializeSecs: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "candlemill_materialize_pass_seconds",
				Help:    "Duration of a materializer pass",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"timeframe"},
		),
		materializeLag: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "candlemill_materialization_lag_seconds",
				Help: "Age of the oldest dirty bucket awaiting recompute",
			},
			[]string{"timeframe"},
		),
		violationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlemill_consistency_violations_total",
				Help: "Candles that failed OHLC invariant checks",
			},
			[]string{"timeframe"},
		),
		retentionDeleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlemill_retention_deleted_rows_total",
				Help: "Rows removed by retention",
			},
			[]string{"table"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "candlemill_last_price",
				Help: "Last observed price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "candlemill_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlemill_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordTick records a tick ingestion outcome (accepted, duplicate, rejected).
func (r *Recorder) RecordTick(status string) {
	r.ticksTotal.WithLabelValues(status).Inc()
}

// RecordMaterialization records a completed materializer pass.
func (r *Recorder) RecordMaterialization(tf string, buckets int, seconds float64) {
	r.materializations.WithLabelValues(tf).Add(float64(buckets))
	r.materializeSecs.WithLabelValues(tf).Observe(seconds)
}

// RecordMaterializationLag records how stale the dirty set is.
func (r *Recorder) RecordMaterializationLag(tf string, seconds float64) {
	r.materializeLag.WithLabelValues(tf).Set(seconds)
}

// RecordConsistencyViolation records a candle that failed invariant checks.
func (r *Recorder) RecordConsistencyViolation(tf string) {
	r.violationsTotal.WithLabelValues(tf).Inc()
}

// RecordRetentionDeleted records rows removed by a retention sweep.
func (r *Recorder) RecordRetentionDeleted(table string, rows int64) {
	r.retentionDeleted.WithLabelValues(table).Add(float64(rows))
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
