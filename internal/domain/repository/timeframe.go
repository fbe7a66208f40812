package repository

import (
	"fmt"
	"time"
)

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var tfDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// Materialized timeframes have their own candle table, kept current
// incrementally. Every other supported timeframe is derived at query time
// by the dynamic aggregator.
var materialized = []Timeframe{TF1m, TF1h}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := tfDurations[tf]
	return ok
}

// ParseTimeframe converts a raw string to a supported timeframe.
// Unsupported values are a client error, never silently rounded.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !IsValidTimeframe(tf) {
		return "", fmt.Errorf("unsupported timeframe: %q", s)
	}
	return tf, nil
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF1m }

// Duration returns the bucket width of tf.
func (tf Timeframe) Duration() time.Duration { return tfDurations[tf] }

// Truncate aligns t down to the tf grid in UTC.
func (tf Timeframe) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(tfDurations[tf])
}

// Materialized reports whether tf has a dedicated candle table.
func (tf Timeframe) Materialized() bool {
	for _, m := range materialized {
		if m == tf {
			return true
		}
	}
	return false
}

// MaterializedTimeframes returns the materialized set, finest first.
func MaterializedTimeframes() []Timeframe {
	out := make([]Timeframe, len(materialized))
	copy(out, materialized)
	return out
}

// Upstream returns the immediate aggregation source of a materialized
// timeframe: TF1m for coarser levels, and ok=false for TF1m itself,
// whose upstream is the raw tick store.
func (tf Timeframe) Upstream() (Timeframe, bool) {
	for i, m := range materialized {
		if m == tf && i > 0 {
			return materialized[i-1], true
		}
	}
	return "", false
}

// SourceFor picks the materialized timeframe the dynamic aggregator reads
// for a derived timeframe: the coarsest materialized level whose duration
// evenly divides tf (so each source bucket nests inside one target
// bucket), falling back to the finest materialized level when none
// divides evenly. Materialized timeframes are their own source.
func SourceFor(tf Timeframe) Timeframe {
	if tf.Materialized() {
		return tf
	}
	src := materialized[0]
	for _, m := range materialized {
		if tf.Duration()%m.Duration() == 0 {
			src = m
		}
	}
	return src
}
