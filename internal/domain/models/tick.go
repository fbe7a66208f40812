package models

import (
	"fmt"
	"math"
	"time"
)

// TickKind distinguishes real trades from synthetic seeding ticks.
// Synthetic kinds exist to seed deterministic candle shapes from
// already-known OHLC values; they contribute to OHLC but not to
// trade_count.
type TickKind string

const (
	KindTrade TickKind = "trade"
	KindOpen  TickKind = "open"
	KindHigh  TickKind = "high"
	KindLow   TickKind = "low"
	KindClose TickKind = "close"
)

// Valid reports whether k is a known tick kind.
func (k TickKind) Valid() bool {
	switch k {
	case KindTrade, KindOpen, KindHigh, KindLow, KindClose:
		return true
	default:
		return false
	}
}

// Synthetic reports whether k is a seeding kind rather than a real trade.
func (k TickKind) Synthetic() bool {
	return k.Valid() && k != KindTrade
}

// Tick is a single timestamped trade/price observation. Ticks are created
// once at the ingestion boundary and never mutated; retention is the only
// thing that removes them.
type Tick struct {
	Symbol   string
	OrgID    string
	Time     time.Time // economic event time, not ingestion time
	Price    float64
	Size     float64
	Kind     TickKind
	DedupKey string
}

// Before reports the canonical (event time, dedup key) ordering used by
// every downstream aggregation. The dedup key breaks ties among ticks
// sharing an event time, making open/close deterministic across
// re-materialization.
func (t *Tick) Before(o *Tick) bool {
	if !t.Time.Equal(o.Time) {
		return t.Time.Before(o.Time)
	}
	return t.DedupKey < o.DedupKey
}

// Validate checks the tick for ingestion. A failing tick is rejected
// synchronously and never partially stored.
func (t *Tick) Validate() error {
	if t == nil {
		return &ValidationError{Field: "tick", Reason: "nil"}
	}
	if t.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "required"}
	}
	if t.Time.IsZero() {
		return &ValidationError{Field: "time", Reason: "required"}
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return &ValidationError{Field: "price", Reason: "must be a positive finite number"}
	}
	if math.IsNaN(t.Size) || math.IsInf(t.Size, 0) || t.Size < 0 {
		return &ValidationError{Field: "size", Reason: "must be a non-negative finite number"}
	}
	if !t.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", t.Kind)}
	}
	if t.DedupKey == "" {
		return &ValidationError{Field: "dedup_key", Reason: "required"}
	}
	return nil
}

// SeedDedupKey builds the deterministic dedup key used for synthetic
// seeding ticks, so re-seeding the same bucket is idempotent.
func SeedDedupKey(symbol string, bucket time.Time, kind TickKind) string {
	return fmt.Sprintf("seed:%s:%d:%s", symbol, bucket.Unix(), kind)
}

// ValidationError reports a malformed tick field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid tick: %s %s", e.Field, e.Reason)
}

// IngestStatus is the per-tick outcome of an ingestion call.
type IngestStatus string

const (
	IngestAccepted  IngestStatus = "accepted"
	IngestDuplicate IngestStatus = "duplicate" // re-delivery of a known dedup key; not an error
	IngestRejected  IngestStatus = "rejected"
)

// IngestResult carries the outcome for one tick of a batch submission.
type IngestResult struct {
	Index  int          `json:"index"`
	Status IngestStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}
