package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
)

type seriesKey struct {
	symbol string
	orgID  string
}

type tickSeries struct {
	rows []models.Tick // sorted by (event time, dedup key)
	seen map[string]struct{}
}

// MemoryTickStore keeps raw tick history in process memory. It is the
// backend used by tests and by single-node deployments that do not need
// durable history.
type MemoryTickStore struct {
	mu     sync.RWMutex
	series map[seriesKey]*tickSeries
}

// NewMemoryTickStore creates an empty in-memory tick store.
func NewMemoryTickStore() *MemoryTickStore {
	return &MemoryTickStore{series: make(map[seriesKey]*tickSeries)}
}

// Append stores the tick at its position in the canonical (event time,
// dedup key) order. A dedup key already seen for the series is a silent
// no-op reported as IngestDuplicate.
func (s *MemoryTickStore) Append(ctx context.Context, t *models.Tick) (models.IngestStatus, error) {
	if err := t.Validate(); err != nil {
		return models.IngestRejected, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey{symbol: t.Symbol, orgID: t.OrgID}
	series, ok := s.series[key]
	if !ok {
		series = &tickSeries{seen: make(map[string]struct{})}
		s.series[key] = series
	}
	if _, dup := series.seen[t.DedupKey]; dup {
		return models.IngestDuplicate, nil
	}

	row := *t
	row.Time = row.Time.UTC()
	i := sort.Search(len(series.rows), func(i int) bool {
		return !series.rows[i].Before(&row)
	})
	series.rows = append(series.rows, models.Tick{})
	copy(series.rows[i+1:], series.rows[i:])
	series.rows[i] = row
	series.seen[t.DedupKey] = struct{}{}
	return models.IngestAccepted, nil
}

// Query returns ticks with event time in [from, to), in canonical order.
func (s *MemoryTickStore) Query(ctx context.Context, symbol, orgID string, from, to time.Time) ([]models.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[seriesKey{symbol: symbol, orgID: orgID}]
	if !ok {
		return nil, nil
	}
	lo := sort.Search(len(series.rows), func(i int) bool {
		return !series.rows[i].Time.Before(from)
	})
	hi := sort.Search(len(series.rows), func(i int) bool {
		return !series.rows[i].Time.Before(to)
	})
	if lo >= hi {
		return nil, nil
	}
	out := make([]models.Tick, hi-lo)
	copy(out, series.rows[lo:hi])
	return out, nil
}

// DeleteBefore drops ticks with event time < cutoff along with their dedup
// entries. Candles built from those ticks are untouched.
func (s *MemoryTickStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, series := range s.series {
		n := sort.Search(len(series.rows), func(i int) bool {
			return !series.rows[i].Time.Before(cutoff)
		})
		if n == 0 {
			continue
		}
		for _, row := range series.rows[:n] {
			delete(series.seen, row.DedupKey)
		}
		series.rows = append(series.rows[:0:0], series.rows[n:]...)
		deleted += int64(n)
		if len(series.rows) == 0 {
			delete(s.series, key)
		}
	}
	return deleted, nil
}

// Health always succeeds for the in-memory backend.
func (s *MemoryTickStore) Health(ctx context.Context) error { return nil }

// Close releases all stored rows.
func (s *MemoryTickStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = make(map[seriesKey]*tickSeries)
	return nil
}

// MemoryCandleStore keeps materialized candles in process memory, one
// logical table per timeframe, each series sorted by bucket start.
type MemoryCandleStore struct {
	mu     sync.RWMutex
	tables map[domrepo.Timeframe]map[seriesKey][]models.Candle
}

// NewMemoryCandleStore creates an empty in-memory candle store.
func NewMemoryCandleStore() *MemoryCandleStore {
	return &MemoryCandleStore{tables: make(map[domrepo.Timeframe]map[seriesKey][]models.Candle)}
}

// Upsert replaces the candle rows for their buckets. The candle for a
// given (symbol, tenant, bucket) stays singular: revisions overwrite in
// place instead of adding rows.
func (s *MemoryCandleStore) Upsert(ctx context.Context, tf domrepo.Timeframe, candles []models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.tables[tf]
	if !ok {
		table = make(map[seriesKey][]models.Candle)
		s.tables[tf] = table
	}
	for _, c := range candles {
		c.Bucket = c.Bucket.UTC()
		key := seriesKey{symbol: c.Symbol, orgID: c.OrgID}
		rows := table[key]
		i := sort.Search(len(rows), func(i int) bool {
			return !rows[i].Bucket.Before(c.Bucket)
		})
		if i < len(rows) && rows[i].Bucket.Equal(c.Bucket) {
			rows[i] = c
		} else {
			rows = append(rows, models.Candle{})
			copy(rows[i+1:], rows[i:])
			rows[i] = c
		}
		table[key] = rows
	}
	return nil
}

// Query returns candles with bucket start in [from, to), ascending.
func (s *MemoryCandleStore) Query(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, from, to time.Time) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.tables[tf][seriesKey{symbol: symbol, orgID: orgID}]
	lo := sort.Search(len(rows), func(i int) bool {
		return !rows[i].Bucket.Before(from)
	})
	hi := sort.Search(len(rows), func(i int) bool {
		return !rows[i].Bucket.Before(to)
	})
	if lo >= hi {
		return nil, nil
	}
	out := make([]models.Candle, hi-lo)
	copy(out, rows[lo:hi])
	return out, nil
}

// Latest returns the most recent n candles, ascending.
func (s *MemoryCandleStore) Latest(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, n int) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.tables[tf][seriesKey{symbol: symbol, orgID: orgID}]
	if n <= 0 || len(rows) == 0 {
		return nil, nil
	}
	if n > len(rows) {
		n = len(rows)
	}
	out := make([]models.Candle, n)
	copy(out, rows[len(rows)-n:])
	return out, nil
}

// DeleteBucket removes one candle row.
func (s *MemoryCandleStore) DeleteBucket(ctx context.Context, tf domrepo.Timeframe, symbol, orgID string, bucket time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey{symbol: symbol, orgID: orgID}
	rows := s.tables[tf][key]
	bucket = bucket.UTC()
	i := sort.Search(len(rows), func(i int) bool {
		return !rows[i].Bucket.Before(bucket)
	})
	if i < len(rows) && rows[i].Bucket.Equal(bucket) {
		s.tables[tf][key] = append(rows[:i:i], rows[i+1:]...)
	}
	return nil
}

// DeleteBefore drops candles with bucket start < cutoff for one timeframe.
func (s *MemoryCandleStore) DeleteBefore(ctx context.Context, tf domrepo.Timeframe, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	table := s.tables[tf]
	for key, rows := range table {
		n := sort.Search(len(rows), func(i int) bool {
			return !rows[i].Bucket.Before(cutoff)
		})
		if n == 0 {
			continue
		}
		table[key] = append(rows[:0:0], rows[n:]...)
		deleted += int64(n)
		if len(table[key]) == 0 {
			delete(table, key)
		}
	}
	return deleted, nil
}
