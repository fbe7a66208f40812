package repository

import (
	"context"
	"testing"
	"time"

	"CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
)

func tick(sym string, at time.Time, price, size float64, key string) *models.Tick {
	return &models.Tick{
		Symbol:   sym,
		Time:     at,
		Price:    price,
		Size:     size,
		Kind:     models.KindTrade,
		DedupKey: key,
	}
}

func TestMemoryTickStoreAppendAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTickStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Insert out of order; two ticks share a timestamp so the dedup key
	// has to break the tie.
	in := []*models.Tick{
		tick("BTCUSDT", base.Add(30*time.Second), 12, 2, "b"),
		tick("BTCUSDT", base, 10, 1, "a"),
		tick("BTCUSDT", base.Add(30*time.Second), 11, 1, "aa"),
	}
	for _, tk := range in {
		st, err := s.Append(ctx, tk)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if st != models.IngestAccepted {
			t.Fatalf("expected accepted, got %s", st)
		}
	}

	rows, err := s.Query(ctx, "BTCUSDT", "", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	wantKeys := []string{"a", "aa", "b"}
	for i, k := range wantKeys {
		if rows[i].DedupKey != k {
			t.Fatalf("row %d: expected key %s, got %s", i, k, rows[i].DedupKey)
		}
	}
}

func TestMemoryTickStoreDuplicateIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTickStore()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if st, err := s.Append(ctx, tick("ETHUSDT", at, 100, 1, "x")); err != nil || st != models.IngestAccepted {
		t.Fatalf("first append: status=%v err=%v", st, err)
	}
	st, err := s.Append(ctx, tick("ETHUSDT", at, 999, 50, "x"))
	if err != nil {
		t.Fatalf("duplicate append returned error: %v", err)
	}
	if st != models.IngestDuplicate {
		t.Fatalf("expected duplicate, got %s", st)
	}

	rows, _ := s.Query(ctx, "ETHUSDT", "", at, at.Add(time.Second))
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after duplicate, got %d", len(rows))
	}
	if rows[0].Price != 100 || rows[0].Size != 1 {
		t.Fatalf("duplicate overwrote row: %+v", rows[0])
	}
}

func TestMemoryTickStoreRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTickStore()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	st, err := s.Append(ctx, tick("BTCUSDT", at, -5, 1, "neg"))
	if err == nil {
		t.Fatal("expected validation error for negative price")
	}
	if st != models.IngestRejected {
		t.Fatalf("expected rejected, got %s", st)
	}

	rows, _ := s.Query(ctx, "BTCUSDT", "", at, at.Add(time.Second))
	if len(rows) != 0 {
		t.Fatalf("rejected tick was stored: %+v", rows)
	}
}

func TestMemoryTickStoreQueryBounds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTickStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		if _, err := s.Append(ctx, tick("BTCUSDT", at, 10, 1, at.String())); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// End bound is exclusive.
	rows, err := s.Query(ctx, "BTCUSDT", "", base, base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows in [t0, t0+3m), got %d", len(rows))
	}
}

func TestMemoryTickStoreDeleteBefore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTickStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.Append(ctx, tick("BTCUSDT", base, 10, 1, "old")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(ctx, tick("BTCUSDT", base.Add(2*time.Hour), 11, 1, "new")); err != nil {
		t.Fatalf("append: %v", err)
	}

	deleted, err := s.DeleteBefore(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	rows, _ := s.Query(ctx, "BTCUSDT", "", base, base.Add(3*time.Hour))
	if len(rows) != 1 || rows[0].DedupKey != "new" {
		t.Fatalf("unexpected rows after retention: %+v", rows)
	}

	// The dedup entry for the deleted key is gone, so the key can be
	// reused for a fresh row.
	st, err := s.Append(ctx, tick("BTCUSDT", base.Add(3*time.Hour), 12, 1, "old"))
	if err != nil || st != models.IngestAccepted {
		t.Fatalf("re-append after retention: status=%v err=%v", st, err)
	}
}

func TestMemoryCandleStoreUpsertIsSingular(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCandleStore()
	bucket := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := models.Candle{Symbol: "BTCUSDT", Bucket: bucket, Open: 10, High: 12, Low: 9, Close: 11, Volume: 4, TradeCount: 3}
	if err := s.Upsert(ctx, domrepo.TF1m, []models.Candle{first}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	revised := first
	revised.High = 13
	revised.Volume = 6
	if err := s.Upsert(ctx, domrepo.TF1m, []models.Candle{revised}); err != nil {
		t.Fatalf("upsert revision: %v", err)
	}

	rows, err := s.Query(ctx, domrepo.TF1m, "BTCUSDT", "", bucket, bucket.Add(time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("revision created a second row: %d rows", len(rows))
	}
	if rows[0].High != 13 || rows[0].Volume != 6 {
		t.Fatalf("revision not applied: %+v", rows[0])
	}
}

func TestMemoryCandleStoreLatest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCandleStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var candles []models.Candle
	for i := 0; i < 5; i++ {
		candles = append(candles, models.Candle{
			Symbol: "BTCUSDT",
			Bucket: base.Add(time.Duration(i) * time.Minute),
			Open:   float64(10 + i), High: float64(10 + i), Low: float64(10 + i), Close: float64(10 + i),
		})
	}
	if err := s.Upsert(ctx, domrepo.TF1m, candles); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rows, err := s.Latest(ctx, domrepo.TF1m, "BTCUSDT", "", 2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if !rows[0].Bucket.Before(rows[1].Bucket) {
		t.Fatal("latest rows not ascending")
	}
	if !rows[1].Bucket.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("latest missing most recent bucket: %+v", rows[1])
	}
}

func TestMemoryCandleStoreDeleteBucketAndBefore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCandleStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var candles []models.Candle
	for i := 0; i < 3; i++ {
		candles = append(candles, models.Candle{
			Symbol: "BTCUSDT",
			Bucket: base.Add(time.Duration(i) * time.Minute),
			Open:   10, High: 10, Low: 10, Close: 10,
		})
	}
	if err := s.Upsert(ctx, domrepo.TF1m, candles); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.DeleteBucket(ctx, domrepo.TF1m, "BTCUSDT", "", base.Add(time.Minute)); err != nil {
		t.Fatalf("delete bucket: %v", err)
	}
	rows, _ := s.Query(ctx, domrepo.TF1m, "BTCUSDT", "", base, base.Add(time.Hour))
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after bucket delete, got %d", len(rows))
	}

	deleted, err := s.DeleteBefore(ctx, domrepo.TF1m, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	rows, _ = s.Query(ctx, domrepo.TF1m, "BTCUSDT", "", base, base.Add(time.Hour))
	if len(rows) != 1 || !rows[0].Bucket.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("unexpected rows after retention: %+v", rows)
	}
}
