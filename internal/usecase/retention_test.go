package usecase

import (
	"context"
	"testing"
	"time"

	"CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
	"CandleMill/internal/repository"
)

func TestRetentionDeletesOnlyPastHorizonTicks(t *testing.T) {
	ctx := context.Background()
	ticks := repository.NewMemoryTickStore()
	candles := repository.NewMemoryCandleStore()
	m := NewMaterializer(ticks, candles, testLogger(t))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Ticks one minute apart at t=0 and t=2, with "now" at t=3 and a
	// one-minute horizon: only the t=0 tick is old enough to delete.
	for _, at := range []time.Time{base, base.Add(2 * time.Minute)} {
		if _, err := ticks.Append(ctx, &models.Tick{
			Symbol: "BTCUSDT", Time: at, Price: 10, Size: 1,
			Kind: models.KindTrade, DedupKey: at.String(),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
		m.MarkDirty("BTCUSDT", "", at)
	}
	if err := m.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}

	r := NewRetentionManager(ticks, candles,
		RetentionHorizons{Ticks: time.Minute}, testLogger(t),
		WithRetentionClock(func() time.Time { return base.Add(3 * time.Minute) }))
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	left, _ := ticks.Query(ctx, "BTCUSDT", "", base, base.Add(time.Hour))
	if len(left) != 1 || !left[0].Time.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("expected only the t+2m tick to survive: %+v", left)
	}

	// The candle materialized from the deleted tick is untouched.
	rows, _ := candles.Query(ctx, domrepo.TF1m, "BTCUSDT", "", base, base.Add(time.Minute))
	if len(rows) != 1 || rows[0].Open != 10 {
		t.Fatalf("candle should outlive its ticks: %+v", rows)
	}
}

func TestRetentionCandleHorizons(t *testing.T) {
	ctx := context.Background()
	ticks := repository.NewMemoryTickStore()
	candles := repository.NewMemoryCandleStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var mins []models.Candle
	for i := 0; i < 4; i++ {
		mins = append(mins, models.Candle{
			Symbol: "BTCUSDT", Bucket: base.Add(time.Duration(i) * time.Hour),
			Open: 10, High: 10, Low: 10, Close: 10,
		})
	}
	if err := candles.Upsert(ctx, domrepo.TF1m, mins); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := NewRetentionManager(ticks, candles,
		RetentionHorizons{Candles1m: 2 * time.Hour}, testLogger(t),
		WithRetentionClock(func() time.Time { return base.Add(4 * time.Hour) }))
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	rows, _ := candles.Query(ctx, domrepo.TF1m, "BTCUSDT", "", base, base.Add(24*time.Hour))
	if len(rows) != 2 {
		t.Fatalf("expected 2 candles after sweep, got %d", len(rows))
	}
	if !rows[0].Bucket.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("wrong candles survived: %+v", rows)
	}
}

func TestRetentionRepeatIsConvergent(t *testing.T) {
	ctx := context.Background()
	ticks := repository.NewMemoryTickStore()
	candles := repository.NewMemoryCandleStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := ticks.Append(ctx, &models.Tick{
		Symbol: "BTCUSDT", Time: base, Price: 10, Size: 1,
		Kind: models.KindTrade, DedupKey: "a",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	r := NewRetentionManager(ticks, candles,
		RetentionHorizons{Ticks: time.Minute}, testLogger(t),
		WithRetentionClock(func() time.Time { return base.Add(10 * time.Minute) }))

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	// Re-running with nothing left to delete is a no-op.
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	left, _ := ticks.Query(ctx, "BTCUSDT", "", base, base.Add(time.Hour))
	if len(left) != 0 {
		t.Fatalf("expected no ticks, got %+v", left)
	}
}
