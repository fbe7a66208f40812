package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"CandleMill/internal/domain/models"
	"CandleMill/internal/repository"
)

func newTestIngestor(t *testing.T) (*TickIngestor, *Materializer, *repository.MemoryCandleStore) {
	t.Helper()
	ticks := repository.NewMemoryTickStore()
	candles := repository.NewMemoryCandleStore()
	m := NewMaterializer(ticks, candles, testLogger(t))
	return NewTickIngestor(ticks, m, testLogger(t)), m, candles
}

func TestIngestStatuses(t *testing.T) {
	ctx := context.Background()
	ing, _, _ := newTestIngestor(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tk := &models.Tick{Symbol: "BTCUSDT", Time: at, Price: 10, Size: 1, Kind: models.KindTrade, DedupKey: "a"}
	st, err := ing.Ingest(ctx, tk)
	if err != nil || st != models.IngestAccepted {
		t.Fatalf("first ingest: status=%v err=%v", st, err)
	}

	st, err = ing.Ingest(ctx, tk)
	if err != nil {
		t.Fatalf("duplicate surfaced as error: %v", err)
	}
	if st != models.IngestDuplicate {
		t.Fatalf("expected duplicate, got %s", st)
	}

	bad := &models.Tick{Symbol: "BTCUSDT", Time: at, Price: -5, Size: 1, Kind: models.KindTrade, DedupKey: "b"}
	st, err = ing.Ingest(ctx, bad)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if st != models.IngestRejected {
		t.Fatalf("expected rejected, got %s", st)
	}
}

func TestIngestBatchPerTickOutcomes(t *testing.T) {
	ctx := context.Background()
	ing, m, candles := newTestIngestor(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	batch := []*models.Tick{
		{Symbol: "BTCUSDT", Time: at, Price: 10, Size: 1, Kind: models.KindTrade, DedupKey: "a"},
		{Symbol: "BTCUSDT", Time: at, Price: 10, Size: 1, Kind: models.KindTrade, DedupKey: "a"},
		{Symbol: "BTCUSDT", Time: at, Price: -1, Size: 1, Kind: models.KindTrade, DedupKey: "c"},
		{Symbol: "BTCUSDT", Time: at.Add(10 * time.Second), Price: 11, Size: 2, Kind: models.KindTrade, DedupKey: "d"},
	}
	results := ing.IngestBatch(ctx, batch)
	want := []models.IngestStatus{models.IngestAccepted, models.IngestDuplicate, models.IngestRejected, models.IngestAccepted}
	for i, w := range want {
		if results[i].Status != w {
			t.Fatalf("tick %d: expected %s, got %s (%s)", i, w, results[i].Status, results[i].Error)
		}
	}
	if results[2].Error == "" {
		t.Fatal("rejected tick carries no error message")
	}

	// The rejected tick must not surface anywhere downstream.
	if err := m.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	rows, _ := candles.Query(ctx, "1m", "BTCUSDT", "", at, at.Add(time.Minute))
	if len(rows) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(rows))
	}
	if rows[0].Low < 0 || rows[0].Volume != 3 || rows[0].TradeCount != 2 {
		t.Fatalf("rejected or duplicate tick leaked into candle: %+v", rows[0])
	}
}
