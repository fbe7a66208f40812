package usecase

import (
	"testing"
	"time"

	"CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
)

func TestFoldTicksScenario(t *testing.T) {
	bucket := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ticks := []models.Tick{
		{Symbol: "BTCUSDT", Time: bucket, Price: 10, Size: 1, Kind: models.KindTrade, DedupKey: "a"},
		{Symbol: "BTCUSDT", Time: bucket.Add(30 * time.Second), Price: 12, Size: 2, Kind: models.KindTrade, DedupKey: "b"},
		{Symbol: "BTCUSDT", Time: bucket.Add(45 * time.Second), Price: 9, Size: 1, Kind: models.KindTrade, DedupKey: "c"},
	}
	c, ok := FoldTicks("BTCUSDT", "", bucket, ticks)
	if !ok {
		t.Fatal("fold returned no candle")
	}
	if c.Open != 10 || c.High != 12 || c.Low != 9 || c.Close != 9 {
		t.Fatalf("unexpected OHLC: %+v", c)
	}
	if c.Volume != 4 || c.TradeCount != 3 {
		t.Fatalf("unexpected volume/count: %+v", c)
	}
	if err := c.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestFoldTicksSyntheticKinds(t *testing.T) {
	bucket := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// Seeding ticks shape OHLC but never count as trades.
	ticks := []models.Tick{
		{Symbol: "BTCUSDT", Time: bucket, Price: 10, Size: 0, Kind: models.KindOpen, DedupKey: models.SeedDedupKey("BTCUSDT", bucket, models.KindOpen)},
		{Symbol: "BTCUSDT", Time: bucket, Price: 14, Size: 0, Kind: models.KindHigh, DedupKey: models.SeedDedupKey("BTCUSDT", bucket, models.KindHigh)},
		{Symbol: "BTCUSDT", Time: bucket, Price: 8, Size: 0, Kind: models.KindLow, DedupKey: models.SeedDedupKey("BTCUSDT", bucket, models.KindLow)},
		{Symbol: "BTCUSDT", Time: bucket.Add(30 * time.Second), Price: 11, Size: 3, Kind: models.KindTrade, DedupKey: "t1"},
	}
	c, ok := FoldTicks("BTCUSDT", "", bucket, ticks)
	if !ok {
		t.Fatal("fold returned no candle")
	}
	if c.High != 14 || c.Low != 8 {
		t.Fatalf("synthetic ticks should shape high/low: %+v", c)
	}
	if c.TradeCount != 1 {
		t.Fatalf("synthetic ticks counted as trades: %+v", c)
	}
	if c.Volume != 3 {
		t.Fatalf("zero-size seeds changed volume: %+v", c)
	}
}

func TestFoldTicksEmpty(t *testing.T) {
	if _, ok := FoldTicks("BTCUSDT", "", time.Now(), nil); ok {
		t.Fatal("empty fold should report ok=false")
	}
}

func TestAggregateCandlesGrouping(t *testing.T) {
	hour := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var mins []models.Candle
	for i := 0; i < 10; i++ {
		mins = append(mins, models.Candle{
			Symbol: "BTCUSDT", Bucket: hour.Add(time.Duration(i) * time.Minute),
			Open: float64(10 + i), High: float64(11 + i), Low: float64(9 + i), Close: float64(10 + i),
			Volume: 1, TradeCount: 1,
		})
	}
	out := AggregateCandles(domrepo.TF5m, mins)
	if len(out) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(out))
	}
	if !out[0].Bucket.Equal(hour) || !out[1].Bucket.Equal(hour.Add(5*time.Minute)) {
		t.Fatalf("wrong bucket starts: %+v", out)
	}
	first := out[0]
	if first.Open != 10 || first.Close != 14 || first.High != 15 || first.Low != 9 || first.Volume != 5 || first.TradeCount != 5 {
		t.Fatalf("unexpected first bucket: %+v", first)
	}
}
