package usecase

import (
	"context"
	"reflect"
	"testing"
	"time"

	"CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
	"CandleMill/internal/repository"
	applogger "CandleMill/pkg/logger"
)

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func newTestMaterializer(t *testing.T) (*Materializer, *repository.MemoryTickStore, *repository.MemoryCandleStore) {
	t.Helper()
	ticks := repository.NewMemoryTickStore()
	candles := repository.NewMemoryCandleStore()
	return NewMaterializer(ticks, candles, testLogger(t)), ticks, candles
}

func appendTick(t *testing.T, s domrepo.TickStore, m *Materializer, tk *models.Tick) {
	t.Helper()
	st, err := s.Append(context.Background(), tk)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if st == models.IngestAccepted {
		m.MarkDirty(tk.Symbol, tk.OrgID, tk.Time)
	}
}

func TestMinuteMaterialization(t *testing.T) {
	ctx := context.Background()
	m, ticks, candles := newTestMaterializer(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	in := []*models.Tick{
		{Symbol: "BTCUSDT", Time: base, Price: 10, Size: 1, Kind: models.KindTrade, DedupKey: "a"},
		{Symbol: "BTCUSDT", Time: base.Add(30 * time.Second), Price: 12, Size: 2, Kind: models.KindTrade, DedupKey: "b"},
		{Symbol: "BTCUSDT", Time: base.Add(45 * time.Second), Price: 9, Size: 1, Kind: models.KindTrade, DedupKey: "c"},
	}
	for _, tk := range in {
		appendTick(t, ticks, m, tk)
	}
	if err := m.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}

	rows, err := candles.Query(ctx, domrepo.TF1m, "BTCUSDT", "", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(rows))
	}
	c := rows[0]
	if c.Open != 10 || c.High != 12 || c.Low != 9 || c.Close != 9 {
		t.Fatalf("unexpected OHLC: %+v", c)
	}
	if c.Volume != 4 || c.TradeCount != 3 {
		t.Fatalf("unexpected volume/count: %+v", c)
	}
}

func TestMaterializationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, ticks, candles := newTestMaterializer(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, p := range []float64{10, 12, 9, 11} {
		appendTick(t, ticks, m, &models.Tick{
			Symbol: "BTCUSDT", Time: base.Add(time.Duration(i) * 10 * time.Second),
			Price: p, Size: 1, Kind: models.KindTrade, DedupKey: string(rune('a' + i)),
		})
	}
	if err := m.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	first, _ := candles.Query(ctx, domrepo.TF1m, "BTCUSDT", "", base, base.Add(time.Minute))

	// Re-materializing an unchanged tick set reproduces identical rows.
	m.MarkDirty("BTCUSDT", "", base)
	if err := m.RunPass(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	second, _ := candles.Query(ctx, domrepo.TF1m, "BTCUSDT", "", base, base.Add(time.Minute))
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("re-materialization changed rows:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestMaterializationOrderIndependence(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// Two ticks share a timestamp: the dedup key must decide open/close.
	src := []models.Tick{
		{Symbol: "BTCUSDT", Time: base, Price: 10, Size: 1, Kind: models.KindTrade, DedupKey: "b"},
		{Symbol: "BTCUSDT", Time: base, Price: 11, Size: 1, Kind: models.KindTrade, DedupKey: "a"},
		{Symbol: "BTCUSDT", Time: base.Add(20 * time.Second), Price: 9, Size: 1, Kind: models.KindTrade, DedupKey: "c"},
		{Symbol: "BTCUSDT", Time: base.Add(20 * time.Second), Price: 13, Size: 1, Kind: models.KindTrade, DedupKey: "d"},
	}
	perms := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 3, 0, 2}, {2, 0, 3, 1}}

	var want models.Candle
	for pi, perm := range perms {
		m, ticks, candles := newTestMaterializer(t)
		for _, i := range perm {
			tk := src[i]
			appendTick(t, ticks, m, &tk)
		}
		if err := m.RunPass(ctx); err != nil {
			t.Fatalf("perm %d: pass: %v", pi, err)
		}
		rows, _ := candles.Query(ctx, domrepo.TF1m, "BTCUSDT", "", base, base.Add(time.Minute))
		if len(rows) != 1 {
			t.Fatalf("perm %d: expected 1 candle, got %d", pi, len(rows))
		}
		if pi == 0 {
			want = rows[0]
			if want.Open != 11 || want.Close != 13 {
				t.Fatalf("tie-break wrong: open=%v close=%v", want.Open, want.Close)
			}
			continue
		}
		if rows[0] != want {
			t.Fatalf("perm %d produced different candle:\nwant %+v\ngot  %+v", pi, want, rows[0])
		}
	}
}

func TestDuplicateTickChangesNothing(t *testing.T) {
	ctx := context.Background()
	m, ticks, candles := newTestMaterializer(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tk := &models.Tick{Symbol: "BTCUSDT", Time: base, Price: 10, Size: 2, Kind: models.KindTrade, DedupKey: "x"}
	appendTick(t, ticks, m, tk)
	if err := m.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	before, _ := candles.Query(ctx, domrepo.TF1m, "BTCUSDT", "", base, base.Add(time.Minute))

	resub := *tk
	appendTick(t, ticks, m, &resub)
	m.MarkDirty("BTCUSDT", "", base)
	if err := m.RunPass(ctx); err != nil {
		t.Fatalf("pass after duplicate: %v", err)
	}
	after, _ := candles.Query(ctx, domrepo.TF1m, "BTCUSDT", "", base, base.Add(time.Minute))
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("duplicate changed candle:\nbefore %+v\nafter  %+v", before, after)
	}
	if after[0].Volume != 2 || after[0].TradeCount != 1 {
		t.Fatalf("duplicate double-counted: %+v", after[0])
	}
}

func TestLateTickRevisesBucketInPlace(t *testing.T) {
	ctx := context.Background()
	m, ticks, candles := newTestMaterializer(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	appendTick(t, ticks, m, &models.Tick{Symbol: "BTCUSDT", Time: base.Add(30 * time.Second), Price: 10, Size: 1, Kind: models.KindTrade, DedupKey: "b"})
	if err := m.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}

	// A late tick earlier in the bucket must move open, not add a row.
	appendTick(t, ticks, m, &models.Tick{Symbol: "BTCUSDT", Time: base, Price: 8, Size: 1, Kind: models.KindTrade, DedupKey: "a"})
	if err := m.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}

	rows, _ := candles.Query(ctx, domrepo.TF1m, "BTCUSDT", "", base, base.Add(time.Minute))
	if len(rows) != 1 {
		t.Fatalf("late tick created extra row: %d rows", len(rows))
	}
	if rows[0].Open != 8 || rows[0].Low != 8 || rows[0].Close != 10 {
		t.Fatalf("revision not applied: %+v", rows[0])
	}
}

func TestHourRollupChainsFromMinutes(t *testing.T) {
	ctx := context.Background()
	m, ticks, candles := newTestMaterializer(t)
	hour := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	in := []*models.Tick{
		{Symbol: "BTCUSDT", Time: hour.Add(10 * time.Second), Price: 10, Size: 1, Kind: models.KindTrade, DedupKey: "a"},
		{Symbol: "BTCUSDT", Time: hour.Add(20 * time.Second), Price: 12, Size: 1, Kind: models.KindTrade, DedupKey: "b"},
		{Symbol: "BTCUSDT", Time: hour.Add(40 * time.Second), Price: 9, Size: 1, Kind: models.KindTrade, DedupKey: "c"},
		{Symbol: "BTCUSDT", Time: hour.Add(50 * time.Second), Price: 11, Size: 1, Kind: models.KindTrade, DedupKey: "d"},
		{Symbol: "BTCUSDT", Time: hour.Add(30 * time.Minute), Price: 11, Size: 2, Kind: models.KindTrade, DedupKey: "e"},
		{Symbol: "BTCUSDT", Time: hour.Add(30*time.Minute + 20*time.Second), Price: 13, Size: 2, Kind: models.KindTrade, DedupKey: "f"},
		{Symbol: "BTCUSDT", Time: hour.Add(30*time.Minute + 40*time.Second), Price: 12, Size: 2, Kind: models.KindTrade, DedupKey: "g"},
	}
	for _, tk := range in {
		appendTick(t, ticks, m, tk)
	}
	if err := m.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}

	rows, err := candles.Query(ctx, domrepo.TF1h, "BTCUSDT", "", hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 hour candle, got %d", len(rows))
	}
	got := rows[0]

	// Chaining law: the rollup over minute candles equals aggregating the
	// hour's raw ticks directly.
	all, _ := ticks.Query(ctx, "BTCUSDT", "", hour, hour.Add(time.Hour))
	want, ok := FoldTicks("BTCUSDT", "", hour, all)
	if !ok {
		t.Fatal("no ticks to fold")
	}
	if got.Open != want.Open || got.High != want.High || got.Low != want.Low ||
		got.Close != want.Close || got.Volume != want.Volume || got.TradeCount != want.TradeCount {
		t.Fatalf("rollup diverges from direct aggregation:\nrollup %+v\ndirect %+v", got, want)
	}
	if got.Open != 10 || got.High != 13 || got.Low != 9 || got.Close != 12 || got.Volume != 10 {
		t.Fatalf("unexpected hour candle: %+v", got)
	}
}

func TestHourRollupScenario(t *testing.T) {
	ctx := context.Background()
	m, _, candles := newTestMaterializer(t)
	hour := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mins := []models.Candle{
		{Symbol: "BTCUSDT", Bucket: hour, Open: 10, High: 12, Low: 9, Close: 11, Volume: 4, TradeCount: 3},
		{Symbol: "BTCUSDT", Bucket: hour.Add(time.Minute), Open: 11, High: 13, Low: 10, Close: 12, Volume: 6, TradeCount: 5},
	}
	if err := candles.Upsert(ctx, domrepo.TF1m, mins); err != nil {
		t.Fatalf("seed minutes: %v", err)
	}
	if err := m.rollupBucket(ctx, domrepo.TF1h, "BTCUSDT", "", hour); err != nil {
		t.Fatalf("rollup: %v", err)
	}

	rows, _ := candles.Query(ctx, domrepo.TF1h, "BTCUSDT", "", hour, hour.Add(time.Hour))
	if len(rows) != 1 {
		t.Fatalf("expected 1 hour candle, got %d", len(rows))
	}
	c := rows[0]
	if c.Open != 10 || c.High != 13 || c.Low != 9 || c.Close != 12 || c.Volume != 10 || c.TradeCount != 8 {
		t.Fatalf("unexpected hour candle: %+v", c)
	}
}

func TestBackfillRederivesFromUpstream(t *testing.T) {
	ctx := context.Background()
	m, ticks, candles := newTestMaterializer(t)
	hour := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	appendTick(t, ticks, m, &models.Tick{Symbol: "BTCUSDT", Time: hour, Price: 10, Size: 1, Kind: models.KindTrade, DedupKey: "a"})
	if err := m.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}

	// Corrupt the stored hour candle, then repair it from minutes.
	bad := models.Candle{Symbol: "BTCUSDT", Bucket: hour, Open: 1, High: 1, Low: 1, Close: 1}
	if err := candles.Upsert(ctx, domrepo.TF1h, []models.Candle{bad}); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	n, err := m.Backfill(ctx, domrepo.TF1h, "BTCUSDT", "", hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 bucket rebuilt, got %d", n)
	}
	rows, _ := candles.Query(ctx, domrepo.TF1h, "BTCUSDT", "", hour, hour.Add(time.Hour))
	if len(rows) != 1 || rows[0].Open != 10 {
		t.Fatalf("backfill did not repair candle: %+v", rows)
	}
}

func TestDerivedTimeframeHasNoBackfill(t *testing.T) {
	m, _, _ := newTestMaterializer(t)
	if _, err := m.Backfill(context.Background(), domrepo.TF5m, "BTCUSDT", "", time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatal("expected error backfilling a derived timeframe")
	}
}
