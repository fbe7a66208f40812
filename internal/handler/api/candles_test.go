package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
	"CandleMill/internal/repository"
	"CandleMill/internal/usecase"
	applogger "CandleMill/pkg/logger"

	"github.com/labstack/echo/v4"
)

type fixture struct {
	e       *echo.Echo
	ing     *usecase.TickIngestor
	mat     *usecase.Materializer
	candles *repository.MemoryCandleStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	ticks := repository.NewMemoryTickStore()
	candles := repository.NewMemoryCandleStore()
	mat := usecase.NewMaterializer(ticks, candles, l)
	ing := usecase.NewTickIngestor(ticks, mat, l)
	uc := usecase.NewCandlesUseCase(candles, usecase.NewDynamicAggregator(candles), mat, l)

	e := echo.New()
	NewEchoHandler(l, ing, uc, mat, ticks).RegisterRoutes(e)
	return &fixture{e: e, ing: ing, mat: mat, candles: candles}
}

func (f *fixture) seed(t *testing.T, base time.Time, prices []float64) {
	t.Helper()
	ctx := context.Background()
	for i, p := range prices {
		at := base.Add(time.Duration(i) * time.Minute)
		if _, err := f.ing.Ingest(ctx, &models.Tick{
			Symbol: "BTCUSDT", Time: at, Price: p, Size: 1,
			Kind: models.KindTrade, DedupKey: at.String(),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := f.mat.RunPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
}

func TestCandlesEndpoint(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.seed(t, base, []float64{10, 11, 12})

	url := "/api/candles?symbol=BTCUSDT&timeframe=1m&from=" + base.Format(time.RFC3339) +
		"&to=" + base.Add(time.Hour).Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data struct {
			Rows  []models.Candle `json:"rows"`
			Total int64           `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Total != 3 || len(body.Data.Rows) != 3 {
		t.Fatalf("expected 3 candles, got %+v", body.Data)
	}
	if body.Data.Rows[0].Open != 10 {
		t.Fatalf("unexpected first candle: %+v", body.Data.Rows[0])
	}
}

func TestCandlesRejectsUnsupportedTimeframe(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/candles?symbol=BTCUSDT&timeframe=2m", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unsupported timeframe should be a client error, got %d", rec.Code)
	}
}

func TestCandlesRequiresSymbol(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/candles?timeframe=1m", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing symbol should be a client error, got %d", rec.Code)
	}
}

func TestIngestEndpointPerTickStatuses(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Unix()

	payload := `{"ticks":[
		{"symbol":"BTCUSDT","t":` + itoa(at) + `,"p":10,"s":1,"dedup_key":"a"},
		{"symbol":"BTCUSDT","t":` + itoa(at) + `,"p":10,"s":1,"dedup_key":"a"},
		{"symbol":"BTCUSDT","t":` + itoa(at) + `,"p":-4,"s":1,"dedup_key":"b"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/ticks", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data struct {
			Results []models.IngestResult `json:"results"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []models.IngestStatus{models.IngestAccepted, models.IngestDuplicate, models.IngestRejected}
	if len(body.Data.Results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(body.Data.Results))
	}
	for i, w := range want {
		if body.Data.Results[i].Status != w {
			t.Fatalf("tick %d: expected %s, got %s", i, w, body.Data.Results[i].Status)
		}
	}
}

func TestIngestSyntheticSeedsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC).Unix()

	// Synthetic seeds may omit dedup_key; the constructed key makes
	// re-seeding the same bucket a duplicate, and a trade without a key
	// is rejected.
	payload := `{"ticks":[
		{"symbol":"BTCUSDT","t":` + itoa(at) + `,"p":15,"s":0,"kind":"high"},
		{"symbol":"BTCUSDT","t":` + itoa(at) + `,"p":15,"s":0,"kind":"high"},
		{"symbol":"BTCUSDT","t":` + itoa(at) + `,"p":10,"s":1}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/ticks", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data struct {
			Results []models.IngestResult `json:"results"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []models.IngestStatus{models.IngestAccepted, models.IngestDuplicate, models.IngestRejected}
	for i, w := range want {
		if body.Data.Results[i].Status != w {
			t.Fatalf("tick %d: expected %s, got %s", i, w, body.Data.Results[i].Status)
		}
	}
}

func TestBackfillEndpointInline(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.seed(t, base, []float64{10, 11})

	// Corrupt the hour candle, then repair it over HTTP.
	bad := models.Candle{Symbol: "BTCUSDT", Bucket: base, Open: 1, High: 1, Low: 1, Close: 1}
	if err := f.candles.Upsert(context.Background(), domrepo.TF1h, []models.Candle{bad}); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	payload := `{"timeframe":"1h","symbol":"BTCUSDT","from":"` + base.Format(time.RFC3339) +
		`","to":"` + base.Add(time.Hour).Format(time.RFC3339) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/backfill", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rows, _ := f.candles.Query(context.Background(), domrepo.TF1h, "BTCUSDT", "", base, base.Add(time.Hour))
	if len(rows) != 1 || rows[0].Open != 10 {
		t.Fatalf("backfill did not repair hour candle: %+v", rows)
	}
}

func TestBackfillRejectsDerivedTimeframe(t *testing.T) {
	f := newFixture(t)
	payload := `{"timeframe":"5m","symbol":"BTCUSDT","from":"2026-03-01T10:00:00Z","to":"2026-03-01T11:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/backfill", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("derived timeframe backfill should be rejected, got %d", rec.Code)
	}
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
