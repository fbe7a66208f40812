package models

// Requests for the HTTP endpoints. Defined in domain for consistency and reuse.

type CandlesRequest struct {
	Symbol    string `query:"symbol" json:"symbol" validate:"required"`
	Tenant    string `query:"tenant" json:"tenant"`
	Timeframe string `query:"timeframe" json:"timeframe" default:"1m" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	From      string `query:"from" json:"from"`
	To        string `query:"to" json:"to"`
	Limit     int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
	Order     string `query:"order" json:"order" default:"asc" validate:"oneof=asc desc"`
}

type LatestCandlesRequest struct {
	Symbol    string `query:"symbol" json:"symbol" validate:"required"`
	Tenant    string `query:"tenant" json:"tenant"`
	Timeframe string `query:"timeframe" json:"timeframe" default:"1m" validate:"oneof=1m 5m 15m 30m 1h 4h 1d"`
	N         int    `query:"n" json:"n" default:"100" validate:"gte=1,lte=5000"`
}

// TickSubmission is one tick of a batch ingest request. Price/size bounds
// are re-checked by Tick.Validate; the tags reject junk at the edge.
// dedup_key may be omitted for synthetic seeding kinds, which get a
// deterministic constructed key; trade ticks without one are rejected
// per tick.
type TickSubmission struct {
	Symbol   string  `json:"symbol" validate:"required"`
	Tenant   string  `json:"tenant"`
	Time     int64   `json:"t" validate:"required"` // unix seconds or milliseconds
	Price    float64 `json:"p" validate:"required"`
	Size     float64 `json:"s" validate:"gte=0"`
	Kind     string  `json:"kind" default:"trade" validate:"oneof=trade open high low close"`
	DedupKey string  `json:"dedup_key"`
}

type IngestRequest struct {
	Ticks []TickSubmission `json:"ticks" validate:"required,min=1,max=10000,dive"`
}

type BackfillRequest struct {
	Timeframe string `json:"timeframe" validate:"required,oneof=1m 1h"`
	Symbol    string `json:"symbol" validate:"required"`
	Tenant    string `json:"tenant"`
	From      string `json:"from" validate:"required"`
	To        string `json:"to" validate:"required"`
}
