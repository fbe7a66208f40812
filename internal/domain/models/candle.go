package models

import (
	"fmt"
	"time"
)

// Candle is an OHLCV aggregate of ticks over one timeframe bucket.
// A candle for a given (symbol, tenant, bucket) is singular: late ticks
// revise it in place, they never create a second row.
type Candle struct {
	Symbol     string    `json:"symbol"`
	OrgID      string    `json:"tenant,omitempty"`
	Bucket     time.Time `json:"bucket_start"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount uint64    `json:"trade_count"`
}

// CheckInvariants verifies the OHLC relationships that must hold for every
// candle at every timeframe. A violation is fatal for the bucket: the
// candle must be recomputed from upstream rather than served.
func (c *Candle) CheckInvariants() error {
	if c.Low > c.Open || c.Open > c.High {
		return fmt.Errorf("candle %s/%s@%s: open %v outside [low %v, high %v]",
			c.Symbol, c.OrgID, c.Bucket.Format(time.RFC3339), c.Open, c.Low, c.High)
	}
	if c.Low > c.Close || c.Close > c.High {
		return fmt.Errorf("candle %s/%s@%s: close %v outside [low %v, high %v]",
			c.Symbol, c.OrgID, c.Bucket.Format(time.RFC3339), c.Close, c.Low, c.High)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle %s/%s@%s: negative volume %v",
			c.Symbol, c.OrgID, c.Bucket.Format(time.RFC3339), c.Volume)
	}
	return nil
}
