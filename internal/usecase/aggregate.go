package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
)

// FoldTicks reduces the ticks of one bucket into a candle. Input order is
// irrelevant: open/close are chosen by the (event time, dedup key) order,
// high/low/volume are order-independent, so any permutation of arrival
// produces byte-identical results. Synthetic seeding ticks shape OHLC but
// do not count as trades. ok is false when ticks is empty.
func FoldTicks(symbol, orgID string, bucket time.Time, ticks []models.Tick) (models.Candle, bool) {
	if len(ticks) == 0 {
		return models.Candle{}, false
	}
	first, last := &ticks[0], &ticks[0]
	c := models.Candle{
		Symbol: symbol,
		OrgID:  orgID,
		Bucket: bucket,
		High:   ticks[0].Price,
		Low:    ticks[0].Price,
	}
	for i := range ticks {
		t := &ticks[i]
		if t.Before(first) {
			first = t
		}
		if !t.Before(last) {
			last = t
		}
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Volume += t.Size
		if t.Kind == models.KindTrade {
			c.TradeCount++
		}
	}
	c.Open = first.Price
	c.Close = last.Price
	return c, true
}

// FoldCandles reduces finer candles into one bucket of a coarser
// timeframe. Open comes from the earliest constituent bucket, close from
// the latest; bucket starts are unique per source row, so the ordering is
// total. ok is false when rows is empty.
func FoldCandles(symbol, orgID string, bucket time.Time, rows []models.Candle) (models.Candle, bool) {
	if len(rows) == 0 {
		return models.Candle{}, false
	}
	first, last := &rows[0], &rows[0]
	c := models.Candle{
		Symbol: symbol,
		OrgID:  orgID,
		Bucket: bucket,
		High:   rows[0].High,
		Low:    rows[0].Low,
	}
	for i := range rows {
		r := &rows[i]
		if r.Bucket.Before(first.Bucket) {
			first = r
		}
		if !r.Bucket.Before(last.Bucket) {
			last = r
		}
		if r.High > c.High {
			c.High = r.High
		}
		if r.Low < c.Low {
			c.Low = r.Low
		}
		c.Volume += r.Volume
		c.TradeCount += r.TradeCount
	}
	c.Open = first.Open
	c.Close = last.Close
	return c, true
}

// AggregateCandles buckets source rows onto the tf grid and folds each
// group, returning candles in ascending bucket order. The reduction rules
// are identical to the chained rollup, so the result matches what a
// dedicated materializer for tf would have produced.
func AggregateCandles(tf domrepo.Timeframe, rows []models.Candle) []models.Candle {
	if len(rows) == 0 {
		return nil
	}
	groups := make(map[int64][]models.Candle)
	for _, r := range rows {
		b := tf.Truncate(r.Bucket)
		groups[b.Unix()] = append(groups[b.Unix()], r)
	}
	starts := make([]int64, 0, len(groups))
	for s := range groups {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	out := make([]models.Candle, 0, len(starts))
	for _, s := range starts {
		grp := groups[s]
		if c, ok := FoldCandles(grp[0].Symbol, grp[0].OrgID, time.Unix(s, 0).UTC(), grp); ok {
			out = append(out, c)
		}
	}
	return out
}

// DynamicAggregator answers queries for timeframes that have no dedicated
// table by folding rows of a materialized timeframe at read time. The
// fold is pure and read-only, so cancellation has no side effects.
type DynamicAggregator struct {
	candles domrepo.CandleStore
}

func NewDynamicAggregator(candles domrepo.CandleStore) *DynamicAggregator {
	return &DynamicAggregator{candles: candles}
}

// Aggregate returns candles for [from, to) on the tf grid, derived from
// the coarsest materialized timeframe nesting evenly inside tf.
func (a *DynamicAggregator) Aggregate(ctx context.Context, symbol, orgID string, tf domrepo.Timeframe, from, to time.Time) ([]models.Candle, error) {
	src := domrepo.SourceFor(tf)
	rows, err := a.candles.Query(ctx, src, symbol, orgID, tf.Truncate(from), to)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s from %s: %w", tf, src, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return AggregateCandles(tf, rows), nil
}
