package usecase

import (
	"context"
	"fmt"

	domrepo "CandleMill/internal/domain/repository"
	applogger "CandleMill/pkg/logger"
	"CandleMill/pkg/queue"
	"CandleMill/pkg/util"
)

// BackfillPayload is the queued request to re-derive a timeframe's
// candles from its immediate upstream over a time range.
type BackfillPayload struct {
	Timeframe string `json:"timeframe"`
	Symbol    string `json:"symbol"`
	Tenant    string `json:"tenant,omitempty"`
	From      int64  `json:"from"` // unix seconds or milliseconds
	To        int64  `json:"to"`
}

// BackfillJob runs queued backfills against the materializer. Repair is
// idempotent, so a retried job is harmless.
type BackfillJob struct {
	mat    *Materializer
	logger *applogger.Logger
}

// NewBackfillJob creates the queue handler for backfill requests.
func NewBackfillJob(mat *Materializer, logger *applogger.Logger) *BackfillJob {
	return &BackfillJob{mat: mat, logger: logger}
}

func (j *BackfillJob) Name() string { return "backfill" }

func (j *BackfillJob) Type() string { return "candles.backfill" }

func (j *BackfillJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[BackfillPayload](payload)
	if err != nil {
		return fmt.Errorf("backfill payload: %w", err)
	}
	tf, err := domrepo.ParseTimeframe(p.Timeframe)
	if err != nil {
		return err
	}

	from := util.UnixToTime(p.From)
	to := util.UnixToTime(p.To)
	if !from.Before(to) {
		return fmt.Errorf("backfill range [%d, %d) is empty", p.From, p.To)
	}

	n, err := j.mat.Backfill(ctx, tf, p.Symbol, p.Tenant, from, to)
	if err != nil {
		j.logger.Error("backfill job failed",
			applogger.String("timeframe", p.Timeframe),
			applogger.String("symbol", p.Symbol),
			applogger.Int("rebuilt", n),
			applogger.Error(err))
		return err
	}
	return nil
}

var _ queue.Job = (*BackfillJob)(nil)
