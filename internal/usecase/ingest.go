package usecase

import (
	"context"

	"CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
	applogger "CandleMill/pkg/logger"
)

// IngestorOption configures TickIngestor.
type IngestorOption func(*TickIngestor)

// WithPublisher fans accepted ticks out to a broker.
func WithPublisher(p domrepo.Publisher) IngestorOption {
	return func(i *TickIngestor) {
		i.publisher = p
	}
}

// WithIngestMetrics sets the metrics recorder.
func WithIngestMetrics(m domrepo.Metrics) IngestorOption {
	return func(i *TickIngestor) {
		i.metrics = m
	}
}

// TickIngestor is the ingestion boundary. Every tick is validated, then
// appended with the store's dedup check; accepted ticks mark their minute
// bucket dirty so the materializer picks them up. Ingestion never waits
// on materialization.
type TickIngestor struct {
	ticks     domrepo.TickStore
	mat       *Materializer
	publisher domrepo.Publisher
	metrics   domrepo.Metrics
	logger    *applogger.Logger
}

// NewTickIngestor creates the ingestion boundary.
func NewTickIngestor(ticks domrepo.TickStore, mat *Materializer, logger *applogger.Logger, opts ...IngestorOption) *TickIngestor {
	i := &TickIngestor{ticks: ticks, mat: mat, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest processes one tick and returns its outcome. Duplicates are a
// no-op outcome, never an error; validation failures are returned
// synchronously and nothing is stored.
func (i *TickIngestor) Ingest(ctx context.Context, t *models.Tick) (models.IngestStatus, error) {
	status, err := i.ticks.Append(ctx, t)
	if i.metrics != nil {
		i.metrics.RecordTick(string(status))
	}
	if err != nil {
		return status, err
	}
	if status != models.IngestAccepted {
		return status, nil
	}

	i.mat.MarkDirty(t.Symbol, t.OrgID, t.Time)
	if i.metrics != nil {
		i.metrics.RecordLastPrice(t.Symbol, t.Price)
	}
	if i.publisher != nil {
		if err := i.publisher.Publish(ctx, t); err != nil {
			// The tick is durably stored; fan-out is best effort.
			i.logger.Warn("tick publish failed",
				applogger.String("symbol", t.Symbol),
				applogger.Error(err))
			if i.metrics != nil {
				i.metrics.RecordError("publish")
			}
		}
	}
	return status, nil
}

// Process adapts Ingest to the pipeline's processor contract. Duplicate
// outcomes stay silent; only real failures propagate.
func (i *TickIngestor) Process(ctx context.Context, t *models.Tick) error {
	_, err := i.Ingest(ctx, t)
	return err
}

// IngestBatch processes a batch and reports a per-tick outcome. One bad
// tick never poisons the rest of the batch.
func (i *TickIngestor) IngestBatch(ctx context.Context, ticks []*models.Tick) []models.IngestResult {
	results := make([]models.IngestResult, len(ticks))
	accepted := make([]*models.Tick, 0, len(ticks))

	for idx, t := range ticks {
		status, err := i.ticks.Append(ctx, t)
		if i.metrics != nil {
			i.metrics.RecordTick(string(status))
		}
		results[idx] = models.IngestResult{Index: idx, Status: status}
		if err != nil {
			results[idx].Error = err.Error()
			continue
		}
		if status != models.IngestAccepted {
			continue
		}
		i.mat.MarkDirty(t.Symbol, t.OrgID, t.Time)
		if i.metrics != nil {
			i.metrics.RecordLastPrice(t.Symbol, t.Price)
		}
		accepted = append(accepted, t)
	}

	if i.publisher != nil && len(accepted) > 0 {
		if err := i.publisher.PublishBatch(ctx, accepted); err != nil {
			i.logger.Warn("batch publish failed",
				applogger.Int("ticks", len(accepted)),
				applogger.Error(err))
			if i.metrics != nil {
				i.metrics.RecordError("publish")
			}
		}
	}
	return results
}
