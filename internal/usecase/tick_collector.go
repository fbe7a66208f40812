package usecase

import (
	"context"

	"CandleMill/internal/domain/models"
	drepo "CandleMill/internal/domain/repository"
	mid "CandleMill/internal/middleware"
)

// TickCollector reads ticks from a live market stream and hands them to
// the ingestion boundary, optionally through the pipeline.
type TickCollector struct {
	stream  drepo.MarketStream
	ing     *TickIngestor
	metrics drepo.Metrics
	pipe    *mid.IngestPipeline
}

// NewTickCollector creates a collector over the given stream.
func NewTickCollector(stream drepo.MarketStream, ing *TickIngestor, metrics drepo.Metrics, pipe *mid.IngestPipeline) *TickCollector {
	return &TickCollector{stream: stream, ing: ing, metrics: metrics, pipe: pipe}
}

// IsConnected returns true if the market stream is connected.
func (c *TickCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *TickCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	tkCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, tkCh, errCh)
	return nil
}

func (c *TickCollector) consume(ctx context.Context, tkCh <-chan *models.Tick, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("stream")
				_ = c.stream.Reconnect(ctx)
			}
		case t := <-tkCh:
			if t == nil {
				continue
			}
			if c.pipe != nil {
				_ = c.pipe.Process(ctx, t)
			} else {
				_ = c.ing.Process(ctx, t)
			}
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *TickCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return c.stream.Close()
}
