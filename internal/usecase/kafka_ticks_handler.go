package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
	pkgkafka "CandleMill/pkg/kafka"
	"CandleMill/pkg/util"
)

// KafkaTicksHandler consumes tick messages from Kafka and feeds them to
// the ingestion boundary. Redeliveries are harmless: the dedup key makes
// ingestion idempotent, so at-least-once consumption is enough.
type KafkaTicksHandler struct {
	topic   string
	ing     *TickIngestor
	metrics domrepo.Metrics
}

func NewKafkaTicksHandler(topic string, ing *TickIngestor, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, ing: ing, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, org, t, p, s, kind, id}
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string  `json:"symbol"`
		Org    string  `json:"org"`
		T      int64   `json:"t"`
		P      float64 `json:"p"`
		S      float64 `json:"s"`
		Kind   string  `json:"kind"`
		ID     string  `json:"id"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}

	at := util.UnixToTime(m.T)
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(at).Seconds())

	kind := models.TickKind(m.Kind)
	if m.Kind == "" {
		kind = models.KindTrade
	}
	dedup := m.ID
	if dedup == "" {
		// Fall back to a key stable across redeliveries of the same
		// message.
		dedup = fmt.Sprintf("%s-%d-%v", m.Symbol, at.UnixMilli(), m.P)
	}

	tick := &models.Tick{
		Symbol:   m.Symbol,
		OrgID:    m.Org,
		Time:     at,
		Price:    m.P,
		Size:     m.S,
		Kind:     kind,
		DedupKey: dedup,
	}
	if _, err := h.ing.Ingest(ctx, tick); err != nil {
		h.metrics.RecordError("consumer_ingest")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
