package api

import (
	"time"

	models "CandleMill/internal/domain/models"
	xhttp "CandleMill/pkg/http"
	xutil "CandleMill/pkg/util"

	"github.com/labstack/echo/v4"
)

// IngestTicks accepts a batch of ticks and reports a per-tick outcome.
// Duplicates are reported as no-ops, never as failures, so feed clients
// can redeliver freely.
func (h *EchoHandler) IngestTicks(c echo.Context) error {
	req := &models.IngestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ticks := make([]*models.Tick, len(req.Ticks))
	for i, s := range req.Ticks {
		at := xutil.UnixToTime(s.Time)
		kind := models.TickKind(s.Kind)
		key := s.DedupKey
		if key == "" && kind.Synthetic() {
			key = models.SeedDedupKey(s.Symbol, at.Truncate(time.Minute), kind)
		}
		ticks[i] = &models.Tick{
			Symbol:   s.Symbol,
			OrgID:    s.Tenant,
			Time:     at,
			Price:    s.Price,
			Size:     s.Size,
			Kind:     kind,
			DedupKey: key,
		}
	}

	results := h.ingest.IngestBatch(c.Request().Context(), ticks)
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"results": results,
	})
}
