package api

import (
	models "CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
	"CandleMill/internal/usecase"
	xhttp "CandleMill/pkg/http"
	xlogger "CandleMill/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Backfill re-derives a materialized timeframe's candles from its
// immediate upstream over an explicit range. With a queue wired the
// request is accepted and runs asynchronously; otherwise it runs inline.
func (h *EchoHandler) Backfill(c echo.Context) error {
	req := &models.BackfillRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, err := domrepo.ParseTimeframe(req.Timeframe)
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}
	from, ok := xhttp.ParseTime(req.From)
	if !ok {
		return xhttp.BadRequestResponse(c, "from: invalid time")
	}
	to, ok := xhttp.ParseTime(req.To)
	if !ok {
		return xhttp.BadRequestResponse(c, "to: invalid time")
	}
	if !from.Before(to) {
		return xhttp.BadRequestResponse(c, "from must be before to")
	}

	if h.queue != nil {
		payload := usecase.BackfillPayload{
			Timeframe: req.Timeframe,
			Symbol:    req.Symbol,
			Tenant:    req.Tenant,
			From:      from.Unix(),
			To:        to.Unix(),
		}
		if err := h.queue.PublishMessage(c.Request().Context(), "candles.backfill", payload); err != nil {
			h.logger.Error("backfill enqueue failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.InternalError("could not enqueue backfill"))
		}
		return xhttp.AcceptedResponse(c, map[string]string{"status": "queued"})
	}

	n, err := h.mat.Backfill(c.Request().Context(), tf, req.Symbol, req.Tenant, from, to)
	if err != nil {
		h.logger.Error("backfill failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":  "done",
		"buckets": n,
	})
}
