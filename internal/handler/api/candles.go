package api

import (
	"time"

	models "CandleMill/internal/domain/models"
	domrepo "CandleMill/internal/domain/repository"
	"CandleMill/internal/usecase"
	xhttp "CandleMill/pkg/http"
	xlogger "CandleMill/pkg/logger"
	"CandleMill/pkg/queue"

	"github.com/labstack/echo/v4"
)

// EchoHandler implements the HTTP boundaries: query, ingestion, and
// administration.
type EchoHandler struct {
	logger  *xlogger.Logger
	ingest  *usecase.TickIngestor
	candles *usecase.CandlesUseCase
	mat     *usecase.Materializer
	ticks   domrepo.TickStore
	queue   queue.QueueService // optional; backfills run inline without it
}

// HandlerOption configures EchoHandler.
type HandlerOption func(*EchoHandler)

// WithQueue routes backfill requests through a job queue instead of
// running them inline.
func WithQueue(q queue.QueueService) HandlerOption {
	return func(h *EchoHandler) {
		h.queue = q
	}
}

func NewEchoHandler(logger *xlogger.Logger, ingest *usecase.TickIngestor, candles *usecase.CandlesUseCase, mat *usecase.Materializer, ticks domrepo.TickStore, opts ...HandlerOption) *EchoHandler {
	h := &EchoHandler{
		logger:  logger,
		ingest:  ingest,
		candles: candles,
		mat:     mat,
		ticks:   ticks,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *EchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.GET("/candles", h.Candles)
	g.GET("/candles/latest", h.LatestCandles)
	g.POST("/ticks", h.IngestTicks)
	g.POST("/admin/backfill", h.Backfill)
}

func (h *EchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, err := domrepo.ParseTimeframe(req.Timeframe)
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}

	now := time.Now().UTC()
	to := xhttp.ParseTimeDefault(req.To, now)
	from := xhttp.ParseTimeDefault(req.From, to.Add(-time.Duration(req.Limit)*tf.Duration()))

	rows, err := h.candles.Query(c.Request().Context(), tf, req.Symbol, req.Tenant, from, to, req.Limit, req.Order != "desc")
	if err != nil {
		h.logger.Error("candles query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EchoHandler) LatestCandles(c echo.Context) error {
	req := &models.LatestCandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, err := domrepo.ParseTimeframe(req.Timeframe)
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}

	rows, err := h.candles.Latest(c.Request().Context(), tf, req.Symbol, req.Tenant, req.N)
	if err != nil {
		h.logger.Error("latest candles error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EchoHandler) Health(c echo.Context) error {
	if err := h.ticks.Health(c.Request().Context()); err != nil {
		h.logger.Error("health check failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("store unavailable"))
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}
