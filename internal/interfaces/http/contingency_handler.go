package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/Facturacion-api/internal/application/contingency"
	"github.com/jhoicas/Facturacion-api/internal/application/dto"
)

// DeadLetterLister lectura de la DLQ (opcional: sin Redis no hay DLQ).
type DeadLetterLister interface {
	List(ctx context.Context, n int64) ([]contingency.DeadLetter, error)
}

// ContingencyHandler operación de la cola de contingencia (solo admin).
type ContingencyHandler struct {
	engine    *contingency.Engine
	scheduler *contingency.Scheduler
	dlq       DeadLetterLister
}

func NewContingencyHandler(engine *contingency.Engine, scheduler *contingency.Scheduler, dlq DeadLetterLister) *ContingencyHandler {
	return &ContingencyHandler{engine: engine, scheduler: scheduler, dlq: dlq}
}

// Stats
// @Summary      Métricas de contingencia
// @Tags         contingency
// @Produce      json
// @Success      200  {object}  dto.ContingencyStatsResponse
// @Security     BearerAuth
// @Router       /api/contingency/stats [get]
func (h *ContingencyHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.engine.Stats(c.UserContext())
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(stats)
}

// Run fuerza una pasada del motor; 409 si ya hay una en curso.
// @Summary      Ejecutar sincronización
// @Tags         contingency
// @Produce      json
// @Success      200  {object}  dto.RunSyncResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Security     BearerAuth
// @Router       /api/contingency/run [post]
func (h *ContingencyHandler) Run(c *fiber.Ctx) error {
	res, err := h.scheduler.Trigger(c.UserContext())
	if err != nil {
		if errors.Is(err, contingency.ErrRunInProgress) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "RUN_IN_PROGRESS", Message: "ya hay una sincronización en curso"})
		}
		return writeError(c, err, nil)
	}
	return c.JSON(dto.RunSyncResponse{
		Processed: res.Processed,
		Synced:    res.Synced,
		Requeued:  res.Requeued,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
	})
}

// DeadLetters últimas entradas de la DLQ.
// @Summary      Documentos en la DLQ
// @Tags         contingency
// @Produce      json
// @Param        limit  query  int  false  "máximo 100"
// @Success      200  {array}  dto.DeadLetterResponse
// @Security     BearerAuth
// @Router       /api/contingency/dead-letters [get]
func (h *ContingencyHandler) DeadLetters(c *fiber.Ctx) error {
	if h.dlq == nil {
		return c.JSON([]dto.DeadLetterResponse{})
	}
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "parámetros inválidos"})
	}
	page.DefaultPage()
	list, err := h.dlq.List(c.UserContext(), int64(page.Limit))
	if err != nil {
		return writeError(c, err, nil)
	}
	out := make([]dto.DeadLetterResponse, 0, len(list))
	for _, dl := range list {
		out = append(out, dto.DeadLetterResponse{
			DocumentID:     dl.DocumentID,
			CompanyID:      dl.CompanyID,
			IdempotencyKey: dl.IdempotencyKey,
			Attempts:       dl.Attempts,
			Reason:         dl.Reason,
			FailedAt:       dl.FailedAt,
		})
	}
	return c.JSON(out)
}
