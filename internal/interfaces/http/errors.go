package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/application/webhook"
	"github.com/jhoicas/Facturacion-api/internal/domain"
)

// writeError traduce errores de dominio a HTTP. doc acompaña las respuestas de emisión
// en las que el documento quedó persistido (rechazo o fallo inesperado del proveedor).
func writeError(c *fiber.Ctx, err error, doc *dto.FiscalDocumentResponse) error {
	status, code, msg := classify(err)
	if status >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Str("code", code).Msg("error en request")
	}
	return c.Status(status).JSON(dto.ErrorResponse{Code: code, Message: msg, Document: doc})
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return fiber.StatusBadRequest, "VALIDATION", err.Error()
	case errors.Is(err, webhook.ErrInvalidSignature):
		return fiber.StatusUnauthorized, "INVALID_SIGNATURE", "firma inválida"
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.StatusUnauthorized, "UNAUTHORIZED", "no autorizado"
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden, "FORBIDDEN", "acceso denegado"
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, "NOT_FOUND", "recurso no encontrado"
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return fiber.StatusConflict, "IDEMPOTENCY_CONFLICT", "la Idempotency-Key ya se usó con otro payload"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		return fiber.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, domain.ErrPermanentProvider):
		return fiber.StatusUnprocessableEntity, "PROVIDER_REJECTED", err.Error()
	case errors.Is(err, domain.ErrUnexpectedProvider):
		return fiber.StatusInternalServerError, "UNEXPECTED_PROVIDER", "error inesperado del proveedor"
	case errors.Is(err, domain.ErrStorage):
		return fiber.StatusInternalServerError, "STORAGE", "no se pudo guardar el archivo del documento"
	case errors.Is(err, domain.ErrMalformedPayload):
		return fiber.StatusInternalServerError, "MALFORMED_PAYLOAD", "payload almacenado ilegible"
	default:
		return fiber.StatusInternalServerError, "INTERNAL", "error interno"
	}
}
