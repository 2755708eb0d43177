package http

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/application/webhook"
)

// WebhookHandler recibe confirmaciones del proveedor. Autenticado por HMAC, no por JWT.
type WebhookHandler struct {
	in *webhook.Ingestor
}

func NewWebhookHandler(in *webhook.Ingestor) *WebhookHandler {
	return &WebhookHandler{in: in}
}

// Receive verifica la firma sobre el body crudo y recién entonces lo parsea.
// @Summary      Webhook del proveedor
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        X-Provider-Signature  header  string                    true  "t=<unix>,v1=<hmac>"
// @Param        body                  body    dto.ProviderWebhookEvent  true  "Evento"
// @Success      200  {object}  dto.WebhookResult
// @Failure      401  {object}  dto.ErrorResponse
// @Router       /webhooks/provider [post]
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	raw := c.Body()
	if err := h.in.Verify(c.Get(webhook.SignatureHeader), raw); err != nil {
		return writeError(c, err, nil)
	}
	var ev dto.ProviderWebhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	res, err := h.in.Handle(c.UserContext(), &ev)
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(res)
}
