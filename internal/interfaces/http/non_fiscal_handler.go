package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/application/dto"
)

// NonFiscalHandler cotizaciones y documentos sin validez tributaria.
type NonFiscalHandler struct {
	uc *billing.NonFiscalUseCase
}

func NewNonFiscalHandler(uc *billing.NonFiscalUseCase) *NonFiscalHandler {
	return &NonFiscalHandler{uc: uc}
}

// Create genera el documento y su PDF.
// @Summary      Crear documento no fiscal
// @Tags         non-fiscal-documents
// @Accept       json
// @Produce      json
// @Param        body  body  dto.CreateNonFiscalRequest  true  "Documento"
// @Success      201  {object}  dto.NonFiscalDocumentResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Security     BearerAuth
// @Router       /api/non-fiscal-documents [post]
func (h *NonFiscalHandler) Create(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.CreateNonFiscalRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	doc, err := h.uc.CreateNonFiscal(c.UserContext(), companyID, &in)
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

// GetByID
// @Summary      Obtener documento no fiscal
// @Tags         non-fiscal-documents
// @Produce      json
// @Param        id   path  string  true  "ID"
// @Success      200  {object}  dto.NonFiscalDocumentResponse
// @Security     BearerAuth
// @Router       /api/non-fiscal-documents/{id} [get]
func (h *NonFiscalHandler) GetByID(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	doc, err := h.uc.GetNonFiscal(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(doc)
}

// Download
// @Summary      Descargar PDF no fiscal
// @Tags         non-fiscal-documents
// @Produce      application/pdf
// @Param        id   path  string  true  "ID"
// @Success      200
// @Security     BearerAuth
// @Router       /api/non-fiscal-documents/{id}/file [get]
func (h *NonFiscalHandler) Download(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	f, err := h.uc.DownloadNonFiscal(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err, nil)
	}
	return sendFile(c, f)
}
