package http

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/domain"
)

// Cabeceras de emisión.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderForceOffline   = "X-Force-Offline"
	HeaderConnectivity   = "X-Connectivity"
)

// FiscalDocumentHandler emisión y consulta de facturas/boletas (protegido).
type FiscalDocumentHandler struct {
	uc *billing.IssuanceCoordinator
}

// NewFiscalDocumentHandler construye el handler.
func NewFiscalDocumentHandler(uc *billing.IssuanceCoordinator) *FiscalDocumentHandler {
	return &FiscalDocumentHandler{uc: uc}
}

// Issue emite un documento fiscal, online o en contingencia.
// @Summary      Emitir factura o boleta
// @Tags         fiscal-documents
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string                   true  "Clave de idempotencia"
// @Param        body             body    dto.IssueInvoiceRequest  true  "Documento"
// @Success      201  {object}  dto.FiscalDocumentResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      422  {object}  dto.ErrorResponse
// @Security     BearerAuth
// @Router       /api/fiscal-documents [post]
func (h *FiscalDocumentHandler) Issue(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.IssueInvoiceRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	force := in.ForceOffline
	if v := c.Get(HeaderForceOffline); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			force = force || b
		}
	}
	hint := in.ConnectivityHint
	if hint == "" {
		hint = utils.CopyString(c.Get(HeaderConnectivity))
	}
	// c.Get apunta al buffer de fasthttp, que se reutiliza en el siguiente request.
	key := utils.CopyString(c.Get(HeaderIdempotencyKey))

	doc, err := h.uc.IssueInvoice(c.UserContext(), companyID, &in, key, force, hint)
	if err != nil {
		return writeError(c, err, doc)
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

// GetByID devuelve el documento con sus archivos.
// @Summary      Obtener documento fiscal
// @Tags         fiscal-documents
// @Produce      json
// @Param        id   path  string  true  "ID"
// @Success      200  {object}  dto.FiscalDocumentResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Security     BearerAuth
// @Router       /api/fiscal-documents/{id} [get]
func (h *FiscalDocumentHandler) GetByID(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	doc, err := h.uc.GetDocument(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(doc)
}

// Download descarga la versión LOCAL u OFFICIAL; ?type= elige el content type.
// @Summary      Descargar archivo del documento
// @Tags         fiscal-documents
// @Produce      application/pdf
// @Param        id       path   string  true   "ID"
// @Param        version  path   string  true   "LOCAL | OFFICIAL"
// @Param        type     query  string  false  "application/pdf | application/xml"
// @Success      200
// @Failure      404  {object}  dto.ErrorResponse
// @Security     BearerAuth
// @Router       /api/fiscal-documents/{id}/files/{version} [get]
func (h *FiscalDocumentHandler) Download(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	version := strings.ToUpper(c.Params("version"))
	f, err := h.uc.Download(c.UserContext(), companyID, c.Params("id"), version, c.Query("type"))
	if err != nil {
		return writeError(c, err, nil)
	}
	return sendFile(c, f)
}

func sendFile(c *fiber.Ctx, f *billing.DownloadedFile) error {
	if f == nil {
		return writeError(c, domain.ErrNotFound, nil)
	}
	c.Set(fiber.HeaderContentType, f.ContentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+f.Filename+`"`)
	return c.Send(f.Data)
}
