package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

// NonFiscalUseCase documentos sin validez tributaria (cotizaciones): render y guardado síncronos,
// sin cola ni proveedor.
type NonFiscalUseCase struct {
	docs      repository.NonFiscalDocumentRepository
	files     repository.DocumentFileRepository
	companies repository.CompanyRepository
	renderer  DocumentRenderer
	artifacts *Artifacts
	clock     Clock
}

// NewNonFiscalUseCase construye el caso de uso.
func NewNonFiscalUseCase(
	docs repository.NonFiscalDocumentRepository,
	files repository.DocumentFileRepository,
	companies repository.CompanyRepository,
	renderer DocumentRenderer,
	artifacts *Artifacts,
	clock Clock,
) *NonFiscalUseCase {
	if clock == nil {
		clock = SystemClock{}
	}
	return &NonFiscalUseCase{docs: docs, files: files, companies: companies, renderer: renderer, artifacts: artifacts, clock: clock}
}

// CreateNonFiscal renderiza y guarda el PDF LOCAL; el documento queda READY.
func (uc *NonFiscalUseCase) CreateNonFiscal(ctx context.Context, companyID string, req *dto.CreateNonFiscalRequest) (*dto.NonFiscalDocumentResponse, error) {
	if companyID == "" || req == nil {
		return nil, fmt.Errorf("%w: empresa y body requeridos", domain.ErrInvalidInput)
	}
	title := normalizeString(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title requerido", domain.ErrInvalidInput)
	}
	items := make([]dto.InvoiceItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = dto.InvoiceItemRequest{
			Code:        normalizeString(it.Code),
			Description: normalizeString(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		}
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}

	lines := BuildLines(items)
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	now := uc.clock.Now()
	doc := &entity.NonFiscalDocument{
		ID:          uuid.NewString(),
		CompanyID:   companyID,
		Title:       title,
		Reference:   normalizeString(req.Reference),
		Status:      entity.NonFiscalStatusReady,
		TotalAmount: total,
		CreatedAt:   now,
	}

	company := &entity.Company{ID: companyID}
	if uc.companies != nil {
		if c, err := uc.companies.GetByID(ctx, companyID); err == nil && c != nil {
			company = c
		}
	}
	pdf, err := uc.renderer.RenderNonFiscal(ctx, doc, company, lines, normalizeString(req.Notes))
	if err != nil {
		return nil, fmt.Errorf("no fiscal: renderizar: %w", err)
	}

	if err := uc.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("no fiscal: registrar documento: %w", err)
	}
	name := SafeFilename(strings.ToLower(firstNonEmpty(doc.Reference, doc.ID))) + ".pdf"
	f, err := uc.artifacts.Save(ctx, uc.files, companyID, doc.ID, entity.FileKindNonFiscal, entity.FileVersionLocal, pdf, name, entity.ContentTypePDF, now)
	if err != nil {
		return nil, fmt.Errorf("no fiscal: %w", err)
	}
	return toNonFiscalResponse(doc, f), nil
}

// GetNonFiscal vista del documento no fiscal con su archivo.
func (uc *NonFiscalUseCase) GetNonFiscal(ctx context.Context, companyID, id string) (*dto.NonFiscalDocumentResponse, error) {
	doc, err := uc.loadOwned(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	f, err := uc.files.GetLatest(ctx, doc.ID, entity.FileVersionLocal, "")
	if err != nil {
		return nil, fmt.Errorf("no fiscal: buscar archivo: %w", err)
	}
	return toNonFiscalResponse(doc, f), nil
}

// DownloadNonFiscal devuelve el PDF del documento no fiscal.
func (uc *NonFiscalUseCase) DownloadNonFiscal(ctx context.Context, companyID, id string) (*DownloadedFile, error) {
	doc, err := uc.loadOwned(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	f, err := uc.files.GetLatest(ctx, doc.ID, entity.FileVersionLocal, "")
	if err != nil {
		return nil, fmt.Errorf("no fiscal: buscar archivo: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: el documento no tiene archivo", domain.ErrNotFound)
	}
	return loadFile(ctx, uc.artifacts, f)
}

func (uc *NonFiscalUseCase) loadOwned(ctx context.Context, companyID, id string) (*entity.NonFiscalDocument, error) {
	doc, err := uc.docs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("no fiscal: obtener documento: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	if doc.CompanyID != companyID {
		return nil, domain.ErrForbidden
	}
	return doc, nil
}

func toNonFiscalResponse(doc *entity.NonFiscalDocument, f *entity.DocumentFile) *dto.NonFiscalDocumentResponse {
	out := &dto.NonFiscalDocumentResponse{
		ID:          doc.ID,
		CompanyID:   doc.CompanyID,
		Title:       doc.Title,
		Reference:   doc.Reference,
		Status:      doc.Status,
		TotalAmount: doc.TotalAmount,
		CreatedAt:   doc.CreatedAt,
	}
	if f != nil {
		r := ToDocumentFileResponse(f)
		out.File = &r
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
