package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// DownloadedFile bytes de un artefacto listo para servir.
type DownloadedFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// GetDocument devuelve la vista del documento fiscal con sus archivos.
func (uc *IssuanceCoordinator) GetDocument(ctx context.Context, companyID, id string) (*dto.FiscalDocumentResponse, error) {
	doc, err := uc.loadOwned(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	return uc.view(ctx, doc)
}

// Download devuelve el artefacto de la versión pedida (LOCAL | OFFICIAL).
// contentTypeHint vacío prefiere el PDF.
func (uc *IssuanceCoordinator) Download(ctx context.Context, companyID, id, version, contentTypeHint string) (*DownloadedFile, error) {
	version = strings.ToUpper(strings.TrimSpace(version))
	if version != entity.FileVersionLocal && version != entity.FileVersionOfficial {
		return nil, fmt.Errorf("%w: version debe ser LOCAL u OFFICIAL", domain.ErrInvalidInput)
	}
	doc, err := uc.loadOwned(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	hint := normalizeContentType(contentTypeHint)
	var f *entity.DocumentFile
	if hint == "" {
		if f, err = uc.repos.Files.GetLatest(ctx, doc.ID, version, entity.ContentTypePDF); err == nil && f == nil {
			f, err = uc.repos.Files.GetLatest(ctx, doc.ID, version, "")
		}
	} else {
		f, err = uc.repos.Files.GetLatest(ctx, doc.ID, version, hint)
	}
	if err != nil {
		return nil, fmt.Errorf("billing: buscar archivo: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: el documento no tiene archivo %s", domain.ErrNotFound, version)
	}
	return loadFile(ctx, uc.artifacts, f)
}

func (uc *IssuanceCoordinator) loadOwned(ctx context.Context, companyID, id string) (*entity.FiscalDocument, error) {
	doc, err := uc.repos.Documents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("billing: obtener documento: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	if doc.CompanyID != companyID {
		return nil, domain.ErrForbidden
	}
	return doc, nil
}

func (uc *IssuanceCoordinator) view(ctx context.Context, doc *entity.FiscalDocument) (*dto.FiscalDocumentResponse, error) {
	files, err := uc.repos.Files.ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("billing: listar archivos: %w", err)
	}
	return ToFiscalDocumentResponse(doc, files), nil
}

func loadFile(ctx context.Context, a *Artifacts, f *entity.DocumentFile) (*DownloadedFile, error) {
	data, ct, err := a.Load(ctx, f.StorageKey)
	if err != nil {
		return nil, err
	}
	if f.ContentType != "" {
		ct = f.ContentType
	}
	return &DownloadedFile{Filename: f.Filename, ContentType: ct, Data: data}, nil
}

func normalizeContentType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "pdf":
		return entity.ContentTypePDF
	case "xml", "text/xml":
		return entity.ContentTypeXML
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

// ToFiscalDocumentResponse mapea entidad + archivos a la vista pública.
func ToFiscalDocumentResponse(doc *entity.FiscalDocument, files []*entity.DocumentFile) *dto.FiscalDocumentResponse {
	out := &dto.FiscalDocumentResponse{
		ID:                 doc.ID,
		CompanyID:          doc.CompanyID,
		DocumentType:       doc.DocumentType,
		TaxMode:            doc.TaxMode,
		Status:             doc.Status,
		Number:             doc.Number,
		ProvisionalNumber:  doc.ProvisionalNumber,
		IdempotencyKey:     doc.IdempotencyKey,
		SaleReference:      doc.SaleReference,
		TrackID:            doc.TrackID,
		Provider:           doc.Provider,
		ProviderDocumentID: doc.ProviderDocumentID,
		Offline:            doc.Offline,
		SyncAttempts:       doc.SyncAttempts,
		LastSyncAt:         doc.LastSyncAt,
		ErrorDetail:        doc.ErrorDetail,
		NetAmount:          doc.NetAmount,
		ExemptAmount:       doc.ExemptAmount,
		TaxAmount:          doc.TaxAmount,
		TotalAmount:        doc.TotalAmount,
		Files:              make([]dto.DocumentFileResponse, 0, len(files)),
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
	}
	for _, f := range files {
		out.Files = append(out.Files, ToDocumentFileResponse(f))
	}
	return out
}

// ToDocumentFileResponse metadatos públicos de un archivo.
func ToDocumentFileResponse(f *entity.DocumentFile) dto.DocumentFileResponse {
	return dto.DocumentFileResponse{
		ID:             f.ID,
		Kind:           f.Kind,
		Version:        f.Version,
		ContentType:    f.ContentType,
		Filename:       f.Filename,
		StorageKey:     f.StorageKey,
		Checksum:       f.Checksum,
		Size:           f.Size,
		PreviousFileID: f.PreviousFileID,
		CreatedAt:      f.CreatedAt,
	}
}
