package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

// Artifacts renderiza y guarda las representaciones de un documento y registra su DocumentFile.
// OFFICIAL nunca reemplaza a LOCAL: lo enlaza por PreviousFileID.
type Artifacts struct {
	store    ArtifactStore
	renderer DocumentRenderer
}

// NewArtifacts construye el helper.
func NewArtifacts(store ArtifactStore, renderer DocumentRenderer) *Artifacts {
	return &Artifacts{store: store, renderer: renderer}
}

// Load delega en el almacén.
func (a *Artifacts) Load(ctx context.Context, storageKey string) ([]byte, string, error) {
	return a.store.Load(ctx, storageKey)
}

// SaveFiscalPDF renderiza el PDF fiscal de la versión indicada, lo guarda y registra el archivo.
// Si ya existe un archivo de esa versión y tipo, no hace nada y lo devuelve.
func (a *Artifacts) SaveFiscalPDF(ctx context.Context, files repository.DocumentFileRepository, doc *entity.FiscalDocument, snap *IssuanceSnapshot, version string, now time.Time) (*entity.DocumentFile, error) {
	if existing, err := files.GetLatest(ctx, doc.ID, version, entity.ContentTypePDF); err != nil {
		return nil, fmt.Errorf("artefactos: buscar %s: %w", version, err)
	} else if existing != nil {
		return existing, nil
	}
	pdf, err := a.renderer.RenderFiscal(ctx, doc, snap, version)
	if err != nil {
		return nil, fmt.Errorf("artefactos: renderizar %s: %w", version, err)
	}
	filename := SafeFilename(doc.DisplayNumber()) + ".pdf"
	return a.Save(ctx, files, doc.CompanyID, doc.ID, entity.FileKindFiscal, version, pdf, filename, entity.ContentTypePDF, now)
}

// Save guarda bytes ya generados (p. ej. el XML oficial del proveedor) y registra el archivo.
func (a *Artifacts) Save(ctx context.Context, files repository.DocumentFileRepository, companyID, documentID, kind, version string, data []byte, filename, contentType string, now time.Time) (*entity.DocumentFile, error) {
	ref := ArtifactRef{CompanyID: companyID, DocumentID: documentID, Kind: kind, Version: version}
	stored, err := a.store.Store(ctx, ref, data, filename, contentType)
	if err != nil {
		if errors.Is(err, domain.ErrStorage) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	f := &entity.DocumentFile{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		CompanyID:   companyID,
		Kind:        kind,
		Version:     version,
		ContentType: stored.ContentType,
		Filename:    filename,
		StorageKey:  stored.StorageKey,
		Checksum:    stored.Checksum,
		Size:        stored.Size,
		CreatedAt:   now,
	}
	if version == entity.FileVersionOfficial {
		local, err := files.GetLatest(ctx, documentID, entity.FileVersionLocal, "")
		if err != nil {
			return nil, fmt.Errorf("artefactos: buscar LOCAL: %w", err)
		}
		if local != nil {
			f.PreviousFileID = &local.ID
		}
	}

	if err := files.Create(ctx, f); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// Otro proceso registró el mismo artefacto (misma clave, mismo contenido).
			return files.GetLatest(ctx, documentID, version, f.ContentType)
		}
		return nil, fmt.Errorf("artefactos: registrar archivo: %w", err)
	}
	return f, nil
}

// SafeFilename reemplaza los caracteres que no pueden ir en un segmento de clave.
func SafeFilename(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "documento"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
