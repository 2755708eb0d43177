package repository

import (
	"context"

	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// FiscalDocumentRepository puerto de persistencia de documentos fiscales.
type FiscalDocumentRepository interface {
	// Create devuelve domain.ErrDuplicate si la idempotency_key ya existe (violación de unicidad).
	Create(ctx context.Context, doc *entity.FiscalDocument) error
	GetByID(ctx context.Context, id string) (*entity.FiscalDocument, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*entity.FiscalDocument, error)
	GetByProviderDocumentID(ctx context.Context, providerDocumentID string) (*entity.FiscalDocument, error)
	// Update es compare-and-set: solo escribe si el estado persistido sigue siendo expectedStatus;
	// en caso contrario devuelve domain.ErrConflict.
	Update(ctx context.Context, doc *entity.FiscalDocument, expectedStatus string) error
}

// ContingencyQueueRepository puerto de la cola de contingencia.
type ContingencyQueueRepository interface {
	Create(ctx context.Context, item *entity.ContingencyQueueItem) error
	GetByDocumentID(ctx context.Context, documentID string) (*entity.ContingencyQueueItem, error)
	// ListPending ítems OFFLINE_PENDING/SYNCING, más antiguos primero.
	ListPending(ctx context.Context, limit int) ([]*entity.ContingencyQueueItem, error)
	Update(ctx context.Context, item *entity.ContingencyQueueItem) error
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// DocumentFileRepository metadatos de artefactos renderizados.
type DocumentFileRepository interface {
	Create(ctx context.Context, f *entity.DocumentFile) error
	ListByDocument(ctx context.Context, documentID string) ([]*entity.DocumentFile, error)
	// GetLatest último archivo de la versión indicada; contentType vacío = cualquiera.
	GetLatest(ctx context.Context, documentID, version, contentType string) (*entity.DocumentFile, error)
}

// NonFiscalDocumentRepository persistencia de documentos no tributarios.
type NonFiscalDocumentRepository interface {
	Create(ctx context.Context, doc *entity.NonFiscalDocument) error
	GetByID(ctx context.Context, id string) (*entity.NonFiscalDocument, error)
}

// SequenceRepository correlativos de folios provisionales.
type SequenceRepository interface {
	// Next incrementa atómicamente y devuelve el nuevo valor (crea la secuencia en 1 si no existe).
	Next(ctx context.Context, companyID, prefix string) (int64, error)
}

// SequenceSeeder importación de correlativos desde un sistema anterior.
type SequenceSeeder interface {
	// Seed fija el último valor usado; nunca retrocede una secuencia existente.
	Seed(ctx context.Context, companyID, prefix string, lastValue int64) error
}
