package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

var _ repository.FiscalDocumentRepository = (*FiscalDocumentRepo)(nil)

// FiscalDocumentRepo implementación de FiscalDocumentRepository (usable con pool o tx).
type FiscalDocumentRepo struct {
	q Querier
}

// NewFiscalDocumentRepository pasar pool o tx (Querier).
func NewFiscalDocumentRepository(q Querier) *FiscalDocumentRepo {
	return &FiscalDocumentRepo{q: q}
}

const fiscalDocumentColumns = `
	id, company_id, document_type, tax_mode, status, number, provisional_number,
	idempotency_key, payload_hash, sale_reference, track_id, provider, provider_document_id,
	offline, sync_attempts, last_sync_at, error_detail, provider_snapshot,
	net_amount, exempt_amount, tax_amount, total_amount, created_at, updated_at`

// Create devuelve domain.ErrDuplicate si choca la idempotency_key o el folio provisional.
func (r *FiscalDocumentRepo) Create(ctx context.Context, d *entity.FiscalDocument) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	query := `INSERT INTO fiscal_documents (` + fiscalDocumentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`
	_, err := r.q.Exec(ctx, query,
		d.ID, d.CompanyID, d.DocumentType, d.TaxMode, d.Status, nullIfEmpty(d.Number), d.ProvisionalNumber,
		d.IdempotencyKey, d.PayloadHash, nullIfEmpty(d.SaleReference), nullIfEmpty(d.TrackID),
		nullIfEmpty(d.Provider), nullIfEmpty(d.ProviderDocumentID),
		d.Offline, d.SyncAttempts, d.LastSyncAt, nullIfEmpty(d.ErrorDetail), d.ProviderSnapshot,
		d.NetAmount, d.ExemptAmount, d.TaxAmount, d.TotalAmount, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: documento fiscal: %v", domain.ErrDuplicate, err)
		}
		return fmt.Errorf("insert fiscal document: %w", err)
	}
	return nil
}

func (r *FiscalDocumentRepo) GetByID(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	if !validUUID(id) {
		return nil, nil
	}
	return r.getBy(ctx, "id", id)
}

func (r *FiscalDocumentRepo) GetByIdempotencyKey(ctx context.Context, key string) (*entity.FiscalDocument, error) {
	return r.getBy(ctx, "idempotency_key", key)
}

func (r *FiscalDocumentRepo) GetByProviderDocumentID(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	return r.getBy(ctx, "provider_document_id", id)
}

// column viene siempre de una constante interna.
func (r *FiscalDocumentRepo) getBy(ctx context.Context, column, value string) (*entity.FiscalDocument, error) {
	query := `SELECT ` + fiscalDocumentColumns + ` FROM fiscal_documents WHERE ` + column + ` = $1`
	var d entity.FiscalDocument
	var number, saleRef, trackID, provider, providerDocID, errDetail *string
	err := r.q.QueryRow(ctx, query, value).Scan(
		&d.ID, &d.CompanyID, &d.DocumentType, &d.TaxMode, &d.Status, &number, &d.ProvisionalNumber,
		&d.IdempotencyKey, &d.PayloadHash, &saleRef, &trackID, &provider, &providerDocID,
		&d.Offline, &d.SyncAttempts, &d.LastSyncAt, &errDetail, &d.ProviderSnapshot,
		&d.NetAmount, &d.ExemptAmount, &d.TaxAmount, &d.TotalAmount, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fiscal document: %w", err)
	}
	d.Number = derefStr(number)
	d.SaleReference = derefStr(saleRef)
	d.TrackID = derefStr(trackID)
	d.Provider = derefStr(provider)
	d.ProviderDocumentID = derefStr(providerDocID)
	d.ErrorDetail = derefStr(errDetail)
	return &d, nil
}

// Update compare-and-set sobre status. 0 filas: ErrNotFound si no existe, ErrConflict si cambió.
func (r *FiscalDocumentRepo) Update(ctx context.Context, d *entity.FiscalDocument, expectedStatus string) error {
	query := `
		UPDATE fiscal_documents
		SET status               = $3,
		    number               = $4,
		    track_id             = $5,
		    provider             = $6,
		    provider_document_id = $7,
		    offline              = $8,
		    sync_attempts        = $9,
		    last_sync_at         = $10,
		    error_detail         = $11,
		    provider_snapshot    = $12,
		    updated_at           = $13
		WHERE id = $1 AND status = $2`
	tag, err := r.q.Exec(ctx, query,
		d.ID, expectedStatus, d.Status, nullIfEmpty(d.Number), nullIfEmpty(d.TrackID),
		nullIfEmpty(d.Provider), nullIfEmpty(d.ProviderDocumentID), d.Offline, d.SyncAttempts,
		d.LastSyncAt, nullIfEmpty(d.ErrorDetail), d.ProviderSnapshot, d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: documento fiscal: %v", domain.ErrDuplicate, err)
		}
		return fmt.Errorf("update fiscal document: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM fiscal_documents WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
		return fmt.Errorf("update fiscal document: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}
