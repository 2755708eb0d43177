package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

var _ repository.NonFiscalDocumentRepository = (*NonFiscalRepo)(nil)

// NonFiscalRepo documentos sin validez tributaria.
type NonFiscalRepo struct {
	q Querier
}

func NewNonFiscalRepository(q Querier) *NonFiscalRepo {
	return &NonFiscalRepo{q: q}
}

func (r *NonFiscalRepo) Create(ctx context.Context, d *entity.NonFiscalDocument) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	query := `
		INSERT INTO non_fiscal_documents (id, company_id, title, reference, status, total_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.q.Exec(ctx, query, d.ID, d.CompanyID, d.Title, nullIfEmpty(d.Reference), d.Status, d.TotalAmount, d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: documento no fiscal: %v", domain.ErrDuplicate, err)
		}
		return fmt.Errorf("insert non fiscal document: %w", err)
	}
	return nil
}

func (r *NonFiscalRepo) GetByID(ctx context.Context, id string) (*entity.NonFiscalDocument, error) {
	if !validUUID(id) {
		return nil, nil
	}
	query := `
		SELECT id, company_id, title, reference, status, total_amount, created_at
		FROM non_fiscal_documents WHERE id = $1`
	var d entity.NonFiscalDocument
	var ref *string
	err := r.q.QueryRow(ctx, query, id).Scan(&d.ID, &d.CompanyID, &d.Title, &ref, &d.Status, &d.TotalAmount, &d.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get non fiscal document: %w", err)
	}
	d.Reference = derefStr(ref)
	return &d, nil
}
