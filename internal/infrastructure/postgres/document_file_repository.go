package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

var _ repository.DocumentFileRepository = (*DocumentFileRepo)(nil)

// DocumentFileRepo metadatos de artefactos. Unicidad (document_id, kind, version, content_type).
type DocumentFileRepo struct {
	q Querier
}

func NewDocumentFileRepository(q Querier) *DocumentFileRepo {
	return &DocumentFileRepo{q: q}
}

const fileColumns = `
	id, document_id, company_id, kind, version, content_type, filename,
	storage_key, checksum, size, previous_file_id, created_at`

func (r *DocumentFileRepo) Create(ctx context.Context, f *entity.DocumentFile) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	query := `INSERT INTO document_files (` + fileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.q.Exec(ctx, query,
		f.ID, f.DocumentID, f.CompanyID, f.Kind, f.Version, f.ContentType, f.Filename,
		f.StorageKey, f.Checksum, f.Size, f.PreviousFileID, f.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: archivo de documento: %v", domain.ErrDuplicate, err)
		}
		return fmt.Errorf("insert document file: %w", err)
	}
	return nil
}

func (r *DocumentFileRepo) ListByDocument(ctx context.Context, documentID string) ([]*entity.DocumentFile, error) {
	if !validUUID(documentID) {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `SELECT `+fileColumns+` FROM document_files WHERE document_id = $1 ORDER BY created_at, seq`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document files: %w", err)
	}
	defer rows.Close()
	var out []*entity.DocumentFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *DocumentFileRepo) GetLatest(ctx context.Context, documentID, version, contentType string) (*entity.DocumentFile, error) {
	if !validUUID(documentID) {
		return nil, nil
	}
	query := `SELECT ` + fileColumns + ` FROM document_files
		WHERE document_id = $1 AND version = $2 AND ($3 = '' OR content_type = $3)
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`
	f, err := scanFile(r.q.QueryRow(ctx, query, documentID, version, contentType))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest document file: %w", err)
	}
	return f, nil
}

func scanFile(row pgx.Row) (*entity.DocumentFile, error) {
	var f entity.DocumentFile
	err := row.Scan(
		&f.ID, &f.DocumentID, &f.CompanyID, &f.Kind, &f.Version, &f.ContentType, &f.Filename,
		&f.StorageKey, &f.Checksum, &f.Size, &f.PreviousFileID, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
