package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

var (
	_ repository.SequenceRepository = (*SequenceRepo)(nil)
	_ repository.SequenceSeeder     = (*SequenceRepo)(nil)
)

// SequenceRepo correlativos de folios provisionales. El upsert bloquea la fila hasta el commit,
// así dos emisiones concurrentes con el mismo prefijo nunca obtienen el mismo valor.
type SequenceRepo struct {
	q Querier
}

func NewSequenceRepository(q Querier) *SequenceRepo {
	return &SequenceRepo{q: q}
}

func (r *SequenceRepo) Next(ctx context.Context, companyID, prefix string) (int64, error) {
	query := `
		INSERT INTO document_sequences (company_id, prefix, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (company_id, prefix)
		DO UPDATE SET last_value = document_sequences.last_value + 1
		RETURNING last_value`
	var v int64
	if err := r.q.QueryRow(ctx, query, companyID, prefix).Scan(&v); err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return v, nil
}

// Seed fija el último valor usado (importación desde un sistema anterior). Nunca retrocede.
func (r *SequenceRepo) Seed(ctx context.Context, companyID, prefix string, lastValue int64) error {
	query := `
		INSERT INTO document_sequences (company_id, prefix, last_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, prefix)
		DO UPDATE SET last_value = GREATEST(document_sequences.last_value, EXCLUDED.last_value)`
	if _, err := r.q.Exec(ctx, query, companyID, prefix, lastValue); err != nil {
		return fmt.Errorf("seed sequence: %w", err)
	}
	return nil
}
