package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
)

var _ billing.FiscalTxRunner = (*TxRunner)(nil)

// fiscalTxOptions READ COMMITTED: el upsert de correlativos bloquea la fila y el índice único de
// idempotency_key resuelve emisiones duplicadas, sin reintentos por 40001.
var fiscalTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// Repos repositorios fiscales sobre el pool (fuera de transacción).
func Repos(pool *pgxpool.Pool) billing.FiscalRepos {
	return reposFor(pool)
}

func reposFor(q Querier) billing.FiscalRepos {
	return billing.FiscalRepos{
		Documents: NewFiscalDocumentRepository(q),
		Queue:     NewContingencyQueueRepository(q),
		Files:     NewDocumentFileRepository(q),
		Sequences: NewSequenceRepository(q),
	}
}

// RunFiscal inicia una transacción, ejecuta fn con repos atados a la tx y hace Commit o Rollback.
func (r *TxRunner) RunFiscal(ctx context.Context, fn func(repos billing.FiscalRepos) error) error {
	tx, err := r.pool.BeginTx(ctx, fiscalTxOptions)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(reposFor(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
