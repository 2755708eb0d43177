package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

var _ repository.ContingencyQueueRepository = (*ContingencyQueueRepo)(nil)

// ContingencyQueueRepo cola de contingencia sobre la tabla contingency_queue.
type ContingencyQueueRepo struct {
	q Querier
}

func NewContingencyQueueRepository(q Querier) *ContingencyQueueRepo {
	return &ContingencyQueueRepo{q: q}
}

const queueColumns = `
	id, document_id, company_id, idempotency_key, payload_snapshot, encrypted_payload,
	status, sync_attempts, last_sync_at, error_detail, created_at, updated_at`

func (r *ContingencyQueueRepo) Create(ctx context.Context, it *entity.ContingencyQueueItem) error {
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	query := `INSERT INTO contingency_queue (` + queueColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.q.Exec(ctx, query,
		it.ID, it.DocumentID, it.CompanyID, it.IdempotencyKey, bytesOrNil(it.PayloadSnapshot), it.EncryptedPayload,
		it.Status, it.SyncAttempts, it.LastSyncAt, nullIfEmpty(it.ErrorDetail), it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: ítem de contingencia: %v", domain.ErrDuplicate, err)
		}
		return fmt.Errorf("insert contingency item: %w", err)
	}
	return nil
}

func (r *ContingencyQueueRepo) GetByDocumentID(ctx context.Context, documentID string) (*entity.ContingencyQueueItem, error) {
	if !validUUID(documentID) {
		return nil, nil
	}
	row := r.q.QueryRow(ctx, `SELECT `+queueColumns+` FROM contingency_queue WHERE document_id = $1`, documentID)
	it, err := scanQueueItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get contingency item: %w", err)
	}
	return it, nil
}

// ListPending FIFO por created_at.
func (r *ContingencyQueueRepo) ListPending(ctx context.Context, limit int) ([]*entity.ContingencyQueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + queueColumns + ` FROM contingency_queue
		WHERE status IN ($1, $2)
		ORDER BY created_at, id
		LIMIT $3`
	rows, err := r.q.Query(ctx, query, entity.FiscalStatusOfflinePending, entity.FiscalStatusSyncing, limit)
	if err != nil {
		return nil, fmt.Errorf("list contingency: %w", err)
	}
	defer rows.Close()
	var out []*entity.ContingencyQueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contingency item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *ContingencyQueueRepo) Update(ctx context.Context, it *entity.ContingencyQueueItem) error {
	query := `
		UPDATE contingency_queue
		SET status        = $2,
		    sync_attempts = $3,
		    last_sync_at  = $4,
		    error_detail  = $5,
		    updated_at    = $6
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query, it.ID, it.Status, it.SyncAttempts, it.LastSyncAt, nullIfEmpty(it.ErrorDetail), it.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update contingency item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ContingencyQueueRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM contingency_queue WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete contingency item: %w", err)
	}
	return nil
}

func (r *ContingencyQueueRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.q.Query(ctx, `SELECT status, COUNT(*) FROM contingency_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count contingency: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func scanQueueItem(row pgx.Row) (*entity.ContingencyQueueItem, error) {
	var it entity.ContingencyQueueItem
	var payload []byte
	var errDetail *string
	if err := row.Scan(
		&it.ID, &it.DocumentID, &it.CompanyID, &it.IdempotencyKey, &payload, &it.EncryptedPayload,
		&it.Status, &it.SyncAttempts, &it.LastSyncAt, &errDetail, &it.CreatedAt, &it.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		it.PayloadSnapshot = json.RawMessage(payload)
	}
	it.ErrorDetail = derefStr(errDetail)
	return &it, nil
}

// bytesOrNil el snapshot va a BYTEA sin pasar por texto; vacío se guarda como NULL.
func bytesOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
