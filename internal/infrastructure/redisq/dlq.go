package redisq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/Facturacion-api/internal/application/contingency"
)

// DLQKey lista de documentos que agotaron reintentos o fueron rechazados.
const DLQKey = "dlq:fiscal"

// DLQMaxLen tope de entradas retenidas; las más antiguas se descartan.
const DLQMaxLen int64 = 1000

// DeadLetterQueue implementa contingency.DeadLetterSink sobre una lista Redis.
type DeadLetterQueue struct {
	rdb    *redis.Client
	key    string
	maxLen int64
}

var _ contingency.DeadLetterSink = (*DeadLetterQueue)(nil)

func NewDeadLetterQueue(rdb *redis.Client) *DeadLetterQueue {
	return &DeadLetterQueue{rdb: rdb, key: DLQKey, maxLen: DLQMaxLen}
}

// WithMaxLen cambia el tope de la lista (n <= 0 deja el valor por defecto).
func (q *DeadLetterQueue) WithMaxLen(n int64) *DeadLetterQueue {
	if n > 0 {
		q.maxLen = n
	}
	return q
}

// Push LPUSH de la entrada serializada en JSON y LTRIM al tope, en un MULTI/EXEC.
func (q *DeadLetterQueue) Push(ctx context.Context, dl contingency.DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("dlq: serializar: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.key, data)
		pipe.LTrim(ctx, q.key, 0, q.maxLen-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dlq: push: %w", err)
	}
	return nil
}

// Len cantidad de entradas pendientes de revisión.
func (q *DeadLetterQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// List las últimas n entradas (más recientes primero).
func (q *DeadLetterQueue) List(ctx context.Context, n int64) ([]contingency.DeadLetter, error) {
	if n <= 0 {
		n = 50
	}
	raw, err := q.rdb.LRange(ctx, q.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("dlq: leer: %w", err)
	}
	out := make([]contingency.DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl contingency.DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}
