package redisq

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/Facturacion-api/internal/application/contingency"
)

// SyncLockKey lock de la pasada del motor de contingencia.
const SyncLockKey = "lock:contingency-sync"

// releaseScript borra la clave solo si el token sigue siendo el nuestro.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock lock distribuido SET NX PX para que una sola réplica drene la cola.
type RunLock struct {
	rdb *redis.Client
	key string
}

var _ contingency.RunLock = (*RunLock)(nil)

func NewRunLock(rdb *redis.Client, key string) *RunLock {
	if key == "" {
		key = SyncLockKey
	}
	return &RunLock{rdb: rdb, key: key}
}

// TryAcquire release == nil si otra réplica tiene el lock.
func (l *RunLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return func() {
		// el ctx del tick puede estar cancelado; se libera igual.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.rdb, []string{l.key}, token).Err()
	}, nil
}
