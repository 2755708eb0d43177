package memstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"sync"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/domain"
)

// Blobs almacén de artefactos en memoria. SetFailWrites simula un disco caído.
type Blobs struct {
	mu         sync.RWMutex
	data       map[string]blob
	failWrites bool
}

type blob struct {
	bytes       []byte
	contentType string
}

var _ billing.ArtifactStore = (*Blobs)(nil)

func NewBlobs() *Blobs {
	return &Blobs{data: make(map[string]blob)}
}

func (b *Blobs) Store(_ context.Context, ref billing.ArtifactRef, data []byte, filename, contentType string) (*billing.StoredArtifact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return nil, fmt.Errorf("%w: escritura deshabilitada", domain.ErrStorage)
	}
	key := path.Join("mem", ref.CompanyID, ref.DocumentID, ref.Kind, ref.Version, filename)
	cp := append([]byte(nil), data...)
	b.data[key] = blob{bytes: cp, contentType: contentType}
	sum := sha256.Sum256(data)
	return &billing.StoredArtifact{
		StorageKey:  key,
		Checksum:    hex.EncodeToString(sum[:]),
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

func (b *Blobs) Load(_ context.Context, key string) ([]byte, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: artefacto %s", domain.ErrNotFound, key)
	}
	return append([]byte(nil), v.bytes...), v.contentType, nil
}

// SetFailWrites activa/desactiva el fallo de escritura.
func (b *Blobs) SetFailWrites(fail bool) {
	b.mu.Lock()
	b.failWrites = fail
	b.mu.Unlock()
}

// Len cantidad de artefactos guardados.
func (b *Blobs) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
