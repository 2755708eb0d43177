// Package storage persiste los artefactos renderizados (PDF/XML) en disco.
//
// Clave de almacenamiento: <namespace>/<empresa>/<documento>/<kind>/<version>/<archivo>
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// LocalArtifactStore implementa billing.ArtifactStore sobre el sistema de archivos.
type LocalArtifactStore struct {
	root      string
	namespace string
}

// NewLocalArtifactStore crea el directorio raíz si no existe.
func NewLocalArtifactStore(root, namespace string) (*LocalArtifactStore, error) {
	namespace = strings.Trim(namespace, "/")
	if namespace == "" || !validSegment(namespace) {
		return nil, fmt.Errorf("storage: namespace inválido %q", namespace)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: raíz %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("storage: crear raíz: %w", err)
	}
	return &LocalArtifactStore{root: abs, namespace: namespace}, nil
}

// Store escribe los bytes de forma atómica (archivo temporal + rename) y devuelve clave y checksum.
func (s *LocalArtifactStore) Store(_ context.Context, ref billing.ArtifactRef, data []byte, filename, contentType string) (*billing.StoredArtifact, error) {
	for _, seg := range []string{ref.CompanyID, ref.DocumentID, ref.Kind, ref.Version, filename} {
		if !validSegment(seg) {
			return nil, fmt.Errorf("%w: segmento de clave inválido %q", domain.ErrInvalidInput, seg)
		}
	}
	key := path.Join(s.namespace, ref.CompanyID, ref.DocumentID, ref.Kind, ref.Version, filename)
	full := filepath.Join(s.root, filepath.FromSlash(key))

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op tras el rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	sum := sha256.Sum256(data)
	if contentType == "" {
		contentType = contentTypeFor(filename)
	}
	return &billing.StoredArtifact{
		StorageKey:  key,
		Checksum:    hex.EncodeToString(sum[:]),
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

// Load lee un artefacto. Rechaza claves fuera del namespace o que escapen de la raíz.
func (s *LocalArtifactStore) Load(_ context.Context, storageKey string) ([]byte, string, error) {
	if storageKey == "" || strings.Contains(storageKey, "\\") || strings.ContainsRune(storageKey, 0) {
		return nil, "", fmt.Errorf("%w: clave de almacenamiento inválida", domain.ErrInvalidInput)
	}
	clean := path.Clean("/" + storageKey)[1:]
	if clean != storageKey || !strings.HasPrefix(clean, s.namespace+"/") {
		return nil, "", fmt.Errorf("%w: clave fuera del namespace público", domain.ErrInvalidInput)
	}
	full := filepath.Join(s.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, "", fmt.Errorf("%w: la clave escapa de la raíz", domain.ErrInvalidInput)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: artefacto %s", domain.ErrNotFound, storageKey)
		}
		return nil, "", fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return data, contentTypeFor(clean), nil
}

func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return entity.ContentTypePDF
	case ".xml":
		return entity.ContentTypeXML
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
