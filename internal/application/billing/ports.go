package billing

import (
	"context"
	"time"

	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

// ProviderResult respuesta exitosa del proveedor de emisión.
type ProviderResult struct {
	Provider           string
	ProviderDocumentID string
	TrackID            string
	Number             string
	// Representación oficial (XML timbrado) si el proveedor la devuelve.
	OfficialDocument    []byte
	OfficialContentType string
	// Raw respuesta completa; se guarda cifrada en FiscalDocument.ProviderSnapshot.
	Raw []byte
}

// RemoteDocument snapshot remoto obtenido para reconciliación.
type RemoteDocument struct {
	ContentType string
	Filename    string
	Data        []byte
}

// ProviderClient colaborador externo que emite ante la autoridad tributaria.
// Los fallos se devuelven como *domain.ProviderError (transitorio o permanente).
type ProviderClient interface {
	IssueInvoice(ctx context.Context, snapshot []byte, idempotencyKey string) (*ProviderResult, error)
	FetchDocument(ctx context.Context, providerDocumentID string) (*RemoteDocument, error)
}

// ProviderAvailability lo implementan los clientes con circuit breaker.
type ProviderAvailability interface {
	Available() bool
}

// ArtifactRef identifica un artefacto dentro del almacén.
type ArtifactRef struct {
	CompanyID  string
	DocumentID string
	Kind       string // FISCAL | NON_FISCAL
	Version    string // LOCAL | OFFICIAL
}

// StoredArtifact resultado de ArtifactStore.Store.
type StoredArtifact struct {
	StorageKey  string
	Checksum    string // SHA-256 hex
	Size        int64
	ContentType string
}

// ArtifactStore persiste bytes renderizados.
type ArtifactStore interface {
	Store(ctx context.Context, ref ArtifactRef, data []byte, filename, contentType string) (*StoredArtifact, error)
	Load(ctx context.Context, storageKey string) ([]byte, string, error)
}

// DocumentRenderer genera la representación gráfica (PDF).
type DocumentRenderer interface {
	RenderFiscal(ctx context.Context, doc *entity.FiscalDocument, snap *IssuanceSnapshot, version string) ([]byte, error)
	RenderNonFiscal(ctx context.Context, doc *entity.NonFiscalDocument, company *entity.Company, lines []SnapshotLine, notes string) ([]byte, error)
}

// PayloadCipher cifrado en reposo de snapshots. nil = sin cifrado.
type PayloadCipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(blob []byte) ([]byte, error)
}

// Clock fuente de tiempo inyectable.
type Clock interface {
	Now() time.Time
}

// SystemClock reloj real en UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FiscalRepos repositorios que participan en la emisión y sincronización.
type FiscalRepos struct {
	Documents repository.FiscalDocumentRepository
	Queue     repository.ContingencyQueueRepository
	Files     repository.DocumentFileRepository
	Sequences repository.SequenceRepository
}

// FiscalTxRunner ejecuta fn con repos atados a una misma transacción.
type FiscalTxRunner interface {
	RunFiscal(ctx context.Context, fn func(r FiscalRepos) error) error
}
