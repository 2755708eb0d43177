package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/domain"
)

// Modos del simulador.
const (
	DevModeAccept      = "accept"
	DevModeReject      = "reject"
	DevModeUnavailable = "unavailable"
)

// DevClient simula al proveedor para desarrollo local (PROVIDER_MODE=dev).
// Asigna folios definitivos correlativos por tipo de DTE y devuelve el DTE como XML oficial.
type DevClient struct {
	mu     sync.Mutex
	mode   string
	folios map[int]int64
	issued map[string]*billing.ProviderResult // por clave de idempotencia
	byID   map[string][]byte
}

var _ billing.ProviderClient = (*DevClient)(nil)

func NewDevClient(mode string) *DevClient {
	if mode == "" {
		mode = DevModeAccept
	}
	return &DevClient{
		mode:   strings.ToLower(mode),
		folios: make(map[int]int64),
		issued: make(map[string]*billing.ProviderResult),
		byID:   make(map[string][]byte),
	}
}

// SetMode cambia el comportamiento en caliente (útil en pruebas manuales).
func (c *DevClient) SetMode(mode string) {
	c.mu.Lock()
	c.mode = strings.ToLower(mode)
	c.mu.Unlock()
}

func (c *DevClient) IssueInvoice(ctx context.Context, snapshot []byte, key string) (*billing.ProviderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.mode {
	case DevModeUnavailable:
		return nil, domain.NewTransientProviderError(503, "simulador fuera de servicio")
	case DevModeReject:
		return nil, domain.NewPermanentProviderError(422, "rechazo simulado", "RUT receptor inválido")
	}

	if prev, ok := c.issued[key]; ok {
		return prev, nil
	}
	snap, err := billing.DecodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	xmlDoc, _, err := BuildDTE(snap)
	if err != nil {
		return nil, err
	}
	tipo := TipoDTE(snap.DocumentType, snap.TaxMode)
	c.folios[tipo]++
	res := &billing.ProviderResult{
		Provider:            "dev",
		ProviderDocumentID:  uuid.NewString(),
		TrackID:             fmt.Sprintf("TRK-%d", 100000+len(c.issued)),
		Number:              fmt.Sprintf("%d-%d", tipo, c.folios[tipo]),
		OfficialDocument:    xmlDoc,
		OfficialContentType: "application/xml",
	}
	res.Raw = []byte(fmt.Sprintf(`{"id":%q,"trackId":%q,"number":%q,"status":"sent"}`, res.ProviderDocumentID, res.TrackID, res.Number))
	c.issued[key] = res
	c.byID[res.ProviderDocumentID] = xmlDoc
	return res, nil
}

func (c *DevClient) FetchDocument(ctx context.Context, id string) (*billing.RemoteDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: documento %s en el simulador", domain.ErrNotFound, id)
	}
	return &billing.RemoteDocument{ContentType: "application/xml", Filename: id + ".xml", Data: data}, nil
}
