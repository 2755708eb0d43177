package billing_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/memstore"
)

const companyID = "11111111-1111-1111-1111-111111111111"

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// stubProvider devuelve lo que indique issue; por defecto emite con folio 33-<n>.
type stubProvider struct {
	mu    sync.Mutex
	calls atomic.Int32
	issue func(snapshot []byte, key string) (*billing.ProviderResult, error)
}

func (p *stubProvider) IssueInvoice(_ context.Context, snapshot []byte, key string) (*billing.ProviderResult, error) {
	n := p.calls.Add(1)
	p.mu.Lock()
	fn := p.issue
	p.mu.Unlock()
	if fn != nil {
		return fn(snapshot, key)
	}
	return &billing.ProviderResult{
		Provider:            "stub",
		ProviderDocumentID:  fmt.Sprintf("ext-%d", n),
		TrackID:             fmt.Sprintf("T-%d", n),
		Number:              fmt.Sprintf("33-%d", n),
		OfficialDocument:    []byte("<DTE/>"),
		OfficialContentType: entity.ContentTypeXML,
		Raw:                 []byte(`{"status":"sent"}`),
	}, nil
}

func (p *stubProvider) FetchDocument(context.Context, string) (*billing.RemoteDocument, error) {
	return &billing.RemoteDocument{ContentType: entity.ContentTypeXML, Data: []byte("<DTE/>")}, nil
}

// stubBreaker variante con Available().
type stubBreaker struct {
	*stubProvider
	up bool
}

func (b stubBreaker) Available() bool { return b.up }

type fakeRenderer struct{}

func (fakeRenderer) RenderFiscal(_ context.Context, doc *entity.FiscalDocument, _ *billing.IssuanceSnapshot, version string) ([]byte, error) {
	return []byte("%PDF-fake " + version + " " + doc.DisplayNumber()), nil
}

func (fakeRenderer) RenderNonFiscal(_ context.Context, doc *entity.NonFiscalDocument, _ *entity.Company, _ []billing.SnapshotLine, _ string) ([]byte, error) {
	return []byte("%PDF-fake " + doc.Title), nil
}

type env struct {
	store    *memstore.Store
	blobs    *memstore.Blobs
	provider *stubProvider
	uc       *billing.IssuanceCoordinator
}

type envOption func(*billing.IssuanceConfig, *billing.PayloadCipher, *billing.ProviderClient)

func withRetryUnclassified() envOption {
	return func(c *billing.IssuanceConfig, _ *billing.PayloadCipher, _ *billing.ProviderClient) {
		c.RetryUnclassified = true
	}
}

func withCipher(cp billing.PayloadCipher) envOption {
	return func(_ *billing.IssuanceConfig, c *billing.PayloadCipher, _ *billing.ProviderClient) { *c = cp }
}

func withProvider(p billing.ProviderClient) envOption {
	return func(_ *billing.IssuanceConfig, _ *billing.PayloadCipher, pc *billing.ProviderClient) { *pc = p }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	store := memstore.New()
	store.Companies().Put(&entity.Company{ID: companyID, Name: "Ferretería Ñuñoa", TaxID: "76.123.456-7"})
	blobs := memstore.NewBlobs()
	prov := &stubProvider{}

	cfg := billing.IssuanceConfig{ProviderTimeout: time.Second}
	var cipher billing.PayloadCipher
	var client billing.ProviderClient = prov
	for _, o := range opts {
		o(&cfg, &cipher, &client)
	}
	artifacts := billing.NewArtifacts(blobs, fakeRenderer{})
	uc := billing.NewIssuanceCoordinator(store.Repos(), store, store.Companies(), client, artifacts, cipher,
		fixedClock{time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}, cfg, zerolog.Nop())
	return &env{store: store, blobs: blobs, provider: prov, uc: uc}
}

func factura() *dto.IssueInvoiceRequest {
	return &dto.IssueInvoiceRequest{
		DocumentType: entity.DocumentTypeFactura,
		Receiver:     &dto.ReceiverRequest{TaxID: "11.111.111-1", Name: "Cliente"},
		Items: []dto.InvoiceItemRequest{
			{Code: "A1", Description: "Martillo", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(500)},
		},
	}
}

func filesOf(doc *dto.FiscalDocumentResponse, version string) []dto.DocumentFileResponse {
	var out []dto.DocumentFileResponse
	for _, f := range doc.Files {
		if f.Version == version {
			out = append(out, f)
		}
	}
	return out
}
