package billing_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/crypto"
)

func TestIssueInvoice_ForceOffline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	doc, err := e.uc.IssueInvoice(ctx, companyID, factura(), "k-1", true, "")
	require.NoError(t, err)

	assert.Equal(t, entity.FiscalStatusOfflinePending, doc.Status)
	assert.True(t, doc.Offline)
	assert.Empty(t, doc.Number)
	assert.Equal(t, "F-00000001", doc.ProvisionalNumber)
	assert.Len(t, filesOf(doc, entity.FileVersionLocal), 1)
	assert.Empty(t, filesOf(doc, entity.FileVersionOfficial))
	assert.Equal(t, int32(0), e.provider.calls.Load(), "en contingencia no se llama al proveedor")

	item, err := e.store.Repos().Queue.GetByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, entity.FiscalStatusOfflinePending, item.Status)
	assert.NotEmpty(t, item.PayloadSnapshot)

	snap, err := billing.DecodeSnapshot(item.PayloadSnapshot)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, snap.DocumentID)
	assert.Equal(t, "F-00000001", snap.ProvisionalNumber)
	assert.Equal(t, "76.123.456-7", snap.Issuer.TaxID)
	assert.True(t, decimal.NewFromInt(1190).Equal(snap.Totals.Total))
}

func TestIssueInvoice_ConnectivityHintAndOpenBreaker(t *testing.T) {
	e := newEnv(t)
	doc, err := e.uc.IssueInvoice(context.Background(), companyID, factura(), "k-hint", false, billing.HintUnavailable)
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusOfflinePending, doc.Status)

	prov := &stubProvider{}
	e2 := newEnv(t, withProvider(stubBreaker{stubProvider: prov, up: false}))
	doc, err = e2.uc.IssueInvoice(context.Background(), companyID, factura(), "k-cb", false, "")
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusOfflinePending, doc.Status)
	assert.Contains(t, doc.ErrorDetail, "circuit breaker")
	assert.Equal(t, int32(0), prov.calls.Load())
}

func TestIssueInvoice_OnlineSuccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	doc, err := e.uc.IssueInvoice(ctx, companyID, factura(), "k-online", false, "")
	require.NoError(t, err)

	assert.Equal(t, entity.FiscalStatusSent, doc.Status)
	assert.False(t, doc.Offline)
	assert.Equal(t, "33-1", doc.Number)
	assert.Equal(t, "ext-1", doc.ProviderDocumentID)
	assert.Len(t, filesOf(doc, entity.FileVersionOfficial), 2, "PDF oficial + XML del proveedor")

	item, err := e.store.Repos().Queue.GetByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, item)

	f, err := e.uc.Download(ctx, companyID, doc.ID, "official", "")
	require.NoError(t, err)
	assert.Equal(t, entity.ContentTypePDF, f.ContentType)
	assert.Equal(t, "33-1.pdf", f.Filename)

	x, err := e.uc.Download(ctx, companyID, doc.ID, entity.FileVersionOfficial, "xml")
	require.NoError(t, err)
	assert.Equal(t, []byte("<DTE/>"), x.Data)
}

func TestIssueInvoice_PermanentRejection(t *testing.T) {
	e := newEnv(t)
	e.provider.issue = func([]byte, string) (*billing.ProviderResult, error) {
		return nil, domain.NewPermanentProviderError(422, "Rule violation")
	}
	ctx := context.Background()

	doc, err := e.uc.IssueInvoice(ctx, companyID, factura(), "k-rej", false, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermanentProvider)
	require.NotNil(t, doc, "el rechazo devuelve el documento FAILED")
	assert.Equal(t, entity.FiscalStatusFailed, doc.Status)
	assert.False(t, doc.Offline)
	assert.Contains(t, doc.ErrorDetail, "Rule violation")

	item, err := e.store.Repos().Queue.GetByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestIssueInvoice_TransientFallsBackToQueue(t *testing.T) {
	e := newEnv(t)
	e.provider.issue = func([]byte, string) (*billing.ProviderResult, error) {
		return nil, domain.NewTransientProviderError(503, "mantención")
	}
	ctx := context.Background()

	doc, err := e.uc.IssueInvoice(ctx, companyID, factura(), "k-tr", false, "")
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusOfflinePending, doc.Status)
	assert.True(t, doc.Offline)
	assert.Contains(t, doc.ErrorDetail, "mantención")
	assert.Len(t, filesOf(doc, entity.FileVersionLocal), 1)

	item, err := e.store.Repos().Queue.GetByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, item)
}

func TestIssueInvoice_TimeoutIsTransient(t *testing.T) {
	e := newEnv(t)
	e.provider.issue = func([]byte, string) (*billing.ProviderResult, error) {
		return nil, context.DeadlineExceeded
	}
	doc, err := e.uc.IssueInvoice(context.Background(), companyID, factura(), "k-to", false, "")
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusOfflinePending, doc.Status)
}

func TestIssueInvoice_Unclassified(t *testing.T) {
	boom := errors.New("respuesta sin sentido")

	e := newEnv(t)
	e.provider.issue = func([]byte, string) (*billing.ProviderResult, error) { return nil, boom }
	doc, err := e.uc.IssueInvoice(context.Background(), companyID, factura(), "k-u", false, "")
	assert.ErrorIs(t, err, domain.ErrUnexpectedProvider)
	require.NotNil(t, doc)
	assert.Equal(t, entity.FiscalStatusFailed, doc.Status)

	retry := newEnv(t, withRetryUnclassified())
	retry.provider.issue = func([]byte, string) (*billing.ProviderResult, error) { return nil, boom }
	doc, err = retry.uc.IssueInvoice(context.Background(), companyID, factura(), "k-u", false, "")
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusOfflinePending, doc.Status)
}

func TestIssueInvoice_IdempotentReplay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.uc.IssueInvoice(ctx, companyID, factura(), "k-same", false, "")
	require.NoError(t, err)

	// Mismo payload con otro hint y texto sin normalizar: sigue siendo la misma emisión.
	again := factura()
	again.Items[0].Description = "  Martillo "
	again.ConnectivityHint = billing.HintOffline
	second, err := e.uc.IssueInvoice(ctx, companyID, again, "k-same", true, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Number, second.Number)
	assert.Equal(t, int32(1), e.provider.calls.Load())
	assert.Equal(t, 1, e.store.CountDocuments())
}

func TestIssueInvoice_IdempotencyConflict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.uc.IssueInvoice(ctx, companyID, factura(), "k-c", true, "")
	require.NoError(t, err)

	other := factura()
	other.Items[0].Quantity = decimal.NewFromInt(3)
	_, err = e.uc.IssueInvoice(ctx, companyID, other, "k-c", true, "")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = e.uc.IssueInvoice(ctx, "22222222-2222-2222-2222-222222222222", factura(), "k-c", true, "")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict, "otra empresa no puede reutilizar la clave")
	assert.Equal(t, 1, e.store.CountDocuments())
}

func TestIssueInvoice_ConflictOnFinePrecision(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := factura()
	first.Items[0].Quantity = decimal.RequireFromString("1.0000001")
	doc, err := e.uc.IssueInvoice(ctx, companyID, first, "k-p", true, "")
	require.NoError(t, err)

	second := factura()
	second.Items[0].Quantity = decimal.RequireFromString("1.0000004")
	_, err = e.uc.IssueInvoice(ctx, companyID, second, "k-p", true, "")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict, "cantidades distintas más allá del 6.º decimal")

	// Ceros a la derecha no cambian el valor: es la misma venta.
	same := factura()
	same.Items[0].Quantity = decimal.RequireFromString("1.00000010")
	replay, err := e.uc.IssueInvoice(ctx, companyID, same, "k-p", true, "")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, replay.ID)
	assert.Equal(t, 1, e.store.CountDocuments())
}

func TestIssueInvoice_ConcurrentSameKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := e.uc.IssueInvoice(ctx, companyID, factura(), "k-race", false, "")
			errs[i] = err
			if doc != nil {
				ids[i] = doc.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, e.store.CountDocuments())
}

func TestIssueInvoice_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cases := map[string]func(r *dto.IssueInvoiceRequest) string{
		"sin clave":          func(r *dto.IssueInvoiceRequest) string { return "" },
		"clave muy larga":    func(r *dto.IssueInvoiceRequest) string { return strings.Repeat("x", 129) },
		"tipo inválido":      func(r *dto.IssueInvoiceRequest) string { r.DocumentType = "NOTA"; return "k" },
		"factura sin RUT":    func(r *dto.IssueInvoiceRequest) string { r.Receiver = nil; return "k" },
		"sin ítems":          func(r *dto.IssueInvoiceRequest) string { r.Items = nil; return "k" },
		"cantidad cero":      func(r *dto.IssueInvoiceRequest) string { r.Items[0].Quantity = decimal.Zero; return "k" },
		"prefijo inválido":   func(r *dto.IssueInvoiceRequest) string { r.Prefix = "F-01"; return "k" },
		"modalidad inválida": func(r *dto.IssueInvoiceRequest) string { r.TaxMode = "MIXTA"; return "k" },
	}
	for name, mutate := range cases {
		req := factura()
		key := mutate(req)
		_, err := e.uc.IssueInvoice(ctx, companyID, req, key, true, "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput, name)
	}
	assert.Equal(t, 0, e.store.CountDocuments(), "la validación no deja efectos")
}

func TestIssueInvoice_BoletaExentaAndPrefix(t *testing.T) {
	e := newEnv(t)
	req := &dto.IssueInvoiceRequest{
		DocumentType: "boleta",
		TaxMode:      "exenta",
		Prefix:       "caja2",
		Items:        []dto.InvoiceItemRequest{{Description: "Libro", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("9990.5")}},
	}
	doc, err := e.uc.IssueInvoice(context.Background(), companyID, req, "k-b", true, "")
	require.NoError(t, err)
	assert.Equal(t, "CAJA2-00000001", doc.ProvisionalNumber)
	assert.True(t, doc.TaxAmount.IsZero())
	assert.True(t, decimal.RequireFromString("9990.5").Equal(doc.ExemptAmount))
	assert.True(t, doc.ExemptAmount.Equal(doc.TotalAmount))
}

func TestIssueInvoice_StorageFailureThenReplayRerenders(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.blobs.SetFailWrites(true)

	_, err := e.uc.IssueInvoice(ctx, companyID, factura(), "k-st", true, "")
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, 1, e.store.CountDocuments(), "el documento queda registrado")
	assert.Equal(t, 1, e.store.CountQueueItems())

	e.blobs.SetFailWrites(false)
	doc, err := e.uc.IssueInvoice(ctx, companyID, factura(), "k-st", true, "")
	require.NoError(t, err)
	assert.Len(t, filesOf(doc, entity.FileVersionLocal), 1, "el reintento regenera el PDF faltante")
	assert.Equal(t, 1, e.store.CountDocuments())
}

func TestIssueInvoice_EncryptedSnapshot(t *testing.T) {
	key, err := crypto.GenerateKey(32)
	require.NoError(t, err)
	cipher, err := crypto.NewPayloadCipher(key)
	require.NoError(t, err)

	e := newEnv(t, withCipher(cipher))
	ctx := context.Background()
	doc, err := e.uc.IssueInvoice(ctx, companyID, factura(), "k-enc", true, "")
	require.NoError(t, err)

	item, err := e.store.Repos().Queue.GetByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Empty(t, item.PayloadSnapshot, "en reposo solo se guarda el blob cifrado")
	require.NotEmpty(t, item.EncryptedPayload)

	plain, err := cipher.Decrypt(item.EncryptedPayload)
	require.NoError(t, err)
	snap, err := billing.DecodeSnapshot(plain)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, snap.DocumentID)
}

func TestGetDocumentAndDownload_Ownership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc, err := e.uc.IssueInvoice(ctx, companyID, factura(), "k-own", true, "")
	require.NoError(t, err)

	got, err := e.uc.GetDocument(ctx, companyID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	_, err = e.uc.GetDocument(ctx, "otra", doc.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.uc.GetDocument(ctx, companyID, "no-existe")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f, err := e.uc.Download(ctx, companyID, doc.ID, entity.FileVersionLocal, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(f.Data), "%PDF"))

	_, err = e.uc.Download(ctx, companyID, doc.ID, entity.FileVersionOfficial, "")
	assert.ErrorIs(t, err, domain.ErrNotFound, "en contingencia aún no hay versión oficial")
	_, err = e.uc.Download(ctx, companyID, doc.ID, "DRAFT", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
