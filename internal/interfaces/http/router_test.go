package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/application/contingency"
	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/application/webhook"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/memstore"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/pdf"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/provider"
	apphttp "github.com/jhoicas/Facturacion-api/internal/interfaces/http"
	pkgjwt "github.com/jhoicas/Facturacion-api/pkg/jwt"
)

const webhookSecret = "whsec-test"

type stack struct {
	app   *fiber.App
	store *memstore.Store
	dev   *provider.DevClient
}

func newStack(t *testing.T) *stack {
	t.Helper()
	store := memstore.New()
	store.Companies().Put(&entity.Company{ID: testCompanyID, Name: "Botillería El Roble", TaxID: "77.777.777-7"})
	dev := provider.NewDevClient(provider.DevModeAccept)
	artifacts := billing.NewArtifacts(memstore.NewBlobs(), pdf.NewMarotoRenderer())
	clock := billing.SystemClock{}
	log := zerolog.Nop()

	issuance := billing.NewIssuanceCoordinator(store.Repos(), store, store.Companies(), dev, artifacts, nil, clock,
		billing.IssuanceConfig{ProviderTimeout: time.Second}, log)
	nonFiscal := billing.NewNonFiscalUseCase(store.NonFiscal(), store.Repos().Files, store.Companies(),
		pdf.NewMarotoRenderer(), artifacts, clock)
	engine := contingency.NewEngine(store.Repos(), store, dev, artifacts, nil, clock, nil,
		contingency.Config{Enabled: true}, log)
	ingestor := webhook.NewIngestor(store.Repos().Documents, store.Repos().Files, dev, artifacts, clock,
		webhookSecret, time.Minute, log)

	app := fiber.New()
	apphttp.Router(app, apphttp.RouterDeps{
		Issuance:  issuance,
		NonFiscal: nonFiscal,
		Webhooks:  ingestor,
		Engine:    engine,
		Scheduler: contingency.NewScheduler(engine, time.Hour, nil, log),
		JWTSecret: testJWTSecret,
	})
	return &stack{app: app, store: store, dev: dev}
}

func (s *stack) do(t *testing.T, method, path, role string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", tokenForRole(t, role))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func boletaBody() map[string]any {
	return map[string]any{
		"document_type": "BOLETA",
		"items": []map[string]any{
			{"description": "Agua mineral 1,5L", "quantity": "2", "unit_price": "990"},
		},
	}
}

func TestRouter_HealthIsPublic(t *testing.T) {
	s := newStack(t)
	resp, _ := s.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/fiscal-documents/x", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_OfflineIssueThenSync(t *testing.T) {
	s := newStack(t)

	resp, body := s.do(t, http.MethodPost, "/api/fiscal-documents", pkgjwt.RoleCashier, boletaBody(),
		map[string]string{apphttp.HeaderIdempotencyKey: "caja1-0001", apphttp.HeaderForceOffline: "true"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var doc dto.FiscalDocumentResponse
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, entity.FiscalStatusOfflinePending, doc.Status)
	assert.True(t, doc.Offline)
	assert.Equal(t, "B-00000001", doc.ProvisionalNumber)

	resp, body = s.do(t, http.MethodGet, "/api/fiscal-documents/"+doc.ID+"/files/local", pkgjwt.RoleAuditor, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))

	// Solo admin opera la cola.
	resp, _ = s.do(t, http.MethodPost, "/api/contingency/run", pkgjwt.RoleCashier, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/contingency/run", pkgjwt.RoleAdmin, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var run dto.RunSyncResponse
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, 1, run.Synced)

	resp, body = s.do(t, http.MethodGet, "/api/fiscal-documents/"+doc.ID, pkgjwt.RoleAuditor, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, entity.FiscalStatusSent, doc.Status)
	assert.Equal(t, "39-1", doc.Number)
	assert.Equal(t, "B-00000001", doc.ProvisionalNumber)

	resp, body = s.do(t, http.MethodGet, "/api/fiscal-documents/"+doc.ID+"/files/official?type=xml", pkgjwt.RoleAuditor, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "<DTE")

	resp, body = s.do(t, http.MethodGet, "/api/contingency/stats", pkgjwt.RoleAdmin, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats dto.ContingencyStatsResponse
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, int64(1), stats.Synced)
}

func TestRouter_IssueErrors(t *testing.T) {
	s := newStack(t)
	issue := func(role, key string, body map[string]any) (*http.Response, []byte) {
		return s.do(t, http.MethodPost, "/api/fiscal-documents", role, body,
			map[string]string{apphttp.HeaderIdempotencyKey: key})
	}

	resp, _ := issue(pkgjwt.RoleAuditor, "k1", boletaBody())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "auditor no emite")

	resp, body := issue(pkgjwt.RoleCashier, "", boletaBody())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "VALIDATION")

	resp, _ = issue(pkgjwt.RoleCashier, "k1", boletaBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	other := boletaBody()
	other["sale_reference"] = "VTA-9"
	resp, body = issue(pkgjwt.RoleCashier, "k1", other)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "IDEMPOTENCY_CONFLICT")

	s.dev.SetMode(provider.DevModeReject)
	resp, body = issue(pkgjwt.RoleCashier, "k2", boletaBody())
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var errBody dto.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, "PROVIDER_REJECTED", errBody.Code)
	require.NotNil(t, errBody.Document, "el rechazo incluye el documento FAILED")
	assert.Equal(t, entity.FiscalStatusFailed, errBody.Document.Status)
	assert.False(t, errBody.Document.Offline)

	s.dev.SetMode(provider.DevModeUnavailable)
	resp, body = issue(pkgjwt.RoleCashier, "k3", boletaBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, string(body), `"offline":true`)
}

// La clave de idempotencia guardada no debe compartir memoria con el buffer del request:
// fasthttp lo reutiliza en la siguiente petición.
func TestRouter_IdempotencyKeySurvivesBufferReuse(t *testing.T) {
	s := newStack(t)
	issue := func(key string) (*http.Response, dto.FiscalDocumentResponse) {
		resp, body := s.do(t, http.MethodPost, "/api/fiscal-documents", pkgjwt.RoleCashier, boletaBody(),
			map[string]string{apphttp.HeaderIdempotencyKey: key})
		var doc dto.FiscalDocumentResponse
		require.NoError(t, json.Unmarshal(body, &doc))
		return resp, doc
	}

	resp, first := issue("caja7-a1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, second := issue("caja7-b2")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEqual(t, first.ID, second.ID, "otra clave es otra emisión")
	assert.Equal(t, "caja7-b2", second.IdempotencyKey)

	_, replay := issue("caja7-a1")
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, "caja7-a1", replay.IdempotencyKey)
	assert.Equal(t, 2, s.store.CountDocuments())
}

func TestRouter_Webhook(t *testing.T) {
	s := newStack(t)

	resp, body := s.do(t, http.MethodPost, "/api/fiscal-documents", pkgjwt.RoleCashier, boletaBody(),
		map[string]string{apphttp.HeaderIdempotencyKey: "wh-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var doc dto.FiscalDocumentResponse
	require.NoError(t, json.Unmarshal(body, &doc))
	require.NotEmpty(t, doc.ProviderDocumentID)

	event, err := json.Marshal(dto.ProviderWebhookEvent{DocumentID: doc.ProviderDocumentID, Status: "accepted"})
	require.NoError(t, err)

	post := func(sig string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(event))
		req.Header.Set("Content-Type", "application/json")
		if sig != "" {
			req.Header.Set(webhook.SignatureHeader, sig)
		}
		r, err := s.app.Test(req, -1)
		require.NoError(t, err)
		return r
	}

	r := post("")
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)
	r.Body.Close()

	r = post(webhook.Sign([]byte("otro"), time.Now(), event))
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)
	r.Body.Close()

	r = post(webhook.Sign([]byte(webhookSecret), time.Now(), event))
	require.Equal(t, http.StatusOK, r.StatusCode)
	var res dto.WebhookResult
	require.NoError(t, json.NewDecoder(r.Body).Decode(&res))
	r.Body.Close()
	assert.True(t, res.Applied)
	assert.Equal(t, entity.FiscalStatusAccepted, res.Status)

	got, err := s.store.Repos().Documents.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusAccepted, got.Status)
}

func TestRouter_NonFiscalAndDeadLetters(t *testing.T) {
	s := newStack(t)

	resp, body := s.do(t, http.MethodPost, "/api/non-fiscal-documents", pkgjwt.RoleAdmin, map[string]any{
		"title":     "Cotización",
		"reference": "COT-1",
		"items":     []map[string]any{{"description": "Vino tinto", "quantity": "12", "unit_price": "4500"}},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var nf dto.NonFiscalDocumentResponse
	require.NoError(t, json.Unmarshal(body, &nf))
	assert.Equal(t, entity.NonFiscalStatusReady, nf.Status)

	resp, body = s.do(t, http.MethodGet, "/api/non-fiscal-documents/"+nf.ID+"/file", pkgjwt.RoleAuditor, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))

	resp, body = s.do(t, http.MethodGet, "/api/contingency/dead-letters", pkgjwt.RoleAdmin, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}
