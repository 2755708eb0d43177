package provider

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/domain"
)

const (
	maxResponseBytes = 1 << 20
	maxDocumentBytes = 10 << 20

	// DigestHeader digest SHA-256 (Base64) del XML canónico enviado.
	DigestHeader = "X-Content-Digest"
)

// HTTPConfig configuración del cliente REST del proveedor.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Name       string // nombre del proveedor persistido en el documento
	Timeout    time.Duration
	ClientCert *tls.Certificate
}

// HTTPClient emite DTE contra la API REST del proveedor.
type HTTPClient struct {
	baseURL string
	apiKey  string
	name    string
	http    *http.Client
	// signer certificado con llave RSA para firmar el DTE; nil envía el XML sin firma.
	signer *tls.Certificate
	now    func() time.Time
}

var _ billing.ProviderClient = (*HTTPClient)(nil)

// issueResponse cuerpo JSON de POST /v1/documents.
type issueResponse struct {
	ID          string   `json:"id"`
	TrackID     string   `json:"trackId"`
	Number      string   `json:"number"`
	Status      string   `json:"status"`
	Document    string   `json:"document"` // XML timbrado en Base64
	ContentType string   `json:"contentType"`
	Message     string   `json:"message"`
	Errors      []string `json:"errors"`
}

// NewHTTPClient valida la URL base y arma el transporte (mTLS si hay certificado).
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider: URL base inválida %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = u.Host
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ClientCert != nil {
		transport.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{*cfg.ClientCert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	c := &HTTPClient{
		baseURL: u.String(),
		apiKey:  cfg.APIKey,
		name:    cfg.Name,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		now:     time.Now,
	}
	if cfg.ClientCert != nil {
		if _, ok := cfg.ClientCert.PrivateKey.(*rsa.PrivateKey); ok {
			c.signer = cfg.ClientCert
		}
	}
	return c, nil
}

// IssueInvoice convierte el snapshot en DTE (firmado si hay certificado RSA) y lo envía. La clave de idempotencia viaja
// en la cabecera para que el proveedor deduplique reintentos.
func (c *HTTPClient) IssueInvoice(ctx context.Context, snapshot []byte, idempotencyKey string) (*billing.ProviderResult, error) {
	snap, err := billing.DecodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	body, digest, err := BuildDTE(snap)
	if err != nil {
		return nil, err
	}
	if c.signer != nil {
		if body, err = SignDTE(body, *c.signer, c.now()); err != nil {
			return nil, err
		}
		sum := sha256.Sum256(body)
		digest = base64.StdEncoding.EncodeToString(sum[:])
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/documents", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	req.Header.Set(DigestHeader, "sha-256="+digest)
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	var parsed issueResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, parsed, raw)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("provider: respuesta no JSON (HTTP %d): %w", resp.StatusCode, decodeErr)
	}
	if strings.EqualFold(parsed.Status, "rejected") {
		return nil, domain.NewPermanentProviderError(resp.StatusCode, messageOr(parsed, "documento rechazado"), parsed.Errors...)
	}
	if parsed.ID == "" {
		return nil, fmt.Errorf("provider: respuesta sin id de documento")
	}

	res := &billing.ProviderResult{
		Provider:           c.name,
		ProviderDocumentID: parsed.ID,
		TrackID:            parsed.TrackID,
		Number:             parsed.Number,
		Raw:                raw,
	}
	if parsed.Document != "" {
		official, err := base64.StdEncoding.DecodeString(parsed.Document)
		if err != nil {
			return nil, fmt.Errorf("provider: documento oficial no es Base64: %w", err)
		}
		res.OfficialDocument = official
		res.OfficialContentType = parsed.ContentType
		if res.OfficialContentType == "" {
			res.OfficialContentType = "application/xml"
		}
	}
	return res, nil
}

// FetchDocument descarga la representación oficial para reconciliación.
func (c *HTTPClient) FetchDocument(ctx context.Context, providerDocumentID string) (*billing.RemoteDocument, error) {
	if providerDocumentID == "" {
		return nil, fmt.Errorf("%w: id de documento del proveedor vacío", domain.ErrInvalidInput)
	}
	endpoint := c.baseURL + "/v1/documents/" + url.PathEscape(providerDocumentID) + "/file"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: crear request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: documento %s en el proveedor", domain.ErrNotFound, providerDocumentID)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var parsed issueResponse
		_ = json.Unmarshal(data, &parsed)
		return nil, statusError(resp.StatusCode, parsed, data)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	filename := ""
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			filename = params["filename"]
		}
	}
	return &billing.RemoteDocument{ContentType: ct, Filename: filename, Data: data}, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// statusError clasifica la respuesta HTTP: 400/409/422 son rechazos de negocio;
// 408/425/429/5xx son transitorios. Lo demás queda sin clasificar.
func statusError(code int, parsed issueResponse, raw []byte) error {
	msg := messageOr(parsed, strings.TrimSpace(string(truncate(raw, 200))))
	switch {
	case code == http.StatusBadRequest, code == http.StatusConflict, code == http.StatusUnprocessableEntity:
		return domain.NewPermanentProviderError(code, msg, parsed.Errors...)
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests, code >= 500:
		return domain.NewTransientProviderError(code, msg)
	default:
		return fmt.Errorf("provider: respuesta inesperada HTTP %d: %s", code, msg)
	}
}

// transportError errores de red o timeout: siempre transitorios.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", domain.NewTransientProviderError(0, "request cancelado o timeout"), ctxErr)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewTransientProviderError(0, "timeout: "+err.Error())
	}
	return domain.NewTransientProviderError(0, "proveedor inalcanzable: "+err.Error())
}

func messageOr(parsed issueResponse, fallback string) string {
	if parsed.Message != "" {
		return parsed.Message
	}
	if fallback == "" {
		return "sin detalle"
	}
	return fallback
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
