package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// IssueInvoiceRequest body para POST /api/fiscal-documents.
// La Idempotency-Key viaja en la cabecera.
type IssueInvoiceRequest struct {
	DocumentType  string               `json:"document_type"` // FACTURA | BOLETA
	TaxMode       string               `json:"tax_mode"`      // AFECTA | EXENTA
	Prefix        string               `json:"prefix,omitempty"`
	SaleReference string               `json:"sale_reference,omitempty"`
	Receiver      *ReceiverRequest     `json:"receiver,omitempty"`
	Items         []InvoiceItemRequest `json:"items"`
	Notes         string               `json:"notes,omitempty"`

	ForceOffline     bool   `json:"force_offline,omitempty"`
	ConnectivityHint string `json:"connectivity_hint,omitempty"` // online | unavailable | offline
}

// ReceiverRequest receptor del documento (obligatorio su RUT en FACTURA).
type ReceiverRequest struct {
	TaxID   string `json:"tax_id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
}

// InvoiceItemRequest línea del documento.
type InvoiceItemRequest struct {
	Code        string          `json:"code,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// FiscalDocumentResponse vista del documento fiscal.
type FiscalDocumentResponse struct {
	ID                 string                 `json:"id"`
	CompanyID          string                 `json:"company_id"`
	DocumentType       string                 `json:"document_type"`
	TaxMode            string                 `json:"tax_mode"`
	Status             string                 `json:"status"`
	Number             string                 `json:"number,omitempty"`
	ProvisionalNumber  string                 `json:"provisional_number"`
	IdempotencyKey     string                 `json:"idempotency_key"`
	SaleReference      string                 `json:"sale_reference,omitempty"`
	TrackID            string                 `json:"track_id,omitempty"`
	Provider           string                 `json:"provider,omitempty"`
	ProviderDocumentID string                 `json:"provider_document_id,omitempty"`
	Offline            bool                   `json:"offline"`
	SyncAttempts       int                    `json:"sync_attempts"`
	LastSyncAt         *time.Time             `json:"last_sync_at,omitempty"`
	ErrorDetail        string                 `json:"error_detail,omitempty"`
	NetAmount          decimal.Decimal        `json:"net_amount"`
	ExemptAmount       decimal.Decimal        `json:"exempt_amount"`
	TaxAmount          decimal.Decimal        `json:"tax_amount"`
	TotalAmount        decimal.Decimal        `json:"total_amount"`
	Files              []DocumentFileResponse `json:"files"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// DocumentFileResponse metadatos de un artefacto (sin bytes).
type DocumentFileResponse struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Version        string    `json:"version"`
	ContentType    string    `json:"content_type"`
	Filename       string    `json:"filename"`
	StorageKey     string    `json:"storage_key"`
	Checksum       string    `json:"checksum"`
	Size           int64     `json:"size"`
	PreviousFileID *string   `json:"previous_file_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateNonFiscalRequest body para POST /api/non-fiscal-documents.
type CreateNonFiscalRequest struct {
	Title     string               `json:"title"`
	Reference string               `json:"reference,omitempty"`
	Items     []InvoiceItemRequest `json:"items"`
	Notes     string               `json:"notes,omitempty"`
}

// NonFiscalDocumentResponse documento no tributario con su archivo.
type NonFiscalDocumentResponse struct {
	ID          string                `json:"id"`
	CompanyID   string                `json:"company_id"`
	Title       string                `json:"title"`
	Reference   string                `json:"reference,omitempty"`
	Status      string                `json:"status"`
	TotalAmount decimal.Decimal       `json:"total_amount"`
	File        *DocumentFileResponse `json:"file,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

// ProviderWebhookEvent cuerpo del webhook del proveedor.
type ProviderWebhookEvent struct {
	Provider   string       `json:"provider"`
	ExternalID string       `json:"externalId"`
	DocumentID string       `json:"documentId"`
	Status     string       `json:"status"`
	TrackID    string       `json:"trackId"`
	Number     string       `json:"number"`
	Links      WebhookLinks `json:"links"`
	Errors     []string     `json:"errors"`
}

// WebhookLinks enlaces a las representaciones oficiales.
type WebhookLinks struct {
	PDF string `json:"pdf,omitempty"`
	XML string `json:"xml,omitempty"`
}

// WebhookResult respuesta del endpoint de webhook.
type WebhookResult struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Applied    bool   `json:"applied"`
}

// ContingencyStatsResponse métricas del motor de contingencia.
type ContingencyStatsResponse struct {
	Enabled       bool           `json:"enabled"`
	Runs          int64          `json:"runs"`
	Synced        int64          `json:"synced"`
	Requeued      int64          `json:"requeued"`
	Failed        int64          `json:"failed"`
	Skipped       int64          `json:"skipped"`
	Orphans       int64          `json:"orphans"`
	LastLatencyMs int64          `json:"last_latency_ms"`
	AvgLatencyMs  int64          `json:"avg_latency_ms"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
	QueueByStatus map[string]int `json:"queue_by_status,omitempty"`
}

// RunSyncResponse resultado de POST /api/contingency/run.
type RunSyncResponse struct {
	Processed int `json:"processed"`
	Synced    int `json:"synced"`
	Requeued  int `json:"requeued"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// DeadLetterResponse entrada de la DLQ de documentos fallidos.
type DeadLetterResponse struct {
	DocumentID     string    `json:"document_id"`
	CompanyID      string    `json:"company_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Attempts       int       `json:"attempts"`
	Reason         string    `json:"reason"`
	FailedAt       time.Time `json:"failed_at"`
}
