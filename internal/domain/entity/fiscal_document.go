package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tipos de documento tributario.
const (
	DocumentTypeFactura = "FACTURA"
	DocumentTypeBoleta  = "BOLETA"
)

// Modalidad tributaria del documento.
const (
	TaxModeAfecta = "AFECTA"
	TaxModeExenta = "EXENTA"
)

// Estados del documento fiscal (máquina de estados compartida con la cola de contingencia).
const (
	FiscalStatusProcessing     = "PROCESSING"      // Llamada online al proveedor en curso
	FiscalStatusOfflinePending = "OFFLINE_PENDING" // En contingencia, esperando sincronización
	FiscalStatusSyncing        = "SYNCING"         // Intento de sincronización en curso
	FiscalStatusSent           = "SENT"            // Emitido por el proveedor (folio definitivo)
	FiscalStatusAccepted       = "ACCEPTED"        // Aceptado por la autoridad (webhook)
	FiscalStatusRejected       = "REJECTED"        // Rechazado por la autoridad (webhook)
	FiscalStatusFailed         = "FAILED"          // Rechazo permanente o reintentos agotados
)

// FiscalDocument representa una factura o boleta emitida (o en contingencia).
type FiscalDocument struct {
	ID                 string
	CompanyID          string
	DocumentType       string // FACTURA | BOLETA
	TaxMode            string // AFECTA | EXENTA
	Status             string
	Number             string // Folio definitivo asignado por la autoridad (solo SENT/ACCEPTED)
	ProvisionalNumber  string // Folio provisional local <prefijo>-<secuencia>
	IdempotencyKey     string // Único global
	PayloadHash        string // SHA-256 del payload canónico (detección de conflictos)
	SaleReference      string
	TrackID            string
	Provider           string
	ProviderDocumentID string // Id externo de correlación (webhook)
	Offline            bool
	SyncAttempts       int
	LastSyncAt         *time.Time
	ErrorDetail        string
	ProviderSnapshot   []byte // Respuesta del proveedor cifrada (PayloadCipher)
	NetAmount          decimal.Decimal
	ExemptAmount       decimal.Decimal
	TaxAmount          decimal.Decimal
	TotalAmount        decimal.Decimal
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsDurablyAccepted indica si el proveedor ya confirmó el documento (la cola no debe tocarlo).
func (d *FiscalDocument) IsDurablyAccepted() bool {
	switch d.Status {
	case FiscalStatusSent, FiscalStatusAccepted, FiscalStatusRejected:
		return true
	}
	return false
}

// DisplayNumber devuelve el folio definitivo o, en su defecto, el provisional.
func (d *FiscalDocument) DisplayNumber() string {
	if d.Number != "" {
		return d.Number
	}
	return d.ProvisionalNumber
}
