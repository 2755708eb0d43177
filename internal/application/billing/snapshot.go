package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// SnapshotSchemaVersion versión del formato de IssuanceSnapshot.
const SnapshotSchemaVersion = 1

// MaxIdempotencyKeyLen largo máximo de la Idempotency-Key.
const MaxIdempotencyKeyLen = 128

// TaxRateIVA tasa de IVA para documentos afectos.
var TaxRateIVA = decimal.RequireFromString("0.19")

// IssuanceSnapshot payload autocontenido que se envía al proveedor. Se captura una vez
// y se reenvía sin cambios en cada reintento de la cola de contingencia.
type IssuanceSnapshot struct {
	SchemaVersion     int            `json:"schema_version"`
	CompanyID         string         `json:"company_id"`
	DocumentID        string         `json:"document_id"`
	ProvisionalNumber string         `json:"provisional_number"`
	DocumentType      string         `json:"document_type"`
	TaxMode           string         `json:"tax_mode"`
	SaleReference     string         `json:"sale_reference,omitempty"`
	Issuer            SnapshotParty  `json:"issuer"`
	Receiver          *SnapshotParty `json:"receiver,omitempty"`
	Lines             []SnapshotLine `json:"lines"`
	Notes             string         `json:"notes,omitempty"`
	Totals            SnapshotTotals `json:"totals"`
	CapturedAt        time.Time      `json:"captured_at"`
}

// SnapshotParty emisor o receptor.
type SnapshotParty struct {
	TaxID   string `json:"tax_id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
}

// SnapshotLine línea normalizada con su monto.
type SnapshotLine struct {
	Code        string          `json:"code,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// SnapshotTotals montos del documento.
type SnapshotTotals struct {
	Net    decimal.Decimal `json:"net"`
	Exempt decimal.Decimal `json:"exempt"`
	Tax    decimal.Decimal `json:"tax"`
	Total  decimal.Decimal `json:"total"`
}

// DecodeSnapshot deserializa un snapshot; un JSON corrupto es MalformedPayload.
func DecodeSnapshot(raw []byte) (*IssuanceSnapshot, error) {
	var s IssuanceSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: snapshot ilegible: %v", domain.ErrMalformedPayload, err)
	}
	if s.SchemaVersion != SnapshotSchemaVersion {
		return nil, fmt.Errorf("%w: versión de snapshot %d no soportada", domain.ErrMalformedPayload, s.SchemaVersion)
	}
	return &s, nil
}

// ── Normalización y validación ────────────────────────────────────────────────

// normalizeString NFC + trim: "José" compuesto y descompuesto producen el mismo hash.
func normalizeString(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// NormalizeIssueRequest devuelve una copia normalizada del request (no modifica el original).
func NormalizeIssueRequest(req *dto.IssueInvoiceRequest) dto.IssueInvoiceRequest {
	out := dto.IssueInvoiceRequest{
		DocumentType:  strings.ToUpper(normalizeString(req.DocumentType)),
		TaxMode:       strings.ToUpper(normalizeString(req.TaxMode)),
		Prefix:        strings.ToUpper(normalizeString(req.Prefix)),
		SaleReference: normalizeString(req.SaleReference),
		Notes:         normalizeString(req.Notes),
	}
	if out.TaxMode == "" {
		out.TaxMode = entity.TaxModeAfecta
	}
	if req.Receiver != nil {
		out.Receiver = &dto.ReceiverRequest{
			TaxID:   strings.ToUpper(normalizeString(req.Receiver.TaxID)),
			Name:    normalizeString(req.Receiver.Name),
			Address: normalizeString(req.Receiver.Address),
			Email:   strings.ToLower(normalizeString(req.Receiver.Email)),
		}
	}
	out.Items = make([]dto.InvoiceItemRequest, len(req.Items))
	for i, it := range req.Items {
		out.Items[i] = dto.InvoiceItemRequest{
			Code:        normalizeString(it.Code),
			Description: normalizeString(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		}
	}
	return out
}

// ValidateIssueRequest valida un request ya normalizado. Sin efectos colaterales.
func ValidateIssueRequest(req *dto.IssueInvoiceRequest, idempotencyKey string) error {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return fmt.Errorf("%w: Idempotency-Key requerida", domain.ErrInvalidInput)
	}
	if len(key) > MaxIdempotencyKeyLen {
		return fmt.Errorf("%w: Idempotency-Key supera %d caracteres", domain.ErrInvalidInput, MaxIdempotencyKeyLen)
	}
	switch req.DocumentType {
	case entity.DocumentTypeFactura, entity.DocumentTypeBoleta:
	default:
		return fmt.Errorf("%w: document_type debe ser FACTURA o BOLETA", domain.ErrInvalidInput)
	}
	switch req.TaxMode {
	case entity.TaxModeAfecta, entity.TaxModeExenta:
	default:
		return fmt.Errorf("%w: tax_mode debe ser AFECTA o EXENTA", domain.ErrInvalidInput)
	}
	if req.Prefix != "" && !validPrefix(req.Prefix) {
		return fmt.Errorf("%w: prefix debe ser alfanumérico (máx. 10)", domain.ErrInvalidInput)
	}
	if req.DocumentType == entity.DocumentTypeFactura && (req.Receiver == nil || req.Receiver.TaxID == "") {
		return fmt.Errorf("%w: FACTURA requiere el RUT del receptor", domain.ErrInvalidInput)
	}
	return validateItems(req.Items)
}

func validateItems(items []dto.InvoiceItemRequest) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: se requiere al menos un ítem", domain.ErrInvalidInput)
	}
	for i, it := range items {
		if it.Description == "" {
			return fmt.Errorf("%w: ítem %d sin descripción", domain.ErrInvalidInput, i+1)
		}
		if !it.Quantity.IsPositive() {
			return fmt.Errorf("%w: ítem %d con cantidad no positiva", domain.ErrInvalidInput, i+1)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: ítem %d con precio negativo", domain.ErrInvalidInput, i+1)
		}
	}
	return nil
}

func validPrefix(p string) bool {
	if len(p) > 10 {
		return false
	}
	for _, r := range p {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// DefaultPrefix prefijo de folio provisional según el tipo de documento.
func DefaultPrefix(documentType string) string {
	if documentType == entity.DocumentTypeFactura {
		return "F"
	}
	return "B"
}

// ── Hash canónico ─────────────────────────────────────────────────────────────

type canonicalItem struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

type canonicalRequest struct {
	DocumentType  string               `json:"document_type"`
	TaxMode       string               `json:"tax_mode"`
	Prefix        string               `json:"prefix"`
	SaleReference string               `json:"sale_reference"`
	Receiver      *dto.ReceiverRequest `json:"receiver"`
	Items         []canonicalItem      `json:"items"`
	Notes         string               `json:"notes"`
}

// PayloadHash SHA-256 hex del payload canónico. force_offline y connectivity_hint no
// forman parte del payload: reintentar la misma venta con otro hint no es un conflicto.
func PayloadHash(normalized *dto.IssueInvoiceRequest) string {
	c := canonicalRequest{
		DocumentType:  normalized.DocumentType,
		TaxMode:       normalized.TaxMode,
		Prefix:        normalized.Prefix,
		SaleReference: normalized.SaleReference,
		Receiver:      normalized.Receiver,
		Notes:         normalized.Notes,
		Items:         make([]canonicalItem, len(normalized.Items)),
	}
	for i, it := range normalized.Items {
		c.Items[i] = canonicalItem{
			Code:        it.Code,
			Description: it.Description,
			Quantity:    it.Quantity.String(),
			UnitPrice:   it.UnitPrice.String(),
		}
	}
	// Structs con orden de campos fijo: la salida de encoding/json es determinista.
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ── Totales ───────────────────────────────────────────────────────────────────

// BuildLines calcula el monto de cada línea (cantidad × precio, 2 decimales).
func BuildLines(items []dto.InvoiceItemRequest) []SnapshotLine {
	lines := make([]SnapshotLine, len(items))
	for i, it := range items {
		lines[i] = SnapshotLine{
			Code:        it.Code,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Amount:      it.Quantity.Mul(it.UnitPrice).Round(2),
		}
	}
	return lines
}

// ComputeTotals AFECTA: neto + IVA 19%; EXENTA: todo exento, impuesto cero.
func ComputeTotals(taxMode string, lines []SnapshotLine) SnapshotTotals {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount)
	}
	t := SnapshotTotals{Net: decimal.Zero, Exempt: decimal.Zero, Tax: decimal.Zero}
	if taxMode == entity.TaxModeExenta {
		t.Exempt = sum
	} else {
		t.Net = sum
		t.Tax = sum.Mul(TaxRateIVA).Round(2)
	}
	t.Total = t.Net.Add(t.Exempt).Add(t.Tax)
	return t
}
