// Package fiscal contiene la máquina de estados compartida por FiscalDocument y
// ContingencyQueueItem y el cálculo de backoff de la cola de contingencia.
//
//	PROCESSING ──► SENT | FAILED | OFFLINE_PENDING
//	OFFLINE_PENDING ──► SYNCING ──► SENT | OFFLINE_PENDING | FAILED
//	OFFLINE_PENDING | SYNCING ──► ACCEPTED | REJECTED   (webhook)
//	SENT ──► ACCEPTED | REJECTED
//	ACCEPTED, REJECTED, FAILED: terminales
package fiscal

import (
	"fmt"
	"time"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// MaxErrorDetailLen límite del texto de error persistido.
const MaxErrorDetailLen = 512

var allowed = map[string]map[string]bool{
	entity.FiscalStatusProcessing: {
		entity.FiscalStatusSent:           true,
		entity.FiscalStatusFailed:         true,
		entity.FiscalStatusOfflinePending: true,
		entity.FiscalStatusAccepted:       true,
		entity.FiscalStatusRejected:       true,
	},
	entity.FiscalStatusOfflinePending: {
		entity.FiscalStatusSyncing:  true,
		entity.FiscalStatusSent:     true,
		entity.FiscalStatusFailed:   true,
		entity.FiscalStatusAccepted: true,
		entity.FiscalStatusRejected: true,
	},
	entity.FiscalStatusSyncing: {
		entity.FiscalStatusOfflinePending: true,
		entity.FiscalStatusSent:           true,
		entity.FiscalStatusFailed:         true,
		entity.FiscalStatusAccepted:       true,
		entity.FiscalStatusRejected:       true,
	},
	entity.FiscalStatusSent: {
		entity.FiscalStatusAccepted: true,
		entity.FiscalStatusRejected: true,
	},
}

// IsTerminal indica si el estado ya no admite transiciones.
func IsTerminal(status string) bool {
	switch status {
	case entity.FiscalStatusAccepted, entity.FiscalStatusRejected, entity.FiscalStatusFailed:
		return true
	}
	return false
}

// CanTransition valida from → to. Una transición al mismo estado no es válida aquí
// (Apply la trata como no-op).
func CanTransition(from, to string) bool {
	return allowed[from][to]
}

// Outcome datos que acompañan una transición.
type Outcome struct {
	Status      string
	At          time.Time
	ErrorDetail string

	// Solo para SENT/ACCEPTED: campos del proveedor.
	Number             string
	TrackID            string
	Provider           string
	ProviderDocumentID string

	// CountAttempt incrementa SyncAttempts y estampa LastSyncAt (inicio de un intento).
	CountAttempt bool
}

// Apply es la única vía para cambiar el estado del documento y de su ítem de cola.
// item puede ser nil (documento sin cola). Devuelve changed=false si el documento ya
// estaba en el estado destino; ErrInvalidTransition si la transición es regresiva.
func Apply(doc *entity.FiscalDocument, item *entity.ContingencyQueueItem, out Outcome) (changed bool, err error) {
	if doc == nil {
		return false, fmt.Errorf("fiscal: documento nil")
	}
	if doc.Status == out.Status && !out.CountAttempt {
		return false, nil
	}
	if doc.Status != out.Status && !CanTransition(doc.Status, out.Status) {
		return false, fmt.Errorf("%w: %s → %s", domain.ErrInvalidTransition, doc.Status, out.Status)
	}

	at := out.At
	if at.IsZero() {
		at = time.Now()
	}
	detail := Truncate(out.ErrorDetail, MaxErrorDetailLen)

	doc.Status = out.Status
	doc.UpdatedAt = at
	if out.CountAttempt {
		doc.SyncAttempts++
		doc.LastSyncAt = &at
		doc.ErrorDetail = ""
	}
	if detail != "" || out.Status == entity.FiscalStatusSent || out.Status == entity.FiscalStatusAccepted {
		doc.ErrorDetail = detail
	}

	switch out.Status {
	case entity.FiscalStatusSent, entity.FiscalStatusAccepted:
		doc.Offline = false
		setIfNotEmpty(&doc.Number, out.Number)
		setIfNotEmpty(&doc.TrackID, out.TrackID)
		setIfNotEmpty(&doc.Provider, out.Provider)
		setIfNotEmpty(&doc.ProviderDocumentID, out.ProviderDocumentID)
	case entity.FiscalStatusOfflinePending, entity.FiscalStatusSyncing:
		doc.Offline = true
		doc.Number = ""
	default:
		// Folio definitivo solo en SENT/ACCEPTED.
		doc.Number = ""
		setIfNotEmpty(&doc.TrackID, out.TrackID)
		setIfNotEmpty(&doc.Provider, out.Provider)
		setIfNotEmpty(&doc.ProviderDocumentID, out.ProviderDocumentID)
	}

	if item != nil {
		applyToItem(doc, item, at)
	}
	return true, nil
}

// applyToItem refleja el estado del documento en el ítem de cola. Los estados que el
// ítem no modela (SENT, ACCEPTED, REJECTED) implican que el ítem debe eliminarse.
func applyToItem(doc *entity.FiscalDocument, item *entity.ContingencyQueueItem, at time.Time) {
	switch doc.Status {
	case entity.FiscalStatusOfflinePending, entity.FiscalStatusSyncing, entity.FiscalStatusFailed:
		item.Status = doc.Status
	}
	item.SyncAttempts = doc.SyncAttempts
	item.LastSyncAt = doc.LastSyncAt
	item.ErrorDetail = doc.ErrorDetail
	item.UpdatedAt = at
}

// ItemShouldBeDeleted indica si el estado del documento implica borrar su ítem de cola.
func ItemShouldBeDeleted(status string) bool {
	switch status {
	case entity.FiscalStatusSent, entity.FiscalStatusAccepted, entity.FiscalStatusRejected:
		return true
	}
	return false
}

// Truncate recorta s a max bytes sin partir runas UTF-8.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
