package entity

import (
	"encoding/json"
	"time"
)

// ContingencyQueueItem trabajo pendiente de sincronización (1:1 con un FiscalDocument).
// Solo existe mientras el documento no fue aceptado; al sincronizar se elimina.
type ContingencyQueueItem struct {
	ID             string
	DocumentID     string
	CompanyID      string
	IdempotencyKey string
	// PayloadSnapshot es inmutable: se reenvía sin cambios en cada reintento.
	// Vacío cuando el snapshot se guarda solo cifrado (EncryptedPayload).
	PayloadSnapshot  json.RawMessage
	EncryptedPayload []byte
	Status           string // OFFLINE_PENDING | SYNCING | FAILED
	SyncAttempts     int
	LastSyncAt       *time.Time
	ErrorDetail      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
