package entity

import "time"

// Clase de documento al que pertenece el archivo.
const (
	FileKindFiscal    = "FISCAL"
	FileKindNonFiscal = "NON_FISCAL"
)

// Versión del artefacto: LOCAL se genera de inmediato; OFFICIAL tras la confirmación.
const (
	FileVersionLocal    = "LOCAL"
	FileVersionOfficial = "OFFICIAL"
)

// Content types de los artefactos.
const (
	ContentTypePDF = "application/pdf"
	ContentTypeXML = "application/xml"
)

// DocumentFile metadatos de un artefacto renderizado (PDF/XML) y su procedencia.
// OFFICIAL nunca borra LOCAL: lo referencia por PreviousFileID.
type DocumentFile struct {
	ID             string
	DocumentID     string
	CompanyID      string
	Kind           string // FISCAL | NON_FISCAL
	Version        string // LOCAL | OFFICIAL
	ContentType    string
	Filename       string
	StorageKey     string
	Checksum       string // SHA-256 hex
	Size           int64
	PreviousFileID *string
	CreatedAt      time.Time
}
