package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// NonFiscalStatusReady único estado de un documento no tributario.
const NonFiscalStatusReady = "READY"

// NonFiscalDocument cotizaciones y otros documentos sin validez tributaria.
type NonFiscalDocument struct {
	ID          string
	CompanyID   string
	Title       string
	Reference   string
	Status      string
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
}
