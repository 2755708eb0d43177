package entity

import "time"

// Company representa la empresa emisora (tenant). Solo se lee para la representación gráfica.
type Company struct {
	ID        string
	Name      string
	TaxID     string // RUT del emisor
	Address   string
	Phone     string
	Email     string
	Status    string // active, suspended, inactive
	CreatedAt time.Time
	UpdatedAt time.Time
}
