package entity

import "fmt"

// DocumentSequence correlativo local por empresa y prefijo (folios provisionales).
type DocumentSequence struct {
	CompanyID string
	Prefix    string
	LastValue int64
}

// FormatProvisionalNumber arma el folio provisional: <prefijo>-<secuencia 8 dígitos>.
func FormatProvisionalNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%08d", prefix, seq)
}
