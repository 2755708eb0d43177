package dto

// PageRequest paginación para listados.
type PageRequest struct {
	Limit  int `query:"limit"`
	Offset int `query:"offset"`
}

// DefaultPage aplica valores por defecto y el máximo de 100.
func (p *PageRequest) DefaultPage() {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// ErrorResponse cuerpo de error HTTP. Document acompaña los rechazos del proveedor
// para que el cliente vea el estado FAILED y su detalle.
type ErrorResponse struct {
	Code     string                  `json:"code"`
	Message  string                  `json:"message"`
	Document *FiscalDocumentResponse `json:"document,omitempty"`
}
