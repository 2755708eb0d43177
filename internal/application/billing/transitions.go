package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/fiscal"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

// SaveTransition aplica out sobre doc y lo persiste con compare-and-set sobre el estado previo.
// Si otro proceso cambió el documento entretanto, lo relee una vez y reintenta.
// Devuelve el documento vigente y si hubo cambio; una transición regresiva tras la
// relectura devuelve domain.ErrInvalidTransition junto con el documento releído.
func SaveTransition(ctx context.Context, docs repository.FiscalDocumentRepository, doc *entity.FiscalDocument, out fiscal.Outcome) (*entity.FiscalDocument, bool, error) {
	for attempt := 0; ; attempt++ {
		prev := doc.Status
		working := *doc
		changed, err := fiscal.Apply(&working, nil, out)
		if err != nil || !changed {
			return doc, false, err
		}
		err = docs.Update(ctx, &working, prev)
		if err == nil {
			*doc = working
			return doc, true, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt > 0 {
			return doc, false, fmt.Errorf("guardar transición %s → %s: %w", prev, out.Status, err)
		}
		fresh, gerr := docs.GetByID(ctx, doc.ID)
		if gerr != nil {
			return doc, false, fmt.Errorf("releer documento: %w", gerr)
		}
		if fresh == nil {
			return doc, false, domain.ErrNotFound
		}
		doc = fresh
	}
}
