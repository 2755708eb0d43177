package repository

import (
	"context"

	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// CompanyRepository lectura de la empresa emisora. El CRUD de empresas vive fuera de este servicio.
type CompanyRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Company, error)
}
