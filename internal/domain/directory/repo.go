package directory

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows a directory listing. Limit <= 0 means the store default.
type ListFilter struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, f ListFilter) ([]*Patient, int, error)
}

type ProviderRepository interface {
	Create(ctx context.Context, p *Provider) error
	GetByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	Update(ctx context.Context, p *Provider) error
	List(ctx context.Context, f ListFilter) ([]*Provider, int, error)
}

const defaultLimit = 20

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return defaultLimit
	}
	return f.Limit
}
