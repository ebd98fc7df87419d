package tenants

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists customers in the shared schema.
type Repository interface {
	Create(ctx context.Context, c *Customer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Customer, error)
	GetBySlug(ctx context.Context, slug string) (*Customer, error)
	List(ctx context.Context, limit, offset int) ([]*Customer, int, error)
	Update(ctx context.Context, c *Customer) error
}
