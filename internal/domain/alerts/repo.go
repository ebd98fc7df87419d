package alerts

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists alerts. FindOpen and LastResolved return (nil, nil)
// when no matching alert exists.
type Repository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Alert, int, error)
	Update(ctx context.Context, a *Alert) error

	// FindOpen returns the most recent open or acknowledged alert for the
	// payer, metric and procedure category.
	FindOpen(ctx context.Context, payerID uuid.UUID, metric string, category *string) (*Alert, error)

	// LastResolved returns the most recently resolved alert for the payer,
	// metric and procedure category.
	LastResolved(ctx context.Context, payerID uuid.UUID, metric string, category *string) (*Alert, error)
}
