package billing

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists subscriptions in the shared schema. GetByCustomer and
// GetByStripeID return (nil, nil) when no subscription exists.
type Repository interface {
	Create(ctx context.Context, s *Subscription) error
	GetByCustomer(ctx context.Context, customerID uuid.UUID) (*Subscription, error)
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
}
