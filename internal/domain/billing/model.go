package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription statuses mirror Stripe's. Active and trialing both allow
// drift computation.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusUnpaid   = "unpaid"
)

// Subscription lives in the shared schema alongside its customer.
type Subscription struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	CustomerID           uuid.UUID  `db:"customer_id" json:"customer_id"`
	Plan                 string     `db:"plan" json:"plan"`
	Status               string     `db:"status" json:"status"`
	StripeSubscriptionID *string    `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd     *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the subscription currently permits computation.
func (s *Subscription) Active() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}
