package tenants

import (
	"time"

	"github.com/google/uuid"
)

// Customer is a paying tenant. Rows live in the shared schema; each customer's
// claims data lives in its own tenant_<slug> schema.
type Customer struct {
	ID               uuid.UUID `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	Slug             string    `db:"slug" json:"slug"`
	Plan             string    `db:"plan" json:"plan"`
	StripeCustomerID *string   `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
