package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Subscriptions live in the shared schema; queries name it explicitly and run
// on the pool, not a tenant-pinned connection.
type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const subCols = `id, customer_id, plan, status, stripe_subscription_id,
	current_period_end, created_at, updated_at`

func scanSub(row pgx.Row) (*Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.CustomerID, &s.Plan, &s.Status, &s.StripeSubscriptionID,
		&s.CurrentPeriodEnd, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *repoPG) Create(ctx context.Context, s *Subscription) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO shared.subscriptions (id, customer_id, plan, status, stripe_subscription_id, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.CustomerID, s.Plan, s.Status, s.StripeSubscriptionID, s.CurrentPeriodEnd)
	return err
}

func (r *repoPG) GetByCustomer(ctx context.Context, customerID uuid.UUID) (*Subscription, error) {
	s, err := scanSub(r.pool.QueryRow(ctx, `
		SELECT `+subCols+` FROM shared.subscriptions
		WHERE customer_id = $1
		ORDER BY created_at DESC LIMIT 1`, customerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *repoPG) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error) {
	s, err := scanSub(r.pool.QueryRow(ctx, `
		SELECT `+subCols+` FROM shared.subscriptions
		WHERE stripe_subscription_id = $1`, stripeSubscriptionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *repoPG) Update(ctx context.Context, s *Subscription) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE shared.subscriptions SET plan=$2, status=$3, stripe_subscription_id=$4,
			current_period_end=$5, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.Plan, s.Status, s.StripeSubscriptionID, s.CurrentPeriodEnd)
	return err
}
