package tenants

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Customer rows always live in the shared schema, so queries name it
// explicitly and run on the pool rather than a tenant-pinned connection.
type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const customerCols = `id, name, slug, plan, stripe_customer_id, created_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.Plan, &c.StripeCustomerID, &c.CreatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO shared.customers (id, name, slug, plan, stripe_customer_id)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Name, c.Slug, c.Plan, c.StripeCustomerID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, `SELECT `+customerCols+` FROM shared.customers WHERE id = $1`, id))
}

func (r *repoPG) GetBySlug(ctx context.Context, slug string) (*Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, `SELECT `+customerCols+` FROM shared.customers WHERE slug = $1`, slug))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Customer, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM shared.customers`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+customerCols+` FROM shared.customers ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

func (r *repoPG) Update(ctx context.Context, c *Customer) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE shared.customers SET name=$2, plan=$3, stripe_customer_id=$4
		WHERE id = $1`,
		c.ID, c.Name, c.Plan, c.StripeCustomerID)
	return err
}
