package claims

import (
	"context"

	"github.com/google/uuid"
)

// PayerRepository persists payers.
type PayerRepository interface {
	Create(ctx context.Context, p *Payer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payer, error)
	GetByCode(ctx context.Context, code string) (*Payer, error)
	List(ctx context.Context, limit, offset int) ([]*Payer, int, error)
	Update(ctx context.Context, p *Payer) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ClaimRepository persists claims.
type ClaimRepository interface {
	Create(ctx context.Context, c *Claim) error
	// Upsert inserts the claim or, when a row with the same external_ref
	// exists, updates it in place. Claims without an external ref always
	// insert.
	Upsert(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	List(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error)
	Update(ctx context.Context, c *Claim) error
	Delete(ctx context.Context, id uuid.UUID) error
}
