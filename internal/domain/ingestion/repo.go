package ingestion

import (
	"context"

	"github.com/google/uuid"
)

// UploadRepository persists upload records.
type UploadRepository interface {
	Create(ctx context.Context, u *Upload) error
	GetByID(ctx context.Context, id uuid.UUID) (*Upload, error)
	List(ctx context.Context, limit, offset int) ([]*Upload, int, error)
	Update(ctx context.Context, u *Upload) error
}
