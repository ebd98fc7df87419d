package drift

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunRepository persists report runs.
type RunRepository interface {
	Create(ctx context.Context, r *ReportRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*ReportRun, error)
	List(ctx context.Context, limit, offset int) ([]*ReportRun, int, error)
	Update(ctx context.Context, r *ReportRun) error
}

// EventRepository persists drift events.
type EventRepository interface {
	Create(ctx context.Context, e *DriftEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*DriftEvent, error)
	List(ctx context.Context, f EventFilter, limit, offset int) ([]*DriftEvent, int, error)
}

// AggregateRepository computes claim aggregates over a time window. Windows
// are half-open: [from, to).
type AggregateRepository interface {
	// PayerStats aggregates decided claims (status paid or denied) per payer.
	PayerStats(ctx context.Context, from, to time.Time) (map[uuid.UUID]*PayerWindowStats, error)

	// CategoryDeniedDollars aggregates denied dollars per payer × 3-character
	// procedure code prefix.
	CategoryDeniedDollars(ctx context.Context, from, to time.Time) ([]*CategoryStats, error)
}
