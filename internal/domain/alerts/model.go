package alerts

import (
	"time"

	"github.com/google/uuid"
)

// Alert lifecycle states. Suppressed is terminal; the suppress reason records
// which pipeline stage dropped the alert.
const (
	StatusOpen         = "open"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
	StatusSuppressed   = "suppressed"
)

// Suppression reasons, in pipeline order.
const (
	ReasonLowConfidence = "low_confidence"
	ReasonDuplicateOpen = "duplicate_open"
	ReasonCooldown      = "cooldown"
	ReasonRunCapacity   = "run_capacity"
)

type Alert struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	DriftEventID      uuid.UUID  `db:"drift_event_id" json:"drift_event_id"`
	ReportRunID       uuid.UUID  `db:"report_run_id" json:"report_run_id"`
	PayerID           uuid.UUID  `db:"payer_id" json:"payer_id"`
	Metric            string     `db:"metric" json:"metric"`
	ProcedureCategory *string    `db:"procedure_category" json:"procedure_category,omitempty"`
	Title             string     `db:"title" json:"title"`
	Body              string     `db:"body" json:"body"`
	Severity          float64    `db:"severity" json:"severity"`
	Confidence        float64    `db:"confidence" json:"confidence"`
	Status            string     `db:"status" json:"status"`
	SuppressReason    *string    `db:"suppress_reason" json:"suppress_reason,omitempty"`
	AcknowledgedBy    *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt    *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedBy        *string    `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Priority orders alerts for run-capacity selection. Severity dominates;
// confidence scales it between half and full weight.
func (a *Alert) Priority() float64 {
	return a.Severity * (0.5 + 0.5*a.Confidence)
}

// Filter narrows alert listings.
type Filter struct {
	Status      *string
	PayerID     *uuid.UUID
	Metric      *string
	ReportRunID *uuid.UUID
}
