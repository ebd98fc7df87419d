package claims

import (
	"time"

	"github.com/google/uuid"
)

// Claim statuses. A claim is "decided" once it reaches paid or denied.
const (
	StatusSubmitted = "submitted"
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusDenied    = "denied"
)

// Payer is an insurance payer claims are submitted to. Payers are
// auto-registered during ingestion when an unknown payer_code appears.
type Payer struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PayerCode string    `db:"payer_code" json:"payer_code"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Claim maps to the claims table in the tenant schema. ExternalRef is the
// clearinghouse claim number; ingestion upserts on it so re-sent files do not
// duplicate rows.
type Claim struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ExternalRef   *string    `db:"external_ref" json:"external_ref,omitempty"`
	PayerID       uuid.UUID  `db:"payer_id" json:"payer_id"`
	MemberRef     string     `db:"member_ref" json:"member_ref"`
	ProviderRef   string     `db:"provider_ref" json:"provider_ref"`
	ProcedureCode string     `db:"procedure_code" json:"procedure_code"`
	DiagnosisCode *string    `db:"diagnosis_code" json:"diagnosis_code,omitempty"`
	BilledAmount  float64    `db:"billed_amount" json:"billed_amount"`
	PaidAmount    *float64   `db:"paid_amount" json:"paid_amount,omitempty"`
	Status        string     `db:"status" json:"status"`
	DenialCode    *string    `db:"denial_code" json:"denial_code,omitempty"`
	SubmittedAt   time.Time  `db:"submitted_at" json:"submitted_at"`
	DecidedAt     *time.Time `db:"decided_at" json:"decided_at,omitempty"`
	UploadID      *uuid.UUID `db:"upload_id" json:"upload_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Decided reports whether the claim has reached a terminal adjudication state.
func (c *Claim) Decided() bool {
	return c.Status == StatusPaid || c.Status == StatusDenied
}

// ClaimFilter narrows claim listings.
type ClaimFilter struct {
	PayerID *uuid.UUID
	Status  *string
	From    *time.Time // submitted_at >= From
	To      *time.Time // submitted_at < To
}
