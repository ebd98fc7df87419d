package drift

import (
	"time"

	"github.com/google/uuid"
)

// Drift metrics.
const (
	MetricDenialRate    = "denial_rate"
	MetricDecisionTime  = "decision_time"
	MetricDenialDollars = "denial_dollars"
)

// ReportRun statuses. Transitions are strictly linear:
// pending → running → completed | failed.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ReportRun records one invocation of the drift engine. The whole computation
// runs in a single transaction; a failed run records error_detail and leaves
// no partial events.
type ReportRun struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Status          string     `db:"status" json:"status"`
	AsOf            time.Time  `db:"asof" json:"asof"`
	BaselineWeeks   int        `db:"baseline_weeks" json:"baseline_weeks"`
	CurrentWeeks    int        `db:"current_weeks" json:"current_weeks"`
	PayersEvaluated int        `db:"payers_evaluated" json:"payers_evaluated"`
	EventsDetected  int        `db:"events_detected" json:"events_detected"`
	Summary         []byte     `db:"summary" json:"summary,omitempty"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ErrorDetail     *string    `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// DriftEvent is a single detected deviation for a payer and metric.
// ProcedureCategory is set only for denial_dollars events, where scope is
// payer × 3-character procedure code prefix.
type DriftEvent struct {
	ID                uuid.UUID `db:"id" json:"id"`
	ReportRunID       uuid.UUID `db:"report_run_id" json:"report_run_id"`
	PayerID           uuid.UUID `db:"payer_id" json:"payer_id"`
	Metric            string    `db:"metric" json:"metric"`
	ProcedureCategory *string   `db:"procedure_category" json:"procedure_category,omitempty"`
	BaselineValue     float64   `db:"baseline_value" json:"baseline_value"`
	CurrentValue      float64   `db:"current_value" json:"current_value"`
	Delta             float64   `db:"delta" json:"delta"`
	Severity          float64   `db:"severity" json:"severity"`
	Confidence        float64   `db:"confidence" json:"confidence"`
	WindowStart       time.Time `db:"window_start" json:"window_start"`
	WindowEnd         time.Time `db:"window_end" json:"window_end"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// EventFilter narrows drift event listings.
type EventFilter struct {
	ReportRunID *uuid.UUID
	PayerID     *uuid.UUID
	Metric      *string
}

// PayerWindowStats aggregates decided claims for one payer inside a window.
type PayerWindowStats struct {
	PayerID          uuid.UUID
	DecidedCount     int
	DeniedCount      int
	DeniedDollars    float64
	MeanDecisionDays float64
}

// DenialRate returns denied/decided, or 0 when the payer had no decided claims.
func (s *PayerWindowStats) DenialRate() float64 {
	if s.DecidedCount == 0 {
		return 0
	}
	return float64(s.DeniedCount) / float64(s.DecidedCount)
}

// CategoryStats aggregates denied dollars for a payer × procedure category
// (3-character procedure code prefix) inside a window.
type CategoryStats struct {
	PayerID       uuid.UUID
	Category      string
	DeniedDollars float64
	DeniedCount   int
}
