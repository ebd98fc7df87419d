package ingestion

import (
	"time"

	"github.com/google/uuid"
)

// Upload sources.
const (
	SourceCSV     = "csv"
	SourceWebhook = "webhook"
)

// Upload status transitions are strictly linear:
// received -> processing -> completed | failed.
const (
	StatusReceived   = "received"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type Upload struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Filename    string     `db:"filename" json:"filename"`
	Source      string     `db:"source" json:"source"`
	Status      string     `db:"status" json:"status"`
	RowCount    int        `db:"row_count" json:"row_count"`
	ErrorCount  int        `db:"error_count" json:"error_count"`
	ErrorDetail *string    `db:"error_detail" json:"error_detail,omitempty"`
	ReceivedAt  time.Time  `db:"received_at" json:"received_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
