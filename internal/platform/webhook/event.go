// Package webhook pushes platform events (new alerts, completed drift runs)
// to customer-registered HTTP endpoints. Payloads are HMAC-SHA256 signed; the
// same helpers verify signatures on the inbound ingestion webhook.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types carried on the wire. Subscriptions match them with
// "resource.action" patterns where either side may be "*".
const (
	EventAlertCreated = "alert.created"
	EventRunCompleted = "run.completed"
)

// Event is the envelope POSTed to endpoints. Data holds one of the typed
// payloads below, selected by Type.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenant_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// AlertPayload is the data of alert.created events.
type AlertPayload struct {
	AlertID    uuid.UUID `json:"alert_id"`
	PayerID    uuid.UUID `json:"payer_id"`
	Metric     string    `json:"metric"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Severity   float64   `json:"severity"`
	Confidence float64   `json:"confidence"`
	Status     string    `json:"status"`
}

// RunPayload is the data of run.completed events.
type RunPayload struct {
	RunID           uuid.UUID `json:"run_id"`
	PayersEvaluated int       `json:"payers_evaluated"`
	EventsDetected  int       `json:"events_detected"`
	AlertsOpened    int       `json:"alerts_opened"`
}

func newEvent(eventType, tenantID string, at time.Time, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		TenantID:   tenantID,
		OccurredAt: at,
		Data:       raw,
	}, nil
}

// NewAlertEvent wraps an alert payload in a deliverable event.
func NewAlertEvent(tenantID string, at time.Time, p AlertPayload) (Event, error) {
	return newEvent(EventAlertCreated, tenantID, at, p)
}

// NewRunCompletedEvent wraps a drift-run summary in a deliverable event.
func NewRunCompletedEvent(tenantID string, at time.Time, p RunPayload) (Event, error) {
	return newEvent(EventRunCompleted, tenantID, at, p)
}

// SignPayload computes the hex-encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the HMAC-SHA256 of
// payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
