package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/upstream/upstream/internal/platform/webhook"
)

// TestWebhookStorePG registers an endpoint in the tenant schema, delivers an
// alert event to a live test server and checks the recorded delivery log.
func TestWebhookStorePG(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("hooks")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	var received atomic.Int32
	var lastSignature atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		lastSignature.Store(r.Header.Get("X-Upstream-Signature"))
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := webhook.NewManager(webhook.NewStorePG(globalDB.Pool))

	err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
		ep, err := m.Register(ctx, tenantID, srv.URL, "s3cret", []string{"alert.*"})
		if err != nil {
			return err
		}

		event, err := webhook.NewAlertEvent(tenantID, time.Now().UTC(), webhook.AlertPayload{
			AlertID:  uuid.New(),
			PayerID:  uuid.New(),
			Metric:   "denial_rate",
			Title:    "AETNA denial rate up 12.0 pts",
			Body:     "Denial rate for AETNA rose from 8.0% to 20.0% in the current window.",
			Severity: 0.6,
			Status:   "open",
		})
		if err != nil {
			return err
		}

		results := m.Deliver(ctx, event)
		if len(results) != 1 || !results[0].Succeeded {
			t.Fatalf("deliver results = %+v, want one success", results)
		}
		if received.Load() != 1 {
			t.Errorf("server received %d requests, want 1", received.Load())
		}
		if sig, _ := lastSignature.Load().(string); sig == "" {
			t.Error("delivery missing signature header")
		}

		logs, total, err := m.DeliveryLog(ctx, ep.ID, 10, 0)
		if err != nil {
			return err
		}
		if total != 1 || len(logs) != 1 {
			t.Fatalf("delivery log = %d/%d, want 1", len(logs), total)
		}
		if !logs[0].Succeeded || logs[0].EventType != webhook.EventAlertCreated {
			t.Errorf("logged delivery = %+v, want succeeded alert.created", logs[0])
		}

		endpoints, err := m.Endpoints(ctx, tenantID)
		if err != nil {
			return err
		}
		if len(endpoints) != 1 {
			t.Errorf("endpoints = %d, want 1", len(endpoints))
		}

		if err := m.Remove(ctx, ep.ID); err != nil {
			return err
		}
		if _, err := m.Endpoint(ctx, ep.ID); err != webhook.ErrEndpointNotFound {
			t.Errorf("after remove err = %v, want ErrEndpointNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("webhook store round trip: %v", err)
	}
}
