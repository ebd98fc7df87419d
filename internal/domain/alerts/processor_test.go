package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/upstream/upstream/internal/domain/drift"
	"github.com/upstream/upstream/internal/platform/webhook"
)

type mockRepo struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*Alert
	order  []uuid.UUID
}

func newMockRepo() *mockRepo {
	return &mockRepo{alerts: make(map[uuid.UUID]*Alert)}
}

func (m *mockRepo) Create(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	m.alerts[a.ID] = &cp
	m.order = append(m.order, a.ID)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert not found")
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Alert, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*Alert
	for _, id := range m.order {
		a := m.alerts[id]
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		cp := *a
		items = append(items, &cp)
	}
	return items, len(items), nil
}

func (m *mockRepo) Update(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		return fmt.Errorf("alert not found")
	}
	cp := *a
	m.alerts[a.ID] = &cp
	return nil
}

func sameCategory(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *mockRepo) FindOpen(_ context.Context, payerID uuid.UUID, metric string, category *string) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		a := m.alerts[m.order[i]]
		if (a.Status == StatusOpen || a.Status == StatusAcknowledged) &&
			a.PayerID == payerID && a.Metric == metric && sameCategory(a.ProcedureCategory, category) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) LastResolved(_ context.Context, payerID uuid.UUID, metric string, category *string) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		a := m.alerts[m.order[i]]
		if a.Status == StatusResolved &&
			a.PayerID == payerID && a.Metric == metric && sameCategory(a.ProcedureCategory, category) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

type mockNotifier struct {
	mu     sync.Mutex
	events []webhook.Event
}

func (m *mockNotifier) Deliver(_ context.Context, event webhook.Event) []webhook.DeliveryResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

var fixedNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestProcessor() (*Processor, *mockRepo, *mockNotifier) {
	repo := newMockRepo()
	notifier := &mockNotifier{}
	payerName := func(context.Context, uuid.UUID) (string, error) { return "Test Payer", nil }
	p := NewProcessor(repo, notifier, payerName, zerolog.Nop())
	p.now = func() time.Time { return fixedNow }
	return p, repo, notifier
}

func testRun() *drift.ReportRun {
	return &drift.ReportRun{ID: uuid.New()}
}

func driftEvent(payerID uuid.UUID, severity, confidence float64) *drift.DriftEvent {
	return &drift.DriftEvent{
		ID:            uuid.New(),
		PayerID:       payerID,
		Metric:        drift.MetricDenialRate,
		BaselineValue: 0.10,
		CurrentValue:  0.30,
		Delta:         0.20,
		Severity:      severity,
		Confidence:    confidence,
		WindowStart:   fixedNow.AddDate(0, 0, -28),
		WindowEnd:     fixedNow,
	}
}

func findByStatus(alerts []*Alert, status string) []*Alert {
	var out []*Alert
	for _, a := range alerts {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out
}

func TestProcessRunOpensAlertAndNotifies(t *testing.T) {
	p, _, notifier := newTestProcessor()
	run := testRun()

	created, err := p.ProcessRun(context.Background(), run, []*drift.DriftEvent{
		driftEvent(uuid.New(), 0.7, 0.8),
	})
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d, want 1", len(created))
	}
	a := created[0]
	if a.Status != StatusOpen {
		t.Errorf("status = %q, want open", a.Status)
	}
	if a.ReportRunID != run.ID {
		t.Error("alert not linked to run")
	}

	if len(notifier.events) != 1 {
		t.Fatalf("webhook events = %d, want 1", len(notifier.events))
	}
	ev := notifier.events[0]
	if ev.Type != "alert.created" {
		t.Errorf("event type = %q", ev.Type)
	}
	var payload webhook.AlertPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("decoding event data: %v", err)
	}
	if payload.AlertID != a.ID {
		t.Errorf("payload alert id = %s, want %s", payload.AlertID, a.ID)
	}
	if payload.Title != a.Title || payload.Title == "" {
		t.Errorf("payload title = %q, want %q", payload.Title, a.Title)
	}
}

func TestProcessRunComposesAlertText(t *testing.T) {
	p, _, _ := newTestProcessor()

	created, err := p.ProcessRun(context.Background(), testRun(), []*drift.DriftEvent{
		driftEvent(uuid.New(), 0.7, 0.8),
	})
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}
	a := created[0]

	if a.Title != "Test Payer denial rate up 20.0 pts" {
		t.Errorf("title = %q", a.Title)
	}
	for _, want := range []string{"Test Payer", "10.0%", "30.0%", "2026-07-04 to 2026-08-01"} {
		if !strings.Contains(a.Body, want) {
			t.Errorf("body %q missing %q", a.Body, want)
		}
	}
}

func TestProcessRunDecisionTimeAlertText(t *testing.T) {
	p, _, _ := newTestProcessor()

	ev := driftEvent(uuid.New(), 0.6, 0.8)
	ev.Metric = drift.MetricDecisionTime
	ev.BaselineValue = 12.0
	ev.CurrentValue = 18.5
	ev.Delta = 6.5

	created, err := p.ProcessRun(context.Background(), testRun(), []*drift.DriftEvent{ev})
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}
	a := created[0]

	if a.Title != "Test Payer decision time up 6.5 days" {
		t.Errorf("title = %q", a.Title)
	}
	for _, want := range []string{"12.0", "18.5", "days"} {
		if !strings.Contains(a.Body, want) {
			t.Errorf("body %q missing %q", a.Body, want)
		}
	}
}

func TestProcessRunAlertTextFallsBackToPayerID(t *testing.T) {
	repo := newMockRepo()
	failing := func(context.Context, uuid.UUID) (string, error) { return "", fmt.Errorf("payer lookup down") }
	p := NewProcessor(repo, &mockNotifier{}, failing, zerolog.Nop())
	p.now = func() time.Time { return fixedNow }

	payerID := uuid.New()
	created, err := p.ProcessRun(context.Background(), testRun(), []*drift.DriftEvent{
		driftEvent(payerID, 0.7, 0.8),
	})
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}
	if want := "payer " + payerID.String()[:8]; !strings.Contains(created[0].Title, want) {
		t.Errorf("title %q missing fallback %q", created[0].Title, want)
	}
}

func TestProcessRunSuppressesLowConfidence(t *testing.T) {
	p, _, notifier := newTestProcessor()

	created, err := p.ProcessRun(context.Background(), testRun(), []*drift.DriftEvent{
		driftEvent(uuid.New(), 0.9, 0.49),
	})
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d, want 1", len(created))
	}
	a := created[0]
	if a.Status != StatusSuppressed {
		t.Errorf("status = %q, want suppressed", a.Status)
	}
	if a.SuppressReason == nil || *a.SuppressReason != ReasonLowConfidence {
		t.Errorf("suppress reason = %v, want low_confidence", a.SuppressReason)
	}
	if len(notifier.events) != 0 {
		t.Errorf("suppressed alert must not notify, got %d events", len(notifier.events))
	}
}

func TestProcessRunSuppressesDuplicateAndBumps(t *testing.T) {
	p, repo, _ := newTestProcessor()
	payerID := uuid.New()

	first, err := p.ProcessRun(context.Background(), testRun(), []*drift.DriftEvent{
		driftEvent(payerID, 0.5, 0.8),
	})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	openID := first[0].ID

	// Second run: same payer and metric, severity up by >= 0.2. Suppressed as
	// duplicate but the open alert's severity is bumped.
	second, err := p.ProcessRun(context.Background(), testRun(), []*drift.DriftEvent{
		driftEvent(payerID, 0.75, 0.8),
	})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second[0].Status != StatusSuppressed || *second[0].SuppressReason != ReasonDuplicateOpen {
		t.Errorf("status/reason = %q/%v, want suppressed/duplicate_open", second[0].Status, second[0].SuppressReason)
	}

	bumped, _ := repo.GetByID(context.Background(), openID)
	if bumped.Severity != 0.75 {
		t.Errorf("open alert severity = %v, want bumped to 0.75", bumped.Severity)
	}
}

func TestProcessRunDuplicateWithoutBump(t *testing.T) {
	p, repo, _ := newTestProcessor()
	payerID := uuid.New()

	first, err := p.ProcessRun(context.Background(), testRun(), []*drift.DriftEvent{
		driftEvent(payerID, 0.5, 0.8),
	})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Severity up by only 0.1: duplicate suppression, no bump.
	if _, err := p.ProcessRun(context.Background(), testRun(), []*drift.DriftEvent{
		driftEvent(payerID, 0.6, 0.8),
	}); err != nil {
		t.Fatalf("second run: %v", err)
	}

	a, _ := repo.GetByID(context.Background(), first[0].ID)
	if a.Severity != 0.5 {
		t.Errorf("severity = %v, want unchanged 0.5", a.Severity)
	}
}

func TestProcessRunCooldown(t *testing.T) {
	p, _, _ := newTestProcessor()
	payerID := uuid.New()
	ctx := context.Background()

	first, err := p.ProcessRun(ctx, testRun(), []*drift.DriftEvent{
		driftEvent(payerID, 0.6, 0.8),
	})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := p.Resolve(ctx, first[0].ID, "analyst-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Same signal 7 days later: inside the 14-day cooldown.
	p.now = func() time.Time { return fixedNow.AddDate(0, 0, 7) }
	second, err := p.ProcessRun(ctx, testRun(), []*drift.DriftEvent{
		driftEvent(payerID, 0.6, 0.8),
	})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second[0].Status != StatusSuppressed || *second[0].SuppressReason != ReasonCooldown {
		t.Errorf("status/reason = %q/%v, want suppressed/cooldown", second[0].Status, second[0].SuppressReason)
	}

	// Severe regression cuts through cooldown.
	third, err := p.ProcessRun(ctx, testRun(), []*drift.DriftEvent{
		driftEvent(payerID, 0.85, 0.8),
	})
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if third[0].Status != StatusOpen {
		t.Errorf("severe alert status = %q, want open despite cooldown", third[0].Status)
	}
}

func TestProcessRunCooldownExpires(t *testing.T) {
	p, _, _ := newTestProcessor()
	payerID := uuid.New()
	ctx := context.Background()

	first, err := p.ProcessRun(ctx, testRun(), []*drift.DriftEvent{
		driftEvent(payerID, 0.6, 0.8),
	})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := p.Resolve(ctx, first[0].ID, "analyst-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	p.now = func() time.Time { return fixedNow.AddDate(0, 0, 15) }
	second, err := p.ProcessRun(ctx, testRun(), []*drift.DriftEvent{
		driftEvent(payerID, 0.6, 0.8),
	})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second[0].Status != StatusOpen {
		t.Errorf("status = %q, want open after cooldown expiry", second[0].Status)
	}
}

func TestProcessRunCapacity(t *testing.T) {
	p, _, notifier := newTestProcessor()

	// 12 distinct payers; severities 0.40 .. 0.95 so priority order is
	// unambiguous.
	var events []*drift.DriftEvent
	for i := 0; i < 12; i++ {
		events = append(events, driftEvent(uuid.New(), 0.40+float64(i)*0.05, 0.9))
	}

	created, err := p.ProcessRun(context.Background(), testRun(), events)
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}

	open := findByStatus(created, StatusOpen)
	suppressed := findByStatus(created, StatusSuppressed)
	if len(open) != RunCapacity {
		t.Errorf("open = %d, want %d", len(open), RunCapacity)
	}
	if len(suppressed) != 2 {
		t.Fatalf("suppressed = %d, want 2", len(suppressed))
	}
	for _, a := range suppressed {
		if *a.SuppressReason != ReasonRunCapacity {
			t.Errorf("reason = %q, want run_capacity", *a.SuppressReason)
		}
		// The two lowest severities are the ones dropped.
		if a.Severity > 0.46 {
			t.Errorf("high-priority alert suppressed: severity %v", a.Severity)
		}
	}
	if len(notifier.events) != RunCapacity {
		t.Errorf("webhook events = %d, want %d", len(notifier.events), RunCapacity)
	}
}

func TestAcknowledgeAndResolveTransitions(t *testing.T) {
	p, _, _ := newTestProcessor()
	ctx := context.Background()

	created, err := p.ProcessRun(ctx, testRun(), []*drift.DriftEvent{
		driftEvent(uuid.New(), 0.7, 0.8),
	})
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}
	id := created[0].ID

	a, err := p.Acknowledge(ctx, id, "analyst-1")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if a.Status != StatusAcknowledged || a.AcknowledgedBy == nil || *a.AcknowledgedBy != "analyst-1" {
		t.Errorf("ack state = %q/%v", a.Status, a.AcknowledgedBy)
	}

	// Double-acknowledge conflicts.
	if _, err := p.Acknowledge(ctx, id, "analyst-1"); err != ErrInvalidTransition {
		t.Errorf("second ack err = %v, want ErrInvalidTransition", err)
	}

	a, err = p.Resolve(ctx, id, "analyst-2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.Status != StatusResolved || a.ResolvedAt == nil {
		t.Errorf("resolve state = %q/%v", a.Status, a.ResolvedAt)
	}

	if _, err := p.Resolve(ctx, id, "analyst-2"); err != ErrInvalidTransition {
		t.Errorf("second resolve err = %v, want ErrInvalidTransition", err)
	}
}

func TestSuppressedAlertCannotTransition(t *testing.T) {
	p, _, _ := newTestProcessor()
	ctx := context.Background()

	created, err := p.ProcessRun(ctx, testRun(), []*drift.DriftEvent{
		driftEvent(uuid.New(), 0.9, 0.3),
	})
	if err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}
	id := created[0].ID

	if _, err := p.Acknowledge(ctx, id, "u"); err != ErrInvalidTransition {
		t.Errorf("ack err = %v, want ErrInvalidTransition", err)
	}
	if _, err := p.Resolve(ctx, id, "u"); err != ErrInvalidTransition {
		t.Errorf("resolve err = %v, want ErrInvalidTransition", err)
	}
}
