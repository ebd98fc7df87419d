package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/upstream/upstream/internal/domain/drift"
	"github.com/upstream/upstream/internal/platform/db"
	"github.com/upstream/upstream/internal/platform/webhook"
)

// Suppression pipeline parameters.
const (
	// MinConfidence is the floor below which a drift event never becomes an
	// open alert.
	MinConfidence = 0.5

	// DuplicateBump is the severity increase that updates an existing open
	// alert instead of being silently dropped as a duplicate.
	DuplicateBump = 0.2

	// CooldownDays suppresses re-alerting on a recently resolved signal.
	CooldownDays = 14

	// CooldownOverrideSeverity lets severe regressions cut through cooldown.
	CooldownOverrideSeverity = 0.8

	// RunCapacity caps the open alerts a single run may produce.
	RunCapacity = 10
)

// Transition errors.
var (
	ErrNotFound          = errors.New("alert not found")
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

// Notifier fans an event out to registered webhook endpoints. Satisfied by
// webhook.Manager.
type Notifier interface {
	Deliver(ctx context.Context, event webhook.Event) []webhook.DeliveryResult
}

// PayerNameFunc resolves a payer ID to its display name for alert text.
type PayerNameFunc func(ctx context.Context, id uuid.UUID) (string, error)

// Processor turns drift events into alerts, running each candidate through
// the suppression pipeline, and owns the alert status lifecycle.
type Processor struct {
	alerts    Repository
	notifier  Notifier
	payerName PayerNameFunc
	logger    zerolog.Logger
	now       func() time.Time
}

func NewProcessor(alerts Repository, notifier Notifier, payerName PayerNameFunc, logger zerolog.Logger) *Processor {
	return &Processor{
		alerts:    alerts,
		notifier:  notifier,
		payerName: payerName,
		logger:    logger,
		now:       time.Now,
	}
}

// ProcessRun evaluates every event from a completed run. Suppressed alerts
// are persisted with their reason so analysts can audit what was dropped.
// Returns all created alerts, open and suppressed.
func (p *Processor) ProcessRun(ctx context.Context, run *drift.ReportRun, events []*drift.DriftEvent) ([]*Alert, error) {
	var survivors []*Alert
	var created []*Alert

	for _, ev := range events {
		a := &Alert{
			DriftEventID:      ev.ID,
			ReportRunID:       run.ID,
			PayerID:           ev.PayerID,
			Metric:            ev.Metric,
			ProcedureCategory: ev.ProcedureCategory,
			Severity:          ev.Severity,
			Confidence:        ev.Confidence,
		}
		a.Title, a.Body = p.composeText(ctx, ev)

		suppressed, err := p.preCapacityStages(ctx, a)
		if err != nil {
			return created, err
		}
		if suppressed {
			if err := p.suppressAndRecord(ctx, a, &created); err != nil {
				return created, err
			}
			continue
		}
		survivors = append(survivors, a)
	}

	// Highest-priority survivors open; the rest hit run capacity.
	sort.Slice(survivors, func(i, j int) bool {
		return survivors[i].Priority() > survivors[j].Priority()
	})
	for i, a := range survivors {
		if i >= RunCapacity {
			reason := ReasonRunCapacity
			a.SuppressReason = &reason
			if err := p.suppressAndRecord(ctx, a, &created); err != nil {
				return created, err
			}
			continue
		}
		a.Status = StatusOpen
		if err := p.alerts.Create(ctx, a); err != nil {
			return created, fmt.Errorf("creating alert: %w", err)
		}
		created = append(created, a)
		p.notifyCreated(ctx, a)
	}

	p.logger.Info().
		Str("run_id", run.ID.String()).
		Int("alerts_created", len(created)).
		Msg("alert pipeline completed")
	return created, nil
}

// preCapacityStages runs the low-confidence, duplicate and cooldown checks.
// When the alert is suppressed its SuppressReason is set and true is returned.
func (p *Processor) preCapacityStages(ctx context.Context, a *Alert) (bool, error) {
	if a.Confidence < MinConfidence {
		reason := ReasonLowConfidence
		a.SuppressReason = &reason
		return true, nil
	}

	existing, err := p.alerts.FindOpen(ctx, a.PayerID, a.Metric, a.ProcedureCategory)
	if err != nil {
		return false, fmt.Errorf("checking open alerts: %w", err)
	}
	if existing != nil {
		if a.Severity >= existing.Severity+DuplicateBump {
			existing.Severity = a.Severity
			if err := p.alerts.Update(ctx, existing); err != nil {
				return false, fmt.Errorf("bumping alert severity: %w", err)
			}
		}
		reason := ReasonDuplicateOpen
		a.SuppressReason = &reason
		return true, nil
	}

	if a.Severity < CooldownOverrideSeverity {
		resolved, err := p.alerts.LastResolved(ctx, a.PayerID, a.Metric, a.ProcedureCategory)
		if err != nil {
			return false, fmt.Errorf("checking resolved alerts: %w", err)
		}
		if resolved != nil && resolved.ResolvedAt != nil &&
			p.now().Sub(*resolved.ResolvedAt) < CooldownDays*24*time.Hour {
			reason := ReasonCooldown
			a.SuppressReason = &reason
			return true, nil
		}
	}
	return false, nil
}

func (p *Processor) suppressAndRecord(ctx context.Context, a *Alert, created *[]*Alert) error {
	a.Status = StatusSuppressed
	if err := p.alerts.Create(ctx, a); err != nil {
		return fmt.Errorf("recording suppressed alert: %w", err)
	}
	*created = append(*created, a)
	return nil
}

// composeText renders the human-readable alert title and body from the
// underlying drift event. All three metrics fire on increases only, so the
// wording is directional.
func (p *Processor) composeText(ctx context.Context, ev *drift.DriftEvent) (string, string) {
	payer := p.payerDisplayName(ctx, ev.PayerID)
	window := fmt.Sprintf("%s to %s",
		ev.WindowStart.Format("2006-01-02"), ev.WindowEnd.Format("2006-01-02"))

	switch ev.Metric {
	case drift.MetricDecisionTime:
		title := fmt.Sprintf("%s decision time up %.1f days", payer, ev.Delta)
		body := fmt.Sprintf("Mean decision time for %s rose from %.1f to %.1f days in the current window (%s).",
			payer, ev.BaselineValue, ev.CurrentValue, window)
		return title, body
	case drift.MetricDenialDollars:
		category := ""
		if ev.ProcedureCategory != nil {
			category = *ev.ProcedureCategory
		}
		title := fmt.Sprintf("%s denied dollars up in category %s", payer, category)
		body := fmt.Sprintf("Weekly denied dollars for %s in procedure category %s rose from $%.2f to $%.2f in the current window (%s).",
			payer, category, ev.BaselineValue, ev.CurrentValue, window)
		return title, body
	default:
		title := fmt.Sprintf("%s denial rate up %.1f pts", payer, ev.Delta*100)
		body := fmt.Sprintf("Denial rate for %s rose from %.1f%% to %.1f%% in the current window (%s).",
			payer, ev.BaselineValue*100, ev.CurrentValue*100, window)
		return title, body
	}
}

// payerDisplayName falls back to the short payer ID when the lookup fails, so
// alert creation never blocks on a missing name.
func (p *Processor) payerDisplayName(ctx context.Context, id uuid.UUID) string {
	if p.payerName != nil {
		if name, err := p.payerName(ctx, id); err == nil && name != "" {
			return name
		}
	}
	return "payer " + id.String()[:8]
}

func (p *Processor) notifyCreated(ctx context.Context, a *Alert) {
	if p.notifier == nil {
		return
	}
	event, err := webhook.NewAlertEvent(db.TenantFromContext(ctx), p.now().UTC(), webhook.AlertPayload{
		AlertID:    a.ID,
		PayerID:    a.PayerID,
		Metric:     a.Metric,
		Title:      a.Title,
		Body:       a.Body,
		Severity:   a.Severity,
		Confidence: a.Confidence,
		Status:     a.Status,
	})
	if err != nil {
		p.logger.Error().Err(err).Str("alert_id", a.ID.String()).Msg("building alert event")
		return
	}
	for _, r := range p.notifier.Deliver(ctx, event) {
		if !r.Succeeded {
			p.logger.Warn().
				Str("alert_id", a.ID.String()).
				Str("endpoint_id", r.EndpointID.String()).
				Msg("alert webhook delivery failed")
		}
	}
}

// Acknowledge moves an open alert to acknowledged.
func (p *Processor) Acknowledge(ctx context.Context, id uuid.UUID, userID string) (*Alert, error) {
	a, err := p.alerts.GetByID(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	if a.Status != StatusOpen {
		return nil, ErrInvalidTransition
	}
	now := p.now().UTC()
	a.Status = StatusAcknowledged
	a.AcknowledgedBy = &userID
	a.AcknowledgedAt = &now
	if err := p.alerts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Resolve closes an open or acknowledged alert. Resolution starts the
// cooldown clock for the payer, metric and category.
func (p *Processor) Resolve(ctx context.Context, id uuid.UUID, userID string) (*Alert, error) {
	a, err := p.alerts.GetByID(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	if a.Status != StatusOpen && a.Status != StatusAcknowledged {
		return nil, ErrInvalidTransition
	}
	now := p.now().UTC()
	a.Status = StatusResolved
	a.ResolvedBy = &userID
	a.ResolvedAt = &now
	if err := p.alerts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
