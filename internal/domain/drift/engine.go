package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Detection thresholds. A signal fires only when both its absolute and
// relative thresholds hold; the original either/or rule produced too much
// noise on small payers.
const (
	// MinSample is the minimum decided-claim count in the current window for
	// relative-delta signals to fire.
	MinSample = 30

	// denial_rate: absolute delta in percentage points and relative delta.
	denialRateMinDeltaPts = 2.0
	denialRateMinRelative = 0.15

	// decision_time: absolute delta in days and relative delta.
	decisionTimeMinDeltaDays = 1.5
	decisionTimeMinRelative  = 0.20

	// denial_dollars: current weekly denied-dollar rate must be at least this
	// multiple of the baseline rate, and current-window denied dollars must
	// clear the absolute floor.
	denialDollarsMinRatio = 1.5
	denialDollarsFloor    = 10000.0

	// Severity saturation per metric: relative delta at which severity
	// reaches 1.0.
	denialRateSaturation    = 1.0
	decisionTimeSaturation  = 2.0
	denialDollarsSaturation = 3.0

	// confidenceK dampens confidence on thin current windows:
	// confidence = n/(n+k).
	confidenceK = 50.0
)

// Params configures one engine run. Zero fields fall back to defaults.
type Params struct {
	AsOf          time.Time
	BaselineWeeks int
	CurrentWeeks  int
}

// DefaultBaselineWeeks and DefaultCurrentWeeks are the standard dual-window
// sizes.
const (
	DefaultBaselineWeeks = 8
	DefaultCurrentWeeks  = 2
)

func (p *Params) applyDefaults(now time.Time) {
	if p.AsOf.IsZero() {
		p.AsOf = now.UTC().Truncate(24 * time.Hour)
	}
	if p.BaselineWeeks <= 0 {
		p.BaselineWeeks = DefaultBaselineWeeks
	}
	if p.CurrentWeeks <= 0 {
		p.CurrentWeeks = DefaultCurrentWeeks
	}
}

// windows returns the half-open baseline and current windows:
// current = [asof − currentWeeks, asof)
// baseline = [asof − currentWeeks − baselineWeeks, asof − currentWeeks)
func (p Params) windows() (baseFrom, baseTo, curFrom, curTo time.Time) {
	curTo = p.AsOf
	curFrom = curTo.AddDate(0, 0, -7*p.CurrentWeeks)
	baseTo = curFrom
	baseFrom = baseTo.AddDate(0, 0, -7*p.BaselineWeeks)
	return
}

// TxRunner executes fn inside a transaction. The engine uses it so the whole
// run commits or rolls back atomically; tests substitute a pass-through.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Engine computes drift events for one ReportRun.
type Engine struct {
	runs   RunRepository
	events EventRepository
	aggs   AggregateRepository
	inTx   TxRunner
	logger zerolog.Logger
	now    func() time.Time
}

func NewEngine(runs RunRepository, events EventRepository, aggs AggregateRepository, inTx TxRunner, logger zerolog.Logger) *Engine {
	return &Engine{
		runs:   runs,
		events: events,
		aggs:   aggs,
		inTx:   inTx,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes the drift computation: creates a ReportRun, aggregates both
// windows, scores signals, and persists events. Aggregation and event writes
// happen in one transaction; a failure marks the run failed and leaves no
// partial events.
func (e *Engine) Run(ctx context.Context, params Params) (*ReportRun, error) {
	params.applyDefaults(e.now())

	run := &ReportRun{
		Status:        RunStatusPending,
		AsOf:          params.AsOf,
		BaselineWeeks: params.BaselineWeeks,
		CurrentWeeks:  params.CurrentWeeks,
	}
	if err := e.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("creating report run: %w", err)
	}

	started := e.now().UTC()
	run.Status = RunStatusRunning
	run.StartedAt = &started
	if err := e.runs.Update(ctx, run); err != nil {
		return nil, fmt.Errorf("starting report run: %w", err)
	}

	err := e.inTx(ctx, func(txCtx context.Context) error {
		return e.compute(txCtx, run, params)
	})
	if err != nil {
		detail := err.Error()
		run.Status = RunStatusFailed
		run.ErrorDetail = &detail
		if uerr := e.runs.Update(ctx, run); uerr != nil {
			e.logger.Error().Err(uerr).Str("run_id", run.ID.String()).Msg("failed to mark run failed")
		}
		return run, err
	}

	e.logger.Info().
		Str("run_id", run.ID.String()).
		Int("payers", run.PayersEvaluated).
		Int("events", run.EventsDetected).
		Msg("drift run completed")
	return run, nil
}

func (e *Engine) compute(ctx context.Context, run *ReportRun, params Params) error {
	baseFrom, baseTo, curFrom, curTo := params.windows()

	baseStats, err := e.aggs.PayerStats(ctx, baseFrom, baseTo)
	if err != nil {
		return fmt.Errorf("aggregating baseline window: %w", err)
	}
	curStats, err := e.aggs.PayerStats(ctx, curFrom, curTo)
	if err != nil {
		return fmt.Errorf("aggregating current window: %w", err)
	}

	var events []*DriftEvent
	for payerID, cur := range curStats {
		base := baseStats[payerID]
		events = append(events, evaluatePayer(cur, base, curFrom, curTo)...)
	}

	baseCats, err := e.aggs.CategoryDeniedDollars(ctx, baseFrom, baseTo)
	if err != nil {
		return fmt.Errorf("aggregating baseline categories: %w", err)
	}
	curCats, err := e.aggs.CategoryDeniedDollars(ctx, curFrom, curTo)
	if err != nil {
		return fmt.Errorf("aggregating current categories: %w", err)
	}
	events = append(events, evaluateCategories(curCats, baseCats, curStats, baseStats, params, curFrom, curTo)...)

	for _, ev := range events {
		ev.ReportRunID = run.ID
		if err := e.events.Create(ctx, ev); err != nil {
			return fmt.Errorf("persisting drift event: %w", err)
		}
	}

	completed := e.now().UTC()
	run.Status = RunStatusCompleted
	run.CompletedAt = &completed
	run.PayersEvaluated = len(curStats)
	run.EventsDetected = len(events)

	summary, err := buildSummary(run, events)
	if err != nil {
		return fmt.Errorf("building summary: %w", err)
	}
	run.Summary = summary

	return e.runs.Update(ctx, run)
}

// evaluatePayer scores the denial_rate and decision_time signals for one
// payer. A payer with zero baseline decided claims is skipped: there is no
// meaningful relative delta.
func evaluatePayer(cur, base *PayerWindowStats, windowStart, windowEnd time.Time) []*DriftEvent {
	if base == nil || base.DecidedCount == 0 {
		return nil
	}
	if cur.DecidedCount < MinSample {
		return nil
	}

	var events []*DriftEvent
	conf := confidence(cur.DecidedCount, base.DecidedCount)

	// denial_rate
	curRate, baseRate := cur.DenialRate(), base.DenialRate()
	deltaPts := (curRate - baseRate) * 100
	if baseRate > 0 {
		rel := (curRate - baseRate) / baseRate
		if deltaPts >= denialRateMinDeltaPts && rel >= denialRateMinRelative {
			events = append(events, &DriftEvent{
				PayerID:       cur.PayerID,
				Metric:        MetricDenialRate,
				BaselineValue: baseRate,
				CurrentValue:  curRate,
				Delta:         curRate - baseRate,
				Severity:      clamp01(rel / denialRateSaturation),
				Confidence:    conf,
				WindowStart:   windowStart,
				WindowEnd:     windowEnd,
			})
		}
	}

	// decision_time
	deltaDays := cur.MeanDecisionDays - base.MeanDecisionDays
	if base.MeanDecisionDays > 0 {
		rel := deltaDays / base.MeanDecisionDays
		if deltaDays >= decisionTimeMinDeltaDays && rel >= decisionTimeMinRelative {
			events = append(events, &DriftEvent{
				PayerID:       cur.PayerID,
				Metric:        MetricDecisionTime,
				BaselineValue: base.MeanDecisionDays,
				CurrentValue:  cur.MeanDecisionDays,
				Delta:         deltaDays,
				Severity:      clamp01(rel / decisionTimeSaturation),
				Confidence:    conf,
				WindowStart:   windowStart,
				WindowEnd:     windowEnd,
			})
		}
	}

	return events
}

// evaluateCategories scores the denial_dollars signal per payer × procedure
// category. Dollar sums are normalized to weekly rates so the unequal window
// lengths compare fairly. The absolute floor applies even when the baseline
// is empty.
func evaluateCategories(curCats, baseCats []*CategoryStats, curStats, baseStats map[uuid.UUID]*PayerWindowStats, params Params, windowStart, windowEnd time.Time) []*DriftEvent {
	type key struct {
		payer    uuid.UUID
		category string
	}
	baseByKey := make(map[key]*CategoryStats, len(baseCats))
	for _, s := range baseCats {
		baseByKey[key{s.PayerID, s.Category}] = s
	}

	var events []*DriftEvent
	for _, cur := range curCats {
		if cur.DeniedDollars < denialDollarsFloor {
			continue
		}

		curWeekly := cur.DeniedDollars / float64(params.CurrentWeeks)
		var baseWeekly float64
		if base := baseByKey[key{cur.PayerID, cur.Category}]; base != nil {
			baseWeekly = base.DeniedDollars / float64(params.BaselineWeeks)
		}
		if baseWeekly > 0 && curWeekly < denialDollarsMinRatio*baseWeekly {
			continue
		}

		var rel float64
		if baseWeekly > 0 {
			rel = (curWeekly - baseWeekly) / baseWeekly
		} else {
			// No baseline spend at all: treat as fully saturated.
			rel = denialDollarsSaturation
		}

		curN, baseN := 0, 0
		if s := curStats[cur.PayerID]; s != nil {
			curN = s.DecidedCount
		}
		if s := baseStats[cur.PayerID]; s != nil {
			baseN = s.DecidedCount
		}

		category := cur.Category
		events = append(events, &DriftEvent{
			PayerID:           cur.PayerID,
			Metric:            MetricDenialDollars,
			ProcedureCategory: &category,
			BaselineValue:     baseWeekly,
			CurrentValue:      curWeekly,
			Delta:             curWeekly - baseWeekly,
			Severity:          clamp01(rel / denialDollarsSaturation),
			Confidence:        confidence(curN, baseN),
			WindowStart:       windowStart,
			WindowEnd:         windowEnd,
		})
	}
	return events
}

// confidence maps the current-window decided count n to [0,1) via n/(n+k),
// damped by half when the baseline window is thin.
func confidence(currentN, baselineN int) float64 {
	c := float64(currentN) / (float64(currentN) + confidenceK)
	if baselineN < MinSample {
		c *= 0.5
	}
	return c
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// runSummary is the JSON persisted on a completed ReportRun.
type runSummary struct {
	AsOf            time.Time      `json:"asof"`
	BaselineWeeks   int            `json:"baseline_weeks"`
	CurrentWeeks    int            `json:"current_weeks"`
	PayersEvaluated int            `json:"payers_evaluated"`
	EventsDetected  int            `json:"events_detected"`
	EventsByMetric  map[string]int `json:"events_by_metric"`
	MaxSeverity     float64        `json:"max_severity"`
}

func buildSummary(run *ReportRun, events []*DriftEvent) ([]byte, error) {
	s := runSummary{
		AsOf:            run.AsOf,
		BaselineWeeks:   run.BaselineWeeks,
		CurrentWeeks:    run.CurrentWeeks,
		PayersEvaluated: run.PayersEvaluated,
		EventsDetected:  run.EventsDetected,
		EventsByMetric:  make(map[string]int),
	}
	for _, e := range events {
		s.EventsByMetric[e.Metric]++
		if e.Severity > s.MaxSeverity {
			s.MaxSeverity = e.Severity
		}
	}
	return json.Marshal(s)
}
