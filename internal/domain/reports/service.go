package reports

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
	"github.com/rs/zerolog"

	"github.com/upstream/upstream/internal/domain/drift"
	"github.com/upstream/upstream/internal/platform/cache"
	"github.com/upstream/upstream/internal/platform/db"
)

var (
	ErrRunNotFound     = errors.New("report run not found")
	ErrRunNotCompleted = errors.New("report run is not completed")
)

// DefaultCacheTTL bounds staleness of cached summaries. Completed runs are
// immutable, so the TTL only limits cache growth.
const DefaultCacheTTL = time.Hour

const eventPageSize = 500

// Service renders report views of a completed drift run. All content derives
// from the persisted ReportRun and its DriftEvents.
type Service struct {
	runs     drift.RunRepository
	events   drift.EventRepository
	cache    cache.Store
	logger   zerolog.Logger
	cacheTTL time.Duration
}

func NewService(runs drift.RunRepository, events drift.EventRepository, store cache.Store, logger zerolog.Logger) *Service {
	return &Service{
		runs:     runs,
		events:   events,
		cache:    store,
		logger:   logger,
		cacheTTL: DefaultCacheTTL,
	}
}

func (s *Service) completedRun(ctx context.Context, id uuid.UUID) (*drift.ReportRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, ErrRunNotFound
	}
	if run.Status != drift.RunStatusCompleted {
		return nil, ErrRunNotCompleted
	}
	return run, nil
}

func (s *Service) runEvents(ctx context.Context, id uuid.UUID) ([]*drift.DriftEvent, error) {
	var all []*drift.DriftEvent
	for offset := 0; ; offset += eventPageSize {
		page, total, err := s.events.List(ctx, drift.EventFilter{ReportRunID: &id}, eventPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(all) >= total || len(page) == 0 {
			return all, nil
		}
	}
}

// summaryDocument is the JSON body of GET /reports/runs/:id/summary.
type summaryDocument struct {
	Run       *drift.ReportRun    `json:"run"`
	Summary   json.RawMessage     `json:"summary"`
	TopEvents []*drift.DriftEvent `json:"top_events"`
}

const topEventCount = 5

// Summary renders the cached summary JSON for a completed run.
func (s *Service) Summary(ctx context.Context, id uuid.UUID) ([]byte, error) {
	key := summaryCacheKey(db.TenantFromContext(ctx), id)
	if s.cache != nil {
		if body, err := s.cache.Get(ctx, key); err == nil {
			return body, nil
		}
	}

	run, err := s.completedRun(ctx, id)
	if err != nil {
		return nil, err
	}
	// Events come back ordered by severity descending.
	top, _, err := s.events.List(ctx, drift.EventFilter{ReportRunID: &id}, topEventCount, 0)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(summaryDocument{
		Run:       run,
		Summary:   run.Summary,
		TopEvents: top,
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, body, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("run_id", id.String()).Msg("caching report summary")
		}
	}
	return body, nil
}

func summaryCacheKey(tenantID string, id uuid.UUID) string {
	return fmt.Sprintf("report:summary:%s:%s", tenantID, id)
}

var csvHeader = []string{
	"event_id", "payer_id", "metric", "procedure_category",
	"baseline_value", "current_value", "delta", "severity", "confidence",
	"window_start", "window_end",
}

// WriteCSV streams the run's drift events as CSV, one row per event.
func (s *Service) WriteCSV(ctx context.Context, id uuid.UUID, w io.Writer) error {
	if _, err := s.completedRun(ctx, id); err != nil {
		return err
	}
	events, err := s.runEvents(ctx, id)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range events {
		category := ""
		if e.ProcedureCategory != nil {
			category = *e.ProcedureCategory
		}
		row := []string{
			e.ID.String(),
			e.PayerID.String(),
			e.Metric,
			category,
			formatFloat(e.BaselineValue),
			formatFloat(e.CurrentValue),
			formatFloat(e.Delta),
			formatFloat(e.Severity),
			formatFloat(e.Confidence),
			e.WindowStart.UTC().Format(time.RFC3339),
			e.WindowEnd.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// WritePDF renders a summary page followed by the events table.
func (s *Service) WritePDF(ctx context.Context, id uuid.UUID, w io.Writer) error {
	run, err := s.completedRun(ctx, id)
	if err != nil {
		return err
	}
	events, err := s.runEvents(ctx, id)
	if err != nil {
		return err
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Payer Drift Report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 12, "Payer Drift Report")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 11)
	writeKV := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(55, 7, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
	}
	writeKV("Run ID", run.ID.String())
	writeKV("As of", run.AsOf.UTC().Format("2006-01-02"))
	writeKV("Baseline window", fmt.Sprintf("%d weeks", run.BaselineWeeks))
	writeKV("Current window", fmt.Sprintf("%d weeks", run.CurrentWeeks))
	writeKV("Payers evaluated", strconv.Itoa(run.PayersEvaluated))
	writeKV("Events detected", strconv.Itoa(run.EventsDetected))
	if run.CompletedAt != nil {
		writeKV("Completed at", run.CompletedAt.UTC().Format(time.RFC3339))
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 10, "Drift Events")
	pdf.Ln(12)

	headers := []string{"Payer", "Metric", "Category", "Baseline", "Current", "Delta", "Severity", "Confidence"}
	widths := []float64{62, 34, 24, 28, 28, 28, 26, 26}

	writeTableHeader := func() {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for i, h := range headers {
			pdf.CellFormat(widths[i], 8, h, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
	writeTableHeader()

	pdf.SetFont("Helvetica", "", 9)
	for _, e := range events {
		if pdf.GetY() > 180 {
			pdf.AddPage()
			writeTableHeader()
			pdf.SetFont("Helvetica", "", 9)
		}
		category := "-"
		if e.ProcedureCategory != nil {
			category = *e.ProcedureCategory
		}
		cells := []string{
			e.PayerID.String(),
			e.Metric,
			category,
			formatFloat(e.BaselineValue),
			formatFloat(e.CurrentValue),
			formatFloat(e.Delta),
			formatFloat(e.Severity),
			formatFloat(e.Confidence),
		}
		for i, cell := range cells {
			pdf.CellFormat(widths[i], 7, cell, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(events) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.Cell(0, 8, "No drift events detected in this run.")
		pdf.Ln(10)
	}

	return pdf.Output(w)
}
