package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/upstream/upstream/internal/domain/claims"
)

var ErrNoRecords = errors.New("no records")

// requiredColumns must all appear in the CSV header. external_ref is optional;
// when present, duplicate refs upsert instead of inserting.
var requiredColumns = []string{
	"payer_code", "member_ref", "provider_ref", "procedure_code",
	"diagnosis_code", "billed_amount", "paid_amount", "status",
	"denial_code", "submitted_at", "decided_at",
}

// Service ingests claims from CSV uploads and webhook posts. Unknown payer
// codes auto-register the payer.
type Service struct {
	uploads UploadRepository
	claims  *claims.Service
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(uploads UploadRepository, claimSvc *claims.Service, logger zerolog.Logger) *Service {
	return &Service{
		uploads: uploads,
		claims:  claimSvc,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) GetUpload(ctx context.Context, id uuid.UUID) (*Upload, error) {
	return s.uploads.GetByID(ctx, id)
}

func (s *Service) ListUploads(ctx context.Context, limit, offset int) ([]*Upload, int, error) {
	return s.uploads.List(ctx, limit, offset)
}

// ProcessCSV parses and ingests a claims CSV. Malformed rows are counted and
// reported in error_detail; the upload only fails when the file is empty or
// every row is rejected. The Upload record survives either way so the caller
// can poll its status.
func (s *Service) ProcessCSV(ctx context.Context, filename string, r io.Reader) (*Upload, error) {
	upload := &Upload{
		Filename: filename,
		Source:   SourceCSV,
		Status:   StatusReceived,
	}
	if err := s.uploads.Create(ctx, upload); err != nil {
		return nil, fmt.Errorf("creating upload: %w", err)
	}

	upload.Status = StatusProcessing
	if err := s.uploads.Update(ctx, upload); err != nil {
		return nil, fmt.Errorf("starting upload: %w", err)
	}

	rowCount, errCount, rowErrs, err := s.ingestCSV(ctx, upload, r)
	upload.RowCount = rowCount
	upload.ErrorCount = errCount

	completed := s.now().UTC()
	upload.CompletedAt = &completed

	switch {
	case err != nil:
		detail := err.Error()
		upload.Status = StatusFailed
		upload.ErrorDetail = &detail
	case rowCount == 0:
		detail := ErrNoRecords.Error()
		upload.Status = StatusFailed
		upload.ErrorDetail = &detail
	case errCount == rowCount:
		detail := "all rows failed: " + strings.Join(truncateErrs(rowErrs), "; ")
		upload.Status = StatusFailed
		upload.ErrorDetail = &detail
	default:
		upload.Status = StatusCompleted
		if errCount > 0 {
			detail := strings.Join(truncateErrs(rowErrs), "; ")
			upload.ErrorDetail = &detail
		}
	}

	if uerr := s.uploads.Update(ctx, upload); uerr != nil {
		return upload, fmt.Errorf("finalizing upload: %w", uerr)
	}

	s.logger.Info().
		Str("upload_id", upload.ID.String()).
		Str("status", upload.Status).
		Int("rows", rowCount).
		Int("errors", errCount).
		Msg("csv upload processed")
	return upload, nil
}

// truncateErrs keeps error_detail bounded on large bad files.
func truncateErrs(errs []string) []string {
	const maxReported = 10
	if len(errs) > maxReported {
		return append(errs[:maxReported], fmt.Sprintf("and %d more", len(errs)-maxReported))
	}
	return errs
}

func (s *Service) ingestCSV(ctx context.Context, upload *Upload, r io.Reader) (rows, errCount int, rowErrs []string, err error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return 0, 0, nil, nil
	}
	if err != nil {
		return 0, 0, nil, fmt.Errorf("reading header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return 0, 0, nil, fmt.Errorf("missing column %q", name)
		}
	}

	line := 1
	for {
		record, rerr := cr.Read()
		if rerr == io.EOF {
			break
		}
		line++
		if rerr != nil {
			rows++
			errCount++
			rowErrs = append(rowErrs, fmt.Sprintf("line %d: %v", line, rerr))
			continue
		}
		rows++
		if perr := s.ingestRow(ctx, upload, col, record); perr != nil {
			errCount++
			rowErrs = append(rowErrs, fmt.Sprintf("line %d: %v", line, perr))
		}
	}
	return rows, errCount, rowErrs, nil
}

func (s *Service) ingestRow(ctx context.Context, upload *Upload, col map[string]int, record []string) error {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	payerCode := field("payer_code")
	if payerCode == "" {
		return errors.New("payer_code is empty")
	}
	payer, err := s.claims.EnsurePayer(ctx, payerCode, "")
	if err != nil {
		return fmt.Errorf("resolving payer %q: %w", payerCode, err)
	}

	billed, err := strconv.ParseFloat(field("billed_amount"), 64)
	if err != nil {
		return fmt.Errorf("invalid billed_amount %q", field("billed_amount"))
	}

	submittedAt, err := parseTimestamp(field("submitted_at"))
	if err != nil {
		return fmt.Errorf("invalid submitted_at %q", field("submitted_at"))
	}

	claim := &claims.Claim{
		PayerID:       payer.ID,
		MemberRef:     field("member_ref"),
		ProviderRef:   field("provider_ref"),
		ProcedureCode: field("procedure_code"),
		BilledAmount:  billed,
		Status:        field("status"),
		SubmittedAt:   submittedAt,
		UploadID:      &upload.ID,
	}
	if v := field("external_ref"); v != "" {
		claim.ExternalRef = &v
	}
	if v := field("diagnosis_code"); v != "" {
		claim.DiagnosisCode = &v
	}
	if v := field("denial_code"); v != "" {
		claim.DenialCode = &v
	}
	if v := field("paid_amount"); v != "" {
		paid, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid paid_amount %q", v)
		}
		claim.PaidAmount = &paid
	}
	if v := field("decided_at"); v != "" {
		decided, err := parseTimestamp(v)
		if err != nil {
			return fmt.Errorf("invalid decided_at %q", v)
		}
		claim.DecidedAt = &decided
	}

	if claim.ExternalRef != nil {
		return s.claims.UpsertClaim(ctx, claim)
	}
	return s.claims.CreateClaim(ctx, claim)
}

func parseTimestamp(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

// WebhookClaim is the JSON body of POST /webhooks/claims.
type WebhookClaim struct {
	ExternalRef   *string    `json:"external_ref,omitempty"`
	PayerCode     string     `json:"payer_code"`
	PayerName     string     `json:"payer_name,omitempty"`
	MemberRef     string     `json:"member_ref"`
	ProviderRef   string     `json:"provider_ref"`
	ProcedureCode string     `json:"procedure_code"`
	DiagnosisCode *string    `json:"diagnosis_code,omitempty"`
	BilledAmount  float64    `json:"billed_amount"`
	PaidAmount    *float64   `json:"paid_amount,omitempty"`
	Status        string     `json:"status"`
	DenialCode    *string    `json:"denial_code,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}

// IngestWebhookClaim upserts a single claim received on the claims webhook.
func (s *Service) IngestWebhookClaim(ctx context.Context, wc *WebhookClaim) (*claims.Claim, error) {
	if wc.PayerCode == "" {
		return nil, errors.New("payer_code is required")
	}
	payer, err := s.claims.EnsurePayer(ctx, wc.PayerCode, wc.PayerName)
	if err != nil {
		return nil, fmt.Errorf("resolving payer %q: %w", wc.PayerCode, err)
	}

	claim := &claims.Claim{
		ExternalRef:   wc.ExternalRef,
		PayerID:       payer.ID,
		MemberRef:     wc.MemberRef,
		ProviderRef:   wc.ProviderRef,
		ProcedureCode: wc.ProcedureCode,
		DiagnosisCode: wc.DiagnosisCode,
		BilledAmount:  wc.BilledAmount,
		PaidAmount:    wc.PaidAmount,
		Status:        wc.Status,
		DenialCode:    wc.DenialCode,
		SubmittedAt:   wc.SubmittedAt,
		DecidedAt:     wc.DecidedAt,
	}
	if claim.ExternalRef != nil {
		if err := s.claims.UpsertClaim(ctx, claim); err != nil {
			return nil, err
		}
		return claim, nil
	}
	if err := s.claims.CreateClaim(ctx, claim); err != nil {
		return nil, err
	}
	return claim, nil
}
