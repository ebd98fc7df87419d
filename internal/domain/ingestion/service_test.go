package ingestion

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/upstream/upstream/internal/domain/claims"
)

type mockUploadRepo struct {
	uploads map[uuid.UUID]*Upload
}

func newMockUploadRepo() *mockUploadRepo {
	return &mockUploadRepo{uploads: make(map[uuid.UUID]*Upload)}
}

func (m *mockUploadRepo) Create(_ context.Context, u *Upload) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.ReceivedAt = time.Now().UTC()
	cp := *u
	m.uploads[u.ID] = &cp
	return nil
}

func (m *mockUploadRepo) GetByID(_ context.Context, id uuid.UUID) (*Upload, error) {
	u, ok := m.uploads[id]
	if !ok {
		return nil, fmt.Errorf("upload not found")
	}
	cp := *u
	return &cp, nil
}

func (m *mockUploadRepo) List(_ context.Context, limit, offset int) ([]*Upload, int, error) {
	var items []*Upload
	for _, u := range m.uploads {
		cp := *u
		items = append(items, &cp)
	}
	return items, len(items), nil
}

func (m *mockUploadRepo) Update(_ context.Context, u *Upload) error {
	if _, ok := m.uploads[u.ID]; !ok {
		return fmt.Errorf("upload not found")
	}
	cp := *u
	m.uploads[u.ID] = &cp
	return nil
}

type mockPayerRepo struct {
	byCode map[string]*claims.Payer
}

func newMockPayerRepo() *mockPayerRepo {
	return &mockPayerRepo{byCode: make(map[string]*claims.Payer)}
}

func (m *mockPayerRepo) Create(_ context.Context, p *claims.Payer) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.byCode[p.PayerCode] = p
	return nil
}

func (m *mockPayerRepo) GetByID(_ context.Context, id uuid.UUID) (*claims.Payer, error) {
	for _, p := range m.byCode {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("payer not found")
}

func (m *mockPayerRepo) GetByCode(_ context.Context, code string) (*claims.Payer, error) {
	p, ok := m.byCode[code]
	if !ok {
		return nil, fmt.Errorf("payer not found")
	}
	return p, nil
}

func (m *mockPayerRepo) List(_ context.Context, limit, offset int) ([]*claims.Payer, int, error) {
	return nil, len(m.byCode), nil
}

func (m *mockPayerRepo) Update(_ context.Context, p *claims.Payer) error { return nil }
func (m *mockPayerRepo) Delete(_ context.Context, id uuid.UUID) error    { return nil }

type mockClaimRepo struct {
	claims []*claims.Claim
}

func (m *mockClaimRepo) Create(_ context.Context, c *claims.Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	m.claims = append(m.claims, &cp)
	return nil
}

func (m *mockClaimRepo) Upsert(_ context.Context, c *claims.Claim) error {
	if c.ExternalRef != nil {
		for _, existing := range m.claims {
			if existing.ExternalRef != nil && *existing.ExternalRef == *c.ExternalRef {
				c.ID = existing.ID
				*existing = *c
				return nil
			}
		}
	}
	return m.Create(context.Background(), c)
}

func (m *mockClaimRepo) GetByID(_ context.Context, id uuid.UUID) (*claims.Claim, error) {
	for _, c := range m.claims {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("claim not found")
}

func (m *mockClaimRepo) List(_ context.Context, f claims.ClaimFilter, limit, offset int) ([]*claims.Claim, int, error) {
	return m.claims, len(m.claims), nil
}

func (m *mockClaimRepo) Update(_ context.Context, c *claims.Claim) error { return nil }
func (m *mockClaimRepo) Delete(_ context.Context, id uuid.UUID) error    { return nil }

func newTestService() (*Service, *mockUploadRepo, *mockPayerRepo, *mockClaimRepo) {
	uploads := newMockUploadRepo()
	payers := newMockPayerRepo()
	claimRepo := &mockClaimRepo{}
	svc := NewService(uploads, claims.NewService(payers, claimRepo), zerolog.Nop())
	return svc, uploads, payers, claimRepo
}

const csvHeader = "payer_code,member_ref,provider_ref,procedure_code,diagnosis_code,billed_amount,paid_amount,status,denial_code,submitted_at,decided_at"

func TestProcessCSVHappyPath(t *testing.T) {
	svc, _, payers, claimRepo := newTestService()

	body := csvHeader + "\n" +
		"AETNA,M-100,P-1,99213,J20.9,150.00,120.00,paid,,2026-06-01T00:00:00Z,2026-06-10T00:00:00Z\n" +
		"AETNA,M-101,P-1,99214,,220.00,,denied,CO-97,2026-06-02,2026-06-12\n"

	upload, err := svc.ProcessCSV(context.Background(), "claims.csv", strings.NewReader(body))
	if err != nil {
		t.Fatalf("ProcessCSV: %v", err)
	}

	if upload.Status != StatusCompleted {
		t.Errorf("status = %q, want completed (detail: %v)", upload.Status, upload.ErrorDetail)
	}
	if upload.RowCount != 2 || upload.ErrorCount != 0 {
		t.Errorf("rows/errors = %d/%d, want 2/0", upload.RowCount, upload.ErrorCount)
	}
	if upload.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if len(claimRepo.claims) != 2 {
		t.Fatalf("claims stored = %d, want 2", len(claimRepo.claims))
	}
	if _, ok := payers.byCode["AETNA"]; !ok {
		t.Error("unknown payer code was not auto-registered")
	}
	denied := claimRepo.claims[1]
	if denied.DenialCode == nil || *denied.DenialCode != "CO-97" {
		t.Errorf("denial_code = %v, want CO-97", denied.DenialCode)
	}
	if denied.UploadID == nil || *denied.UploadID != upload.ID {
		t.Error("claim not linked to its upload")
	}
}

func TestProcessCSVEmptyFileFails(t *testing.T) {
	svc, _, _, _ := newTestService()

	for _, body := range []string{"", csvHeader + "\n"} {
		upload, err := svc.ProcessCSV(context.Background(), "empty.csv", strings.NewReader(body))
		if err != nil {
			t.Fatalf("ProcessCSV: %v", err)
		}
		if upload.Status != StatusFailed {
			t.Errorf("status = %q, want failed", upload.Status)
		}
		if upload.ErrorDetail == nil || *upload.ErrorDetail != "no records" {
			t.Errorf("error_detail = %v, want no records", upload.ErrorDetail)
		}
	}
}

func TestProcessCSVMalformedRowsCounted(t *testing.T) {
	svc, _, _, claimRepo := newTestService()

	body := csvHeader + "\n" +
		"AETNA,M-100,P-1,99213,,150.00,,paid,,2026-06-01,2026-06-10\n" +
		"AETNA,M-101,P-1,99214,,not-a-number,,denied,CO-97,2026-06-02,\n" +
		"AETNA,M-102,P-1,99215,,80.00,,pending,,bogus-date,\n"

	upload, err := svc.ProcessCSV(context.Background(), "mixed.csv", strings.NewReader(body))
	if err != nil {
		t.Fatalf("ProcessCSV: %v", err)
	}

	if upload.Status != StatusCompleted {
		t.Errorf("status = %q, want completed when some rows succeed", upload.Status)
	}
	if upload.RowCount != 3 || upload.ErrorCount != 2 {
		t.Errorf("rows/errors = %d/%d, want 3/2", upload.RowCount, upload.ErrorCount)
	}
	if upload.ErrorDetail == nil || !strings.Contains(*upload.ErrorDetail, "line 3") {
		t.Errorf("error_detail = %v, want per-line errors", upload.ErrorDetail)
	}
	if len(claimRepo.claims) != 1 {
		t.Errorf("claims stored = %d, want 1", len(claimRepo.claims))
	}
}

func TestProcessCSVAllRowsFailing(t *testing.T) {
	svc, _, _, _ := newTestService()

	body := csvHeader + "\n" +
		"AETNA,M-101,P-1,99214,,not-a-number,,denied,,2026-06-02,\n"

	upload, err := svc.ProcessCSV(context.Background(), "bad.csv", strings.NewReader(body))
	if err != nil {
		t.Fatalf("ProcessCSV: %v", err)
	}
	if upload.Status != StatusFailed {
		t.Errorf("status = %q, want failed when every row fails", upload.Status)
	}
	if upload.ErrorDetail == nil || !strings.Contains(*upload.ErrorDetail, "all rows failed") {
		t.Errorf("error_detail = %v", upload.ErrorDetail)
	}
}

func TestProcessCSVMissingColumn(t *testing.T) {
	svc, _, _, _ := newTestService()

	body := "payer_code,member_ref\nAETNA,M-1\n"
	upload, err := svc.ProcessCSV(context.Background(), "short.csv", strings.NewReader(body))
	if err != nil {
		t.Fatalf("ProcessCSV: %v", err)
	}
	if upload.Status != StatusFailed {
		t.Errorf("status = %q, want failed", upload.Status)
	}
	if upload.ErrorDetail == nil || !strings.Contains(*upload.ErrorDetail, "missing column") {
		t.Errorf("error_detail = %v, want missing column", upload.ErrorDetail)
	}
}

func TestProcessCSVExternalRefUpserts(t *testing.T) {
	svc, _, _, claimRepo := newTestService()

	header := "external_ref," + csvHeader
	body := header + "\n" +
		"X-1,AETNA,M-100,P-1,99213,,150.00,,pending,,2026-06-01,\n" +
		"X-1,AETNA,M-100,P-1,99213,,150.00,140.00,paid,,2026-06-01,2026-06-15\n"

	upload, err := svc.ProcessCSV(context.Background(), "dupes.csv", strings.NewReader(body))
	if err != nil {
		t.Fatalf("ProcessCSV: %v", err)
	}
	if upload.Status != StatusCompleted || upload.ErrorCount != 0 {
		t.Fatalf("status/errors = %q/%d (detail: %v)", upload.Status, upload.ErrorCount, upload.ErrorDetail)
	}
	if len(claimRepo.claims) != 1 {
		t.Fatalf("claims stored = %d, want 1 after upsert", len(claimRepo.claims))
	}
	if claimRepo.claims[0].Status != claims.StatusPaid {
		t.Errorf("status = %q, want paid after upsert", claimRepo.claims[0].Status)
	}
}

func TestIngestWebhookClaim(t *testing.T) {
	svc, _, payers, claimRepo := newTestService()

	ref := "W-42"
	paid := 90.0
	decided := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	wc := &WebhookClaim{
		ExternalRef:   &ref,
		PayerCode:     "CIGNA",
		PayerName:     "Cigna Health",
		MemberRef:     "M-7",
		ProviderRef:   "P-9",
		ProcedureCode: "93000",
		BilledAmount:  120,
		PaidAmount:    &paid,
		Status:        claims.StatusPaid,
		SubmittedAt:   time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC),
		DecidedAt:     &decided,
	}

	claim, err := svc.IngestWebhookClaim(context.Background(), wc)
	if err != nil {
		t.Fatalf("IngestWebhookClaim: %v", err)
	}
	if claim.ID == uuid.Nil {
		t.Error("claim id not assigned")
	}
	if p := payers.byCode["CIGNA"]; p == nil || p.Name != "Cigna Health" {
		t.Errorf("payer = %+v, want auto-registered with name", p)
	}

	// Same external ref updates in place.
	wc.BilledAmount = 130
	if _, err := svc.IngestWebhookClaim(context.Background(), wc); err != nil {
		t.Fatalf("second IngestWebhookClaim: %v", err)
	}
	if len(claimRepo.claims) != 1 {
		t.Errorf("claims stored = %d, want 1", len(claimRepo.claims))
	}
	if claimRepo.claims[0].BilledAmount != 130 {
		t.Errorf("billed = %v, want 130", claimRepo.claims[0].BilledAmount)
	}

	if _, err := svc.IngestWebhookClaim(context.Background(), &WebhookClaim{}); err == nil {
		t.Error("missing payer_code should fail")
	}
}
