package integration

import (
	"context"
	"testing"
	"time"

	"github.com/upstream/upstream/internal/domain/claims"
)

func TestPayerCRUD(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("payer")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
		repo := claims.NewPayerRepoPG(globalDB.Pool)
		svc := claims.NewService(repo, claims.NewClaimRepoPG(globalDB.Pool))

		p := &claims.Payer{PayerCode: "BCBS-TX"}
		if err := svc.CreatePayer(ctx, p); err != nil {
			return err
		}
		if p.Name != "BCBS-TX" {
			t.Errorf("name should default to code, got %q", p.Name)
		}

		got, err := svc.GetPayerByCode(ctx, "BCBS-TX")
		if err != nil {
			return err
		}
		if got.ID != p.ID {
			t.Errorf("GetByCode returned %s, want %s", got.ID, p.ID)
		}

		got.Name = "Blue Cross Blue Shield of Texas"
		if err := svc.UpdatePayer(ctx, got); err != nil {
			return err
		}
		updated, err := svc.GetPayer(ctx, p.ID)
		if err != nil {
			return err
		}
		if updated.Name != "Blue Cross Blue Shield of Texas" {
			t.Errorf("update not persisted, got %q", updated.Name)
		}

		items, total, err := svc.ListPayers(ctx, 10, 0)
		if err != nil {
			return err
		}
		if total != 1 || len(items) != 1 {
			t.Errorf("list = %d items, total %d, want 1/1", len(items), total)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("payer crud: %v", err)
	}
}

func TestClaimLifecycleAndFilters(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("claim")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	payer := createTestPayer(t, ctx, globalDB.Pool, tenantID, "AETNA")

	err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
		svc := claims.NewService(claims.NewPayerRepoPG(globalDB.Pool), claims.NewClaimRepoPG(globalDB.Pool))

		submitted := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
		decided := submitted.AddDate(0, 0, 6)
		paid := 480.0
		c := &claims.Claim{
			PayerID:       payer.ID,
			MemberRef:     "M-1001",
			ProviderRef:   "P-2001",
			ProcedureCode: "99213",
			BilledAmount:  600,
			PaidAmount:    &paid,
			Status:        claims.StatusPaid,
			SubmittedAt:   submitted,
			DecidedAt:     &decided,
		}
		if err := svc.CreateClaim(ctx, c); err != nil {
			return err
		}

		denialCode := "CO-97"
		d := &claims.Claim{
			PayerID:       payer.ID,
			MemberRef:     "M-1002",
			ProviderRef:   "P-2001",
			ProcedureCode: "99214",
			BilledAmount:  750,
			Status:        claims.StatusDenied,
			DenialCode:    &denialCode,
			SubmittedAt:   submitted,
			DecidedAt:     &decided,
		}
		if err := svc.CreateClaim(ctx, d); err != nil {
			return err
		}

		status := claims.StatusDenied
		items, total, err := svc.ListClaims(ctx, claims.ClaimFilter{Status: &status}, 10, 0)
		if err != nil {
			return err
		}
		if total != 1 || len(items) != 1 {
			t.Fatalf("denied filter = %d/%d, want 1/1", len(items), total)
		}
		if items[0].DenialCode == nil || *items[0].DenialCode != "CO-97" {
			t.Errorf("denial code = %v", items[0].DenialCode)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("claim lifecycle: %v", err)
	}
}

func TestClaimUpsertByExternalRef(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("upsert")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	payer := createTestPayer(t, ctx, globalDB.Pool, tenantID, "UHC")

	err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
		svc := claims.NewService(claims.NewPayerRepoPG(globalDB.Pool), claims.NewClaimRepoPG(globalDB.Pool))

		submitted := time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)
		first := &claims.Claim{
			ExternalRef:   ptrStr("CLM-42"),
			PayerID:       payer.ID,
			MemberRef:     "M-1",
			ProviderRef:   "P-1",
			ProcedureCode: "93000",
			BilledAmount:  120,
			Status:        claims.StatusPending,
			SubmittedAt:   submitted,
		}
		if err := svc.UpsertClaim(ctx, first); err != nil {
			return err
		}

		// Re-sent with an adjudication outcome: same row, updated fields.
		decided := submitted.AddDate(0, 0, 4)
		second := &claims.Claim{
			ExternalRef:   ptrStr("CLM-42"),
			PayerID:       payer.ID,
			MemberRef:     "M-1",
			ProviderRef:   "P-1",
			ProcedureCode: "93000",
			BilledAmount:  120,
			Status:        claims.StatusPaid,
			SubmittedAt:   submitted,
			DecidedAt:     &decided,
		}
		if err := svc.UpsertClaim(ctx, second); err != nil {
			return err
		}

		items, total, err := svc.ListClaims(ctx, claims.ClaimFilter{}, 10, 0)
		if err != nil {
			return err
		}
		if total != 1 || len(items) != 1 {
			t.Fatalf("upsert duplicated rows: %d/%d", len(items), total)
		}
		if items[0].Status != claims.StatusPaid {
			t.Errorf("status = %q, want paid after upsert", items[0].Status)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("claim upsert: %v", err)
	}
}
