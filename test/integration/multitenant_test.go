package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/upstream/upstream/internal/domain/drift"
)

func TestMultiTenantIsolation(t *testing.T) {
	ctx := context.Background()
	tenantA := uniqueTenantID("tenanta")
	tenantB := uniqueTenantID("tenantb")

	createTenantSchema(t, ctx, tenantA)
	defer dropTenantSchema(t, ctx, tenantA)
	createTenantSchema(t, ctx, tenantB)
	defer dropTenantSchema(t, ctx, tenantB)

	payerA := createTestPayer(t, ctx, globalDB.Pool, tenantA, "BCBS")
	payerB := createTestPayer(t, ctx, globalDB.Pool, tenantB, "BCBS")

	decided := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)
	seedDecidedClaims(t, ctx, tenantA, payerA.ID, 3, 1, decided, 5, "99213", 200)
	seedDecidedClaims(t, ctx, tenantB, payerB.ID, 1, 0, decided, 5, "99213", 200)

	count := func(tenantID string) int {
		var n int
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			return connFromCtx(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM claims").Scan(&n)
		})
		if err != nil {
			t.Fatalf("count claims in %s: %v", tenantID, err)
		}
		return n
	}

	if got := count(tenantA); got != 3 {
		t.Errorf("tenant A claims = %d, want 3", got)
	}
	if got := count(tenantB); got != 1 {
		t.Errorf("tenant B claims = %d, want 1", got)
	}

	// Tenant B must not see tenant A's payer, even with the same code.
	err := withTenantConn(ctx, globalDB.Pool, tenantB, func(ctx context.Context) error {
		var n int
		if err := connFromCtx(ctx).QueryRow(ctx,
			"SELECT COUNT(*) FROM payers WHERE id = $1", payerA.ID).Scan(&n); err != nil {
			return err
		}
		if n != 0 {
			return fmt.Errorf("tenant B sees tenant A payer")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("cross-tenant visibility: %v", err)
	}

	// Window aggregates in tenant A must not read tenant B claims: B's single
	// paid claim would otherwise shift A's denial rate.
	err = withTenantConn(ctx, globalDB.Pool, tenantA, func(ctx context.Context) error {
		aggs := drift.NewAggregateRepoPG(globalDB.Pool)
		stats, err := aggs.PayerStats(ctx, decided.AddDate(0, 0, -1), decided.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		s, ok := stats[payerA.ID]
		if !ok {
			return fmt.Errorf("no stats for tenant A payer")
		}
		if s.DecidedCount != 3 {
			return fmt.Errorf("decided = %d, want 3", s.DecidedCount)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tenant-scoped aggregates: %v", err)
	}
}
