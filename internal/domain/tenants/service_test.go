package tenants

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockRepo struct {
	bySlug map[string]*Customer
}

func newMockRepo() *mockRepo {
	return &mockRepo{bySlug: make(map[string]*Customer)}
}

func (m *mockRepo) Create(_ context.Context, c *Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, exists := m.bySlug[c.Slug]; exists {
		return fmt.Errorf("duplicate slug")
	}
	m.bySlug[c.Slug] = c
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Customer, error) {
	for _, c := range m.bySlug {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("customer not found")
}

func (m *mockRepo) GetBySlug(_ context.Context, slug string) (*Customer, error) {
	c, ok := m.bySlug[slug]
	if !ok {
		return nil, fmt.Errorf("customer not found")
	}
	return c, nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Customer, int, error) {
	var items []*Customer
	for _, c := range m.bySlug {
		items = append(items, c)
	}
	return items, len(items), nil
}

func (m *mockRepo) Update(_ context.Context, c *Customer) error {
	m.bySlug[c.Slug] = c
	return nil
}

func TestCreateTenant(t *testing.T) {
	repo := newMockRepo()
	var provisioned []string
	svc := NewService(repo, func(_ context.Context, slug string) error {
		provisioned = append(provisioned, slug)
		return nil
	}, zerolog.Nop())

	c, err := svc.CreateTenant(context.Background(), "Acme Health", "acme", PlanGrowth)
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if c.Slug != "acme" || c.Plan != PlanGrowth {
		t.Errorf("customer = %+v", c)
	}
	if len(provisioned) != 1 || provisioned[0] != "acme" {
		t.Errorf("provisioned = %v, want [acme]", provisioned)
	}
}

func TestCreateTenantDefaultsPlan(t *testing.T) {
	svc := NewService(newMockRepo(), nil, zerolog.Nop())

	c, err := svc.CreateTenant(context.Background(), "Acme", "acme", "")
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if c.Plan != PlanStarter {
		t.Errorf("plan = %q, want starter", c.Plan)
	}
}

func TestCreateTenantValidation(t *testing.T) {
	svc := NewService(newMockRepo(), nil, zerolog.Nop())
	ctx := context.Background()

	cases := []struct {
		name, slug, plan string
	}{
		{"", "acme", PlanStarter},
		{"Acme", "Acme-Health", PlanStarter}, // uppercase and dash
		{"Acme", "1acme", PlanStarter},       // leading digit
		{"Acme", "a", PlanStarter},           // too short
		{"Acme", "acme", "platinum"},         // unknown plan
	}
	for _, tc := range cases {
		if _, err := svc.CreateTenant(ctx, tc.name, tc.slug, tc.plan); err == nil {
			t.Errorf("CreateTenant(%q, %q, %q) should fail", tc.name, tc.slug, tc.plan)
		}
	}
}

func TestCreateTenantDuplicateSlug(t *testing.T) {
	svc := NewService(newMockRepo(), nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := svc.CreateTenant(ctx, "Acme", "acme", PlanStarter); err != nil {
		t.Fatalf("first CreateTenant: %v", err)
	}
	if _, err := svc.CreateTenant(ctx, "Other", "acme", PlanStarter); err == nil {
		t.Error("duplicate slug should fail")
	}
}

func TestCreateTenantProvisionFailureLeavesNoCustomer(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, func(context.Context, string) error {
		return fmt.Errorf("schema exists")
	}, zerolog.Nop())

	if _, err := svc.CreateTenant(context.Background(), "Acme", "acme", PlanStarter); err == nil {
		t.Fatal("expected provisioning error")
	}
	if len(repo.bySlug) != 0 {
		t.Errorf("customer row created despite provisioning failure")
	}
}

func TestChangePlan(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil, zerolog.Nop())
	ctx := context.Background()

	c, err := svc.CreateTenant(ctx, "Acme", "acme", PlanStarter)
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}

	updated, err := svc.ChangePlan(ctx, c.ID, PlanEnterprise)
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if updated.Plan != PlanEnterprise {
		t.Errorf("plan = %q, want enterprise", updated.Plan)
	}

	if _, err := svc.ChangePlan(ctx, c.ID, "bogus"); err == nil {
		t.Error("invalid plan should fail")
	}
}
