package tenants

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Subscription plans.
const (
	PlanStarter    = "starter"
	PlanGrowth     = "growth"
	PlanEnterprise = "enterprise"
)

func ValidPlan(plan string) bool {
	switch plan {
	case PlanStarter, PlanGrowth, PlanEnterprise:
		return true
	}
	return false
}

// Slug becomes the tenant schema suffix, so it is restricted to identifier
// characters.
var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,62}$`)

// SchemaProvisioner creates the tenant schema and applies migrations to it.
// Production wires db.CreateTenantSchema.
type SchemaProvisioner func(ctx context.Context, slug string) error

type Service struct {
	customers Repository
	provision SchemaProvisioner
	logger    zerolog.Logger
}

func NewService(customers Repository, provision SchemaProvisioner, logger zerolog.Logger) *Service {
	return &Service{customers: customers, provision: provision, logger: logger}
}

// CreateTenant registers a customer and provisions its schema. Slugs are
// unique; provisioning failures leave no customer row behind.
func (s *Service) CreateTenant(ctx context.Context, name, slug, plan string) (*Customer, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("invalid slug %q: must be lowercase identifier characters", slug)
	}
	if plan == "" {
		plan = PlanStarter
	}
	if !ValidPlan(plan) {
		return nil, fmt.Errorf("invalid plan %q", plan)
	}
	if existing, err := s.customers.GetBySlug(ctx, slug); err == nil && existing != nil {
		return nil, fmt.Errorf("slug %q is already taken", slug)
	}

	if s.provision != nil {
		if err := s.provision(ctx, slug); err != nil {
			return nil, fmt.Errorf("provisioning schema for %q: %w", slug, err)
		}
	}

	c := &Customer{Name: name, Slug: slug, Plan: plan}
	if err := s.customers.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("creating customer: %w", err)
	}

	s.logger.Info().
		Str("customer_id", c.ID.String()).
		Str("slug", slug).
		Str("plan", plan).
		Msg("tenant created")
	return c, nil
}

func (s *Service) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return s.customers.GetByID(ctx, id)
}

func (s *Service) GetCustomerBySlug(ctx context.Context, slug string) (*Customer, error) {
	return s.customers.GetBySlug(ctx, slug)
}

func (s *Service) ListCustomers(ctx context.Context, limit, offset int) ([]*Customer, int, error) {
	return s.customers.List(ctx, limit, offset)
}

// ChangePlan updates the customer's plan.
func (s *Service) ChangePlan(ctx context.Context, id uuid.UUID, plan string) (*Customer, error) {
	if !ValidPlan(plan) {
		return nil, fmt.Errorf("invalid plan %q", plan)
	}
	c, err := s.customers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Plan = plan
	if err := s.customers.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
