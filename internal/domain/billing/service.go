package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"

	"github.com/upstream/upstream/internal/domain/tenants"
	"github.com/upstream/upstream/internal/platform/db"
)

var (
	ErrAlreadySubscribed = errors.New("customer already has a subscription")
	ErrNoSubscription    = errors.New("customer has no subscription")
)

// Service manages subscriptions and keeps them in sync with Stripe. The
// Stripe client is optional; without it subscriptions are purely local, which
// suits development and on-prem deployments.
type Service struct {
	subs      Repository
	customers tenants.Repository
	stripeAPI StripeAPI
	logger    zerolog.Logger
}

func NewService(subs Repository, customers tenants.Repository, stripeAPI StripeAPI, logger zerolog.Logger) *Service {
	return &Service{
		subs:      subs,
		customers: customers,
		stripeAPI: stripeAPI,
		logger:    logger,
	}
}

// Subscribe creates a subscription record for the customer. When Stripe is
// configured the customer and subscription are mirrored there; otherwise the
// record is local and immediately active.
func (s *Service) Subscribe(ctx context.Context, customerID uuid.UUID, plan string) (*Subscription, error) {
	if !tenants.ValidPlan(plan) {
		return nil, fmt.Errorf("invalid plan %q", plan)
	}
	customer, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("loading customer: %w", err)
	}
	if existing, err := s.subs.GetByCustomer(ctx, customerID); err != nil {
		return nil, err
	} else if existing != nil && existing.Active() {
		return nil, ErrAlreadySubscribed
	}

	sub := &Subscription{
		CustomerID: customerID,
		Plan:       plan,
		Status:     StatusActive,
	}

	if s.stripeAPI != nil {
		if customer.StripeCustomerID == nil {
			stripeID, err := s.stripeAPI.CreateCustomer(ctx, customer.Name, customer.Slug)
			if err != nil {
				return nil, err
			}
			customer.StripeCustomerID = &stripeID
			if err := s.customers.Update(ctx, customer); err != nil {
				return nil, fmt.Errorf("saving stripe customer id: %w", err)
			}
		}
		stripeSubID, status, err := s.stripeAPI.CreateSubscription(ctx, *customer.StripeCustomerID, plan)
		if err != nil {
			return nil, err
		}
		sub.StripeSubscriptionID = &stripeSubID
		sub.Status = status
	}

	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}

	if customer.Plan != plan {
		customer.Plan = plan
		if err := s.customers.Update(ctx, customer); err != nil {
			s.logger.Warn().Err(err).Str("customer_id", customerID.String()).Msg("syncing customer plan")
		}
	}

	s.logger.Info().
		Str("customer_id", customerID.String()).
		Str("plan", plan).
		Str("status", sub.Status).
		Msg("subscription created")
	return sub, nil
}

func (s *Service) GetSubscription(ctx context.Context, customerID uuid.UUID) (*Subscription, error) {
	sub, err := s.subs.GetByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoSubscription
	}
	return sub, nil
}

// HandleStripeEvent applies a verified Stripe webhook event to the local
// subscription record. Unknown event types and unknown subscriptions are
// ignored so Stripe retries don't pile up.
func (s *Service) HandleStripeEvent(ctx context.Context, event stripe.Event) error {
	switch string(event.Type) {
	case "customer.subscription.updated", "customer.subscription.deleted":
	default:
		return nil
	}

	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return fmt.Errorf("parsing subscription payload: %w", err)
	}

	sub, err := s.subs.GetByStripeID(ctx, stripeSub.ID)
	if err != nil {
		return err
	}
	if sub == nil {
		s.logger.Warn().Str("stripe_subscription_id", stripeSub.ID).Msg("stripe event for unknown subscription")
		return nil
	}

	sub.Status = mapStripeStatus(stripeSub.Status)
	if stripeSub.CurrentPeriodEnd > 0 {
		end := time.Unix(stripeSub.CurrentPeriodEnd, 0).UTC()
		sub.CurrentPeriodEnd = &end
	}
	if err := s.subs.Update(ctx, sub); err != nil {
		return fmt.Errorf("updating subscription: %w", err)
	}

	s.logger.Info().
		Str("subscription_id", sub.ID.String()).
		Str("status", sub.Status).
		Str("event_type", string(event.Type)).
		Msg("subscription synced from stripe")
	return nil
}

func mapStripeStatus(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusActive:
		return StatusActive
	case stripe.SubscriptionStatusTrialing:
		return StatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return StatusPastDue
	case stripe.SubscriptionStatusUnpaid:
		return StatusUnpaid
	default:
		return StatusCanceled
	}
}

// Gate gates drift computation on an active subscription. Inactive customers
// keep read access; only triggering new computation is blocked.
type Gate struct {
	subs      Repository
	customers tenants.Repository
}

func NewGate(subs Repository, customers tenants.Repository) *Gate {
	return &Gate{subs: subs, customers: customers}
}

func (g *Gate) ComputeAllowed(c echo.Context) (bool, error) {
	ctx := c.Request().Context()
	slug := db.TenantFromContext(ctx)
	if slug == "" {
		return false, nil
	}
	customer, err := g.customers.GetBySlug(ctx, slug)
	if err != nil {
		return false, nil
	}
	sub, err := g.subs.GetByCustomer(ctx, customer.ID)
	if err != nil {
		return false, err
	}
	return sub != nil && sub.Active(), nil
}
