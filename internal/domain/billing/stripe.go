package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeAPI is the slice of Stripe used by the billing service. The real
// implementation talks to Stripe; tests substitute a fake.
type StripeAPI interface {
	// CreateCustomer registers the customer with Stripe and returns the
	// Stripe customer ID.
	CreateCustomer(ctx context.Context, name, slug string) (string, error)

	// CreateSubscription subscribes the Stripe customer to the plan's price
	// and returns the Stripe subscription ID and its initial status.
	CreateSubscription(ctx context.Context, stripeCustomerID, plan string) (string, string, error)
}

// StripeClient implements StripeAPI against the Stripe API. Each plan maps to
// a pre-created Stripe price ID.
type StripeClient struct {
	api    *client.API
	prices map[string]string
}

func NewStripeClient(apiKey string, prices map[string]string) *StripeClient {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeClient{api: api, prices: prices}
}

func (c *StripeClient) CreateCustomer(ctx context.Context, name, slug string) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Name:   stripe.String(name),
	}
	params.AddMetadata("tenant_slug", slug)
	cust, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("creating stripe customer: %w", err)
	}
	return cust.ID, nil
}

func (c *StripeClient) CreateSubscription(ctx context.Context, stripeCustomerID, plan string) (string, string, error) {
	price, ok := c.prices[plan]
	if !ok {
		return "", "", fmt.Errorf("no stripe price configured for plan %q", plan)
	}
	params := &stripe.SubscriptionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(stripeCustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(price)},
		},
	}
	sub, err := c.api.Subscriptions.New(params)
	if err != nil {
		return "", "", fmt.Errorf("creating stripe subscription: %w", err)
	}
	return sub.ID, string(sub.Status), nil
}
