package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeProvider implements Provider and SessionProvider with Stripe.
type StripeProvider struct {
	api *client.API
	now func() time.Time
}

// NewStripeProvider constructs a provider using the given secret key.
func NewStripeProvider(secretKey string) (*StripeProvider, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, ErrNotConfigured
	}
	return NewStripeProviderWithBackends(secretKey, nil), nil
}

// NewStripeProviderWithBackends constructs a provider with custom backends, mainly for tests.
func NewStripeProviderWithBackends(secretKey string, backends *stripe.Backends) *StripeProvider {
	return &StripeProvider{api: client.New(secretKey, backends), now: time.Now}
}

// CreateCustomer creates a customer and returns its id.
func (p *StripeProvider) CreateCustomer(ctx context.Context, email string, metadata map[string]string) (string, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(strings.TrimSpace(email)),
		Metadata: metadata,
	}
	params.Context = ctx
	if profileID := metadata["profile_id"]; profileID != "" {
		params.SetIdempotencyKey("customer-" + profileID)
	}
	cust, err := p.api.Customers.New(params)
	if err != nil {
		return "", wrapError("create customer", err)
	}
	return cust.ID, nil
}

// CreateSubscription creates a subscription for one price and returns its id.
func (p *StripeProvider) CreateSubscription(ctx context.Context, req SubscriptionRequest) (string, error) {
	if strings.TrimSpace(req.CustomerID) == "" || strings.TrimSpace(req.PriceID) == "" {
		return "", fmt.Errorf("stripe: create subscription: customer and price are required")
	}
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PriceID)},
		},
		Metadata: req.Metadata,
	}
	if req.TrialEnd.IsZero() || !req.TrialEnd.After(p.now()) {
		params.TrialEndNow = stripe.Bool(true)
	} else {
		params.TrialEnd = stripe.Int64(req.TrialEnd.Unix())
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	sub, err := p.api.Subscriptions.New(params)
	if err != nil {
		return "", wrapError("create subscription", err)
	}
	return sub.ID, nil
}

// CancelSubscription cancels a subscription immediately.
func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{
		InvoiceNow: stripe.Bool(false),
		Prorate:    stripe.Bool(false),
	}
	params.Context = ctx
	if _, err := p.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return wrapError("cancel subscription", err)
	}
	return nil
}

// GetSubscription returns the provider-side status of a subscription.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (SubscriptionStatus, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return "", wrapError("get subscription", err)
	}
	return SubscriptionStatus(sub.Status), nil
}

// CheckoutURL creates a subscription checkout session and returns its URL.
func (p *StripeProvider) CheckoutURL(ctx context.Context, req CheckoutRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   req.Metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	if profileID := req.Metadata["profile_id"]; profileID != "" {
		params.ClientReferenceID = stripe.String(profileID)
	}
	params.Context = ctx
	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", wrapError("create checkout session", err)
	}
	return sess.URL, nil
}

// PortalURL creates a billing portal session and returns its URL.
func (p *StripeProvider) PortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", wrapError("create portal session", err)
	}
	return sess.URL, nil
}

// wrapError marks errors Stripe answered with as ResponseError. A 409 means
// another request with the same key is still executing, so it stays a plain
// error and the key is reused.
func wrapError(action string, err error) error {
	wrapped := fmt.Errorf("stripe: %s: %w", action, err)
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode > 0 && se.HTTPStatusCode != http.StatusConflict {
		return &ResponseError{StatusCode: se.HTTPStatusCode, Code: string(se.Code), Err: wrapped}
	}
	return wrapped
}
