// Package payment adapts the external payment provider behind a narrow interface.
package payment

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when the provider has no credentials.
var ErrNotConfigured = errors.New("payment: provider not configured")

// ResponseError is a failure the provider answered with, as opposed to one lost
// in transit. The provider stores such answers against the idempotency key and
// replays them, so a retry needs a fresh key to get a fresh attempt.
type ResponseError struct {
	StatusCode int
	Code       string
	Err        error
}

func (e *ResponseError) Error() string { return e.Err.Error() }

func (e *ResponseError) Unwrap() error { return e.Err }

// IsResponse reports whether err carries an error answer from the provider.
func IsResponse(err error) bool {
	var re *ResponseError
	return errors.As(err, &re)
}

// SubscriptionStatus is the provider-side status of a subscription.
type SubscriptionStatus string

// SubscriptionStatus constants mirror the provider's vocabulary.
const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionUnpaid     SubscriptionStatus = "unpaid"
)

// Ended reports whether the subscription no longer grants access.
func (s SubscriptionStatus) Ended() bool {
	return s == SubscriptionCanceled || s == SubscriptionUnpaid
}

// SubscriptionRequest describes a subscription to create.
type SubscriptionRequest struct {
	CustomerID string
	PriceID    string
	// TrialEnd ends any provider-side trial; a zero or past value starts billing now.
	TrialEnd       time.Time
	Metadata       map[string]string
	IdempotencyKey string
}

// Provider is the payment provider contract used by the billing sweep.
type Provider interface {
	CreateCustomer(ctx context.Context, email string, metadata map[string]string) (string, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (string, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	GetSubscription(ctx context.Context, subscriptionID string) (SubscriptionStatus, error)
}

// CheckoutRequest describes a hosted checkout session.
type CheckoutRequest struct {
	CustomerID string
	Email      string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// SessionProvider creates hosted self-service pages.
type SessionProvider interface {
	CheckoutURL(ctx context.Context, req CheckoutRequest) (string, error)
	PortalURL(ctx context.Context, customerID, returnURL string) (string, error)
}
