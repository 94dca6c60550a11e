package external

import (
	"context"

	"planguard/internal/types"
)

// PaymentProvider is the subset of the provider API the service calls.
type PaymentProvider interface {
	// RetrieveSubscription reads the current state of a subscription.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error)

	// CreateCheckoutSession returns the hosted checkout URL.
	CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (string, error)
}

// WebhookVerifier checks a webhook payload against its signature header.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

var (
	_ PaymentProvider = (*StripeClient)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
)
