package webhook

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"planguard/internal/billing"
	"planguard/internal/types"
)

const testSecret = "whsec_test_secret"

// fakeStore is an in-memory SubscriptionStore that records every call.
type fakeStore struct {
	mu     sync.Mutex
	rows   map[string]*types.Subscription
	calls  []string
	err    error
	panics bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*types.Subscription)}
}

func (s *fakeStore) record(call string) {
	s.calls = append(s.calls, call)
	if s.panics {
		panic("store exploded")
	}
}

func (s *fakeStore) GetSubscription(_ context.Context, userID string) (*types.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetSubscription")
	if s.err != nil {
		return nil, s.err
	}
	row, ok := s.rows[userID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (s *fakeStore) UpsertSubscription(_ context.Context, sub *types.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UpsertSubscription")
	if s.err != nil {
		return s.err
	}
	cp := *sub
	s.rows[sub.UserID] = &cp
	return nil
}

func (s *fakeStore) UpdateSubscriptionByProviderID(_ context.Context, id string, patch types.SubscriptionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UpdateSubscriptionByProviderID")
	if s.err != nil {
		return s.err
	}
	for _, row := range s.rows {
		if row.ProviderSubscriptionID == id {
			patch.Apply(row)
			return nil
		}
	}
	return types.NewAppError(types.ErrCodeNotFoundSubscription, "no subscription for "+id, nil)
}

func (s *fakeStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c != "GetSubscription" {
			n++
		}
	}
	return n
}

func (s *fakeStore) row(userID string) types.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[userID]
}

// fakeProvider serves subscriptions from a map.
type fakeProvider struct {
	mu    sync.Mutex
	subs  map[string]*types.ProviderSubscription
	calls int
	err   error
	delay time.Duration
}

func (p *fakeProvider) RetrieveSubscription(ctx context.Context, id string) (*types.ProviderSubscription, error) {
	p.mu.Lock()
	p.calls++
	err := p.err
	sub, ok := p.subs[id]
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, types.NewAppError(types.ErrCodeUpstreamTimeout, "timed out", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "no such subscription: "+id, nil)
	}
	cp := *sub
	return &cp, nil
}

func (p *fakeProvider) CreateCheckoutSession(context.Context, types.CheckoutRequest) (string, error) {
	return "", fmt.Errorf("not implemented")
}

var (
	periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	fixedNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func testPrices(t *testing.T) *billing.PriceCatalog {
	t.Helper()
	prices, err := billing.NewPriceCatalog(map[types.PlanID]string{
		types.PlanBasic: "price_basic",
		types.PlanPro:   "price_pro",
		types.PlanTeam:  "price_team",
	})
	if err != nil {
		t.Fatalf("price catalog: %v", err)
	}
	return prices
}

func newTestReconciler(t *testing.T, store *fakeStore, provider *fakeProvider) *Reconciler {
	t.Helper()
	r := NewReconciler(Config{
		Secret:   types.SecretString(testSecret),
		Provider: provider,
		Store:    store,
		Prices:   testPrices(t),
	})
	r.now = func() time.Time { return fixedNow }
	return r
}

func proSubscription(id string) *types.ProviderSubscription {
	return &types.ProviderSubscription{
		ID:                 id,
		CustomerID:         "cus_1",
		Status:             "active",
		PriceID:            "price_pro",
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
	}
}

// sign returns payload with a valid Stripe-Signature header for testSecret.
func sign(payload string) ([]byte, string) {
	sp := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  testSecret,
	})
	return sp.Payload, sp.Header
}

func checkoutPayload(eventID, userID, subID string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"client_reference_id": null,
			"customer": "cus_1",
			"metadata": {"user_id": %q},
			"mode": "subscription",
			"subscription": %q
		}}
	}`, eventID, userID, subID)
}

func invoicePayload(eventID, eventType, subID string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": %q,
		"data": {"object": {"id": "in_1", "object": "invoice", "subscription": %q}}
	}`, eventID, eventType, subID)
}

// withCreated sets the event's created timestamp on a payload built above.
func withCreated(payload string, created time.Time) string {
	return strings.Replace(payload, `"object": "event",`, fmt.Sprintf(`"object": "event", "created": %d,`, created.Unix()), 1)
}

func deletedPayload(eventID, subID string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": %q, "object": "subscription", "status": "canceled"}}
	}`, eventID, subID)
}
