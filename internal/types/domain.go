package types

import "time"

// Subscription is the single billing row kept per user. It is created on the
// first completed checkout and afterwards only transitioned, never deleted.
type Subscription struct {
	UserID                 string             `json:"user_id"`
	Plan                   PlanID             `json:"plan"`
	Status                 SubscriptionStatus `json:"status"`
	CustomerID             string             `json:"stripe_customer_id"`
	ProviderSubscriptionID string             `json:"stripe_subscription_id"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// SubscriptionPatch is a partial update applied to the row matching a
// provider subscription id. Nil fields are left untouched.
type SubscriptionPatch struct {
	Plan               *PlanID
	Status             *SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
	UpdatedAt          time.Time
}

// Apply copies the non-nil patch fields onto sub.
func (p SubscriptionPatch) Apply(sub *Subscription) {
	if p.Plan != nil {
		sub.Plan = *p.Plan
	}
	if p.Status != nil {
		sub.Status = *p.Status
	}
	if p.CurrentPeriodStart != nil {
		t := *p.CurrentPeriodStart
		sub.CurrentPeriodStart = &t
	}
	if p.CurrentPeriodEnd != nil {
		t := *p.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &t
	}
	if p.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
	}
	if !p.UpdatedAt.IsZero() {
		sub.UpdatedAt = p.UpdatedAt
	}
}

// DailyUsage holds one user's counters for one UTC calendar day.
type DailyUsage struct {
	UserID           string    `json:"user_id"`
	Date             time.Time `json:"date"`
	ChatbotQueries   int64     `json:"chatbot_queries"`
	RecordsGenerated int64     `json:"records_generated"`
}

// UsageDay truncates t to the UTC calendar day used as the usage row key.
func UsageDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ProviderSubscription is the authoritative subscription state as read back
// from the payment provider.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// CheckoutRequest carries what the provider needs to open a hosted checkout.
type CheckoutRequest struct {
	PriceID    string
	UserID     string
	UserEmail  string
	SuccessURL string
	CancelURL  string
}
