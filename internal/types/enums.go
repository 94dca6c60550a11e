package types

// PlanID identifies a subscription plan. The set is fixed at build time;
// the billing package owns the catalog and the ordering of these values.
type PlanID string

const (
	PlanFree  PlanID = "free"
	PlanBasic PlanID = "basic"
	PlanPro   PlanID = "pro"
	PlanTeam  PlanID = "team"
)

// SubscriptionStatus is the local lifecycle state of a subscription row.
// Stripe reports more states; the reconciler only ever writes these three.
type SubscriptionStatus string

const (
	SubStatusActive    SubscriptionStatus = "active"
	SubStatusPastDue   SubscriptionStatus = "past_due"
	SubStatusCancelled SubscriptionStatus = "cancelled"
)

// Valid reports whether s is one of the persisted statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubStatusActive, SubStatusPastDue, SubStatusCancelled:
		return true
	default:
		return false
	}
}

// UsageCounter names a per-day usage counter.
type UsageCounter string

const (
	CounterChatbotQueries   UsageCounter = "chatbot_queries"
	CounterRecordsGenerated UsageCounter = "records_generated"
)
