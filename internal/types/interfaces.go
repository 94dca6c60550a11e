package types

import (
	"context"
	"time"
)

// SubscriptionStore persists the one-row-per-user subscription state.
type SubscriptionStore interface {
	// GetSubscription returns the user's row, or (nil, nil) if none exists.
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)

	// UpsertSubscription writes sub keyed by UserID. Replaying the same value
	// converges to the same row.
	UpsertSubscription(ctx context.Context, sub *Subscription) error

	// UpdateSubscriptionByProviderID applies patch to the row holding the given
	// provider subscription id. Returns ErrCodeNotFoundSubscription when no row
	// matches.
	UpdateSubscriptionByProviderID(ctx context.Context, providerSubID string, patch SubscriptionPatch) error
}

// UsageStore persists daily usage counters. Increments MUST be a single atomic
// operation at the store; callers never read-modify-write.
type UsageStore interface {
	// GetDailyUsage returns the counters for the given UTC day. A missing row
	// is reported as zero usage, not an error.
	GetDailyUsage(ctx context.Context, userID string, day time.Time) (*DailyUsage, error)

	// IncrementChatbotUsage adds one chatbot query to today's row and returns
	// the new count.
	IncrementChatbotUsage(ctx context.Context, userID string) (int64, error)

	// IncrementRecordUsage adds one generated record to today's row and returns
	// the new count.
	IncrementRecordUsage(ctx context.Context, userID string) (int64, error)
}

// Store is the full adapter consumed by the reconciler and the view-model.
type Store interface {
	SubscriptionStore
	UsageStore
}
