// Package store assembles the full store adapter from independently
// configured subscription and usage backends.
package store

import "planguard/internal/types"

// Composite routes subscription calls and usage calls to separate backends,
// e.g. Postgres subscriptions with Redis counters.
type Composite struct {
	types.SubscriptionStore
	types.UsageStore
}

func NewComposite(subs types.SubscriptionStore, usage types.UsageStore) *Composite {
	return &Composite{SubscriptionStore: subs, UsageStore: usage}
}

var _ types.Store = (*Composite)(nil)
