// Package viewmodel holds the per-user subscription state rendered by the UI:
// the effective plan, today's usage and the entitlements derived from both.
package viewmodel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"planguard/internal/billing"
	"planguard/internal/types"
)

// Snapshot is a consistent copy of the model's state.
type Snapshot struct {
	UserID            string                   `json:"user_id"`
	Plan              types.PlanID             `json:"plan"`
	Status            types.SubscriptionStatus `json:"status,omitempty"`
	CurrentPeriodEnd  *time.Time               `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool                     `json:"cancel_at_period_end"`
	Usage             types.DailyUsage         `json:"usage"`
	Entitlements      billing.Entitlements     `json:"entitlements"`
}

// Subscription is safe for concurrent use. Reads never touch the store; only
// Load, Refresh and the Increment methods do.
type Subscription struct {
	store  types.Store
	plans  billing.PlanRegistry
	eval   *billing.Evaluator
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	userID  string
	loading bool
	err     error
	plan    types.PlanID
	sub     *types.Subscription
	usage   types.DailyUsage
}

// New returns a model in the loading state on the free plan.
func New(store types.Store, plans billing.PlanRegistry, logger *slog.Logger) *Subscription {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscription{
		store:   store,
		plans:   plans,
		eval:    billing.NewEvaluator(plans),
		logger:  logger,
		now:     time.Now,
		loading: true,
		plan:    types.PlanFree,
	}
}

// Load fetches the subscription row and today's usage concurrently. An empty
// userID (no identity yet) leaves the model on the free plan and not loading.
// A failed usage read is logged and keeps the previous counters; a failed
// subscription read is returned and kept in Err.
func (m *Subscription) Load(ctx context.Context, userID string) error {
	if userID == "" {
		m.mu.Lock()
		m.userID, m.loading, m.err = "", false, nil
		m.plan, m.sub, m.usage = types.PlanFree, nil, types.DailyUsage{}
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	if m.userID != userID {
		m.usage = types.DailyUsage{}
	}
	m.userID = userID
	m.loading = true
	m.mu.Unlock()

	var (
		sub      *types.Subscription
		usage    *types.DailyUsage
		usageErr error
		g        errgroup.Group
	)
	g.Go(func() error {
		var err error
		sub, err = m.store.GetSubscription(ctx, userID)
		return err
	})
	g.Go(func() error {
		usage, usageErr = m.store.GetDailyUsage(ctx, userID, m.now())
		return nil
	})
	err := g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.loading = false
	m.err = err
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to load subscription", "user_id", userID, "error", err)
	} else {
		m.applySubscription(ctx, sub)
	}

	if usageErr != nil {
		m.logger.WarnContext(ctx, "failed to load daily usage", "user_id", userID, "error", usageErr)
	} else if usage != nil {
		m.usage = *usage
	} else {
		m.usage = types.DailyUsage{UserID: userID, Date: types.UsageDay(m.now())}
	}
	return err
}

// Refresh reloads the current user.
func (m *Subscription) Refresh(ctx context.Context) error {
	m.mu.RLock()
	userID := m.userID
	m.mu.RUnlock()
	return m.Load(ctx, userID)
}

// applySubscription takes the row's plan only while it is active. Callers
// hold the write lock.
func (m *Subscription) applySubscription(ctx context.Context, sub *types.Subscription) {
	m.sub = sub
	m.plan = types.PlanFree
	if sub == nil || sub.Status != types.SubStatusActive {
		return
	}
	if _, err := m.plans.GetPlan(sub.Plan); err != nil {
		m.logger.WarnContext(ctx, "active subscription on unknown plan", "user_id", sub.UserID, "plan", sub.Plan)
		return
	}
	m.plan = sub.Plan
}

func (m *Subscription) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

func (m *Subscription) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Plan is the effective plan: the row's plan when active, free otherwise.
func (m *Subscription) Plan() types.PlanID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plan
}

func (m *Subscription) CanUseFeature(key billing.LimitKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eval.CanUseFeature(m.plan, key)
}

func (m *Subscription) CanQueryChatbot() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eval.CanQuery(m.plan, &m.usage)
}

func (m *Subscription) RemainingChatbotQueries() billing.Quota {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eval.Remaining(m.plan, &m.usage)
}

func (m *Subscription) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		UserID:       m.userID,
		Plan:         m.plan,
		Usage:        m.usage,
		Entitlements: m.eval.Evaluate(m.plan, &m.usage),
	}
	if m.sub != nil {
		s.Status = m.sub.Status
		if m.sub.Status == types.SubStatusActive {
			s.CancelAtPeriodEnd = m.sub.CancelAtPeriodEnd
			if m.sub.CurrentPeriodEnd != nil {
				end := *m.sub.CurrentPeriodEnd
				s.CurrentPeriodEnd = &end
			}
		}
	}
	return s
}

// IncrementChatbotUsage records one chatbot query and caches the count the
// store returned.
func (m *Subscription) IncrementChatbotUsage(ctx context.Context) (int64, error) {
	return m.increment(ctx, types.CounterChatbotQueries)
}

// IncrementRecordUsage records one generated record and caches the count the
// store returned.
func (m *Subscription) IncrementRecordUsage(ctx context.Context) (int64, error) {
	return m.increment(ctx, types.CounterRecordsGenerated)
}

func (m *Subscription) increment(ctx context.Context, counter types.UsageCounter) (int64, error) {
	m.mu.RLock()
	userID := m.userID
	m.mu.RUnlock()
	if userID == "" {
		return 0, types.NewAppError(types.ErrCodeAuthIdentityMissing, "no user loaded", nil)
	}

	var (
		n   int64
		err error
	)
	switch counter {
	case types.CounterChatbotQueries:
		n, err = m.store.IncrementChatbotUsage(ctx, userID)
	default:
		n, err = m.store.IncrementRecordUsage(ctx, userID)
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to increment usage",
			"user_id", userID,
			"counter", string(counter),
			"error", err,
		)
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID != userID {
		return n, nil
	}
	today := types.UsageDay(m.now())
	if !m.usage.Date.Equal(today) {
		m.usage = types.DailyUsage{UserID: userID, Date: today}
	}
	switch counter {
	case types.CounterChatbotQueries:
		m.usage.ChatbotQueries = n
	default:
		m.usage.RecordsGenerated = n
	}
	return n, nil
}
