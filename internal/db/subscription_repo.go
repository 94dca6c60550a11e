package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"planguard/internal/types"
)

// SubscriptionRepository stores the one-row-per-user subscription state.
type SubscriptionRepository struct {
	db     DBTX
	logger *slog.Logger
	now    func() time.Time
}

func NewSubscriptionRepository(db DBTX, logger *slog.Logger) *SubscriptionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepository{db: db, logger: logger, now: time.Now}
}

const selectSubscriptionSQL = `
	SELECT user_id, plan, status,
	       COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
	       current_period_start, current_period_end, cancel_at_period_end, updated_at
	FROM subscriptions
	WHERE user_id = $1`

// GetSubscription returns (nil, nil) when the user has never subscribed.
func (r *SubscriptionRepository) GetSubscription(ctx context.Context, userID string) (*types.Subscription, error) {
	var (
		sub          types.Subscription
		plan, status string
	)
	err := r.db.QueryRow(ctx, selectSubscriptionSQL, userID).Scan(
		&sub.UserID,
		&plan,
		&status,
		&sub.CustomerID,
		&sub.ProviderSubscriptionID,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	sub.Plan = types.PlanID(plan)
	sub.Status = types.SubscriptionStatus(status)
	return &sub, nil
}

const upsertSubscriptionSQL = `
	INSERT INTO subscriptions (
		user_id, plan, status, stripe_customer_id, stripe_subscription_id,
		current_period_start, current_period_end, cancel_at_period_end, updated_at
	) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)
	ON CONFLICT (user_id) DO UPDATE SET
		plan                   = EXCLUDED.plan,
		status                 = EXCLUDED.status,
		stripe_customer_id     = EXCLUDED.stripe_customer_id,
		stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		current_period_start   = EXCLUDED.current_period_start,
		current_period_end     = EXCLUDED.current_period_end,
		cancel_at_period_end   = EXCLUDED.cancel_at_period_end,
		updated_at             = EXCLUDED.updated_at`

// UpsertSubscription writes the full row keyed by user id.
func (r *SubscriptionRepository) UpsertSubscription(ctx context.Context, sub *types.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "subscription user id is required", nil)
	}
	updatedAt := sub.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now().UTC()
	}

	_, err := r.db.Exec(ctx, upsertSubscriptionSQL,
		sub.UserID,
		string(sub.Plan),
		string(sub.Status),
		sub.CustomerID,
		sub.ProviderSubscriptionID,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		updatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}
	return nil
}

const updateByProviderIDSQL = `
	UPDATE subscriptions SET
		plan                 = COALESCE($2, plan),
		status               = COALESCE($3, status),
		current_period_start = COALESCE($4, current_period_start),
		current_period_end   = COALESCE($5, current_period_end),
		cancel_at_period_end = COALESCE($6, cancel_at_period_end),
		updated_at           = $7
	WHERE stripe_subscription_id = $1`

// UpdateSubscriptionByProviderID applies the non-nil patch fields to the row
// holding providerSubID.
func (r *SubscriptionRepository) UpdateSubscriptionByProviderID(
	ctx context.Context,
	providerSubID string,
	patch types.SubscriptionPatch,
) error {
	if providerSubID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "provider subscription id is required", nil)
	}
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now().UTC()
	}

	var plan, status *string
	if patch.Plan != nil {
		s := string(*patch.Plan)
		plan = &s
	}
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	tag, err := r.db.Exec(ctx, updateByProviderIDSQL,
		providerSubID,
		plan,
		status,
		patch.CurrentPeriodStart,
		patch.CurrentPeriodEnd,
		patch.CancelAtPeriodEnd,
		updatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "no subscription row for provider id",
			"stripe_subscription_id", providerSubID,
		)
		return types.NewAppError(types.ErrCodeNotFoundSubscription,
			fmt.Sprintf("no subscription with provider id %s", providerSubID), nil)
	}
	return nil
}
