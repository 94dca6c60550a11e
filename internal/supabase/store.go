// Package supabase implements the subscription and usage store on a Supabase
// project through its PostgREST API. Tables and RPCs come from the same
// schema the PostgreSQL store applies.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	sb "github.com/supabase-community/supabase-go"

	"planguard/internal/types"
)

const subscriptionsTable = "subscriptions"

// Config holds the project URL and the service-role key. The service role is
// required because webhook writes happen without a user session.
type Config struct {
	URL            string
	ServiceRoleKey types.SecretString
	Logger         *slog.Logger
}

// Store is the Supabase-backed types.Store.
type Store struct {
	client *sb.Client
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey.IsEmpty() {
		return nil, fmt.Errorf("supabase: url and service role key are required")
	}
	client, err := sb.NewClient(strings.TrimSuffix(cfg.URL, "/"), cfg.ServiceRoleKey.Unmask(), &sb.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase: create client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("supabase store initialized", "url", cfg.URL)
	return &Store{client: client, logger: logger, now: time.Now}, nil
}

// subscriptionRow mirrors the subscriptions table.
type subscriptionRow struct {
	UserID               string     `json:"user_id"`
	Plan                 string     `json:"plan"`
	Status               string     `json:"status"`
	StripeCustomerID     *string    `json:"stripe_customer_id"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id"`
	CurrentPeriodStart   *time.Time `json:"current_period_start"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (r subscriptionRow) toDomain() *types.Subscription {
	sub := &types.Subscription{
		UserID:             r.UserID,
		Plan:               types.PlanID(r.Plan),
		Status:             types.SubscriptionStatus(r.Status),
		CurrentPeriodStart: r.CurrentPeriodStart,
		CurrentPeriodEnd:   r.CurrentPeriodEnd,
		CancelAtPeriodEnd:  r.CancelAtPeriodEnd,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.StripeCustomerID != nil {
		sub.CustomerID = *r.StripeCustomerID
	}
	if r.StripeSubscriptionID != nil {
		sub.ProviderSubscriptionID = *r.StripeSubscriptionID
	}
	return sub
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (*types.Subscription, error) {
	data, err := await(ctx, func() ([]byte, error) {
		data, _, err := s.client.From(subscriptionsTable).
			Select("*", "", false).
			Eq("user_id", userID).
			Execute()
		return data, err
	})
	if isContextErr(err) {
		return nil, err
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}

	var rows []subscriptionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode subscription", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toDomain(), nil
}

func (s *Store) UpsertSubscription(ctx context.Context, sub *types.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "subscription user id is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	updatedAt := sub.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now().UTC()
	}

	row := subscriptionRow{
		UserID:               sub.UserID,
		Plan:                 string(sub.Plan),
		Status:               string(sub.Status),
		StripeCustomerID:     nullable(sub.CustomerID),
		StripeSubscriptionID: nullable(sub.ProviderSubscriptionID),
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		UpdatedAt:            updatedAt,
	}

	_, err := await(ctx, func() ([]byte, error) {
		data, _, err := s.client.From(subscriptionsTable).Upsert(row, "user_id", "", "").Execute()
		return data, err
	})
	if isContextErr(err) {
		return err
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}
	return nil
}

func (s *Store) UpdateSubscriptionByProviderID(ctx context.Context, providerSubID string, patch types.SubscriptionPatch) error {
	if providerSubID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "provider subscription id is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now().UTC()
	}
	body := map[string]any{"updated_at": updatedAt}
	if patch.Plan != nil {
		body["plan"] = string(*patch.Plan)
	}
	if patch.Status != nil {
		body["status"] = string(*patch.Status)
	}
	if patch.CurrentPeriodStart != nil {
		body["current_period_start"] = *patch.CurrentPeriodStart
	}
	if patch.CurrentPeriodEnd != nil {
		body["current_period_end"] = *patch.CurrentPeriodEnd
	}
	if patch.CancelAtPeriodEnd != nil {
		body["cancel_at_period_end"] = *patch.CancelAtPeriodEnd
	}

	data, err := await(ctx, func() ([]byte, error) {
		data, _, err := s.client.From(subscriptionsTable).
			Update(body, "representation", "").
			Eq("stripe_subscription_id", providerSubID).
			Execute()
		return data, err
	})
	if isContextErr(err) {
		return err
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}

	var rows []subscriptionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to decode updated subscription", err)
	}
	if len(rows) == 0 {
		s.logger.WarnContext(ctx, "no subscription row for provider id", "stripe_subscription_id", providerSubID)
		return types.NewAppError(types.ErrCodeNotFoundSubscription,
			fmt.Sprintf("no subscription with provider id %s", providerSubID), nil)
	}
	return nil
}

// GetDailyUsage only serves the current UTC day: the get_daily_usage RPC is
// keyed on the server clock.
func (s *Store) GetDailyUsage(ctx context.Context, userID string, day time.Time) (*types.DailyUsage, error) {
	day = types.UsageDay(day)
	usage := &types.DailyUsage{UserID: userID, Date: day}
	if !day.Equal(types.UsageDay(s.now())) {
		return usage, nil
	}

	raw, err := s.rpc(ctx, "get_daily_usage", userID)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ChatbotQueries   int64 `json:"chatbot_queries"`
		RecordsGenerated int64 `json:"records_generated"`
	}
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode daily usage", err)
	}
	if len(rows) > 0 {
		usage.ChatbotQueries = rows[0].ChatbotQueries
		usage.RecordsGenerated = rows[0].RecordsGenerated
	}
	return usage, nil
}

func (s *Store) IncrementChatbotUsage(ctx context.Context, userID string) (int64, error) {
	return s.increment(ctx, "increment_chatbot_usage", userID)
}

func (s *Store) IncrementRecordUsage(ctx context.Context, userID string) (int64, error) {
	return s.increment(ctx, "increment_records_usage", userID)
}

func (s *Store) increment(ctx context.Context, fn, userID string) (int64, error) {
	if userID == "" {
		return 0, types.NewAppError(types.ErrCodeValidationMissingField, "user id is required", nil)
	}
	raw, err := s.rpc(ctx, fn, userID)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("%s returned %q", fn, raw), err)
	}
	return n, nil
}

// rpc calls a database function. The client reports failures only as an
// empty body, so anything that is not JSON is treated as an error.
func (s *Store) rpc(ctx context.Context, fn, userID string) (string, error) {
	raw, err := await(ctx, func() (string, error) {
		return s.client.Rpc(fn, "", map[string]any{"p_user_id": userID}), nil
	})
	if err != nil {
		return "", err
	}
	if raw == "" || !json.Valid([]byte(raw)) {
		return "", types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("rpc %s failed", fn), nil)
	}
	return raw, nil
}

// await runs fn, which cannot observe ctx, and returns as soon as ctx ends.
// An abandoned call finishes in the background and its result is dropped.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

var _ types.Store = (*Store)(nil)
