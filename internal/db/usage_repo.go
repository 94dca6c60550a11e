package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"planguard/internal/types"
)

// UsageRepository keeps per-day counters in daily_usage. Increments are a
// single upsert statement, so concurrent callers never lose an update.
type UsageRepository struct {
	db  DBTX
	now func() time.Time
}

func NewUsageRepository(db DBTX) *UsageRepository {
	return &UsageRepository{db: db, now: time.Now}
}

// GetDailyUsage reports zero usage for a day without a row.
func (r *UsageRepository) GetDailyUsage(ctx context.Context, userID string, day time.Time) (*types.DailyUsage, error) {
	day = types.UsageDay(day)
	usage := &types.DailyUsage{UserID: userID, Date: day}

	err := r.db.QueryRow(ctx,
		`SELECT chatbot_queries, records_generated
		 FROM daily_usage
		 WHERE user_id = $1 AND usage_date = $2`,
		userID, day,
	).Scan(&usage.ChatbotQueries, &usage.RecordsGenerated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return usage, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load daily usage", err)
	}
	return usage, nil
}

func (r *UsageRepository) IncrementChatbotUsage(ctx context.Context, userID string) (int64, error) {
	return r.increment(ctx, userID,
		`INSERT INTO daily_usage (user_id, usage_date, chatbot_queries)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (user_id, usage_date)
		 DO UPDATE SET chatbot_queries = daily_usage.chatbot_queries + 1
		 RETURNING chatbot_queries`)
}

func (r *UsageRepository) IncrementRecordUsage(ctx context.Context, userID string) (int64, error) {
	return r.increment(ctx, userID,
		`INSERT INTO daily_usage (user_id, usage_date, records_generated)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (user_id, usage_date)
		 DO UPDATE SET records_generated = daily_usage.records_generated + 1
		 RETURNING records_generated`)
}

func (r *UsageRepository) increment(ctx context.Context, userID, sql string) (int64, error) {
	if userID == "" {
		return 0, types.NewAppError(types.ErrCodeValidationMissingField, "user id is required", nil)
	}
	var n int64
	if err := r.db.QueryRow(ctx, sql, userID, types.UsageDay(r.now())).Scan(&n); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to increment usage", err)
	}
	return n, nil
}
