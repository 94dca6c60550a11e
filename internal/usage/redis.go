// Package usage keeps daily usage counters in Redis for deployments that do
// not want the hot increment path on the relational store.
package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"planguard/internal/types"
)

// DefaultTTL keeps a day's counters around long enough to be read back
// across timezone boundaries, then lets Redis drop them.
const DefaultTTL = 48 * time.Hour

// RedisCounter implements types.UsageStore. Keys have the form
// usage:{user}:{yyyy-mm-dd}:{counter}.
type RedisCounter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisClient parses a redis:// URL and checks the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("usage: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("usage: ping redis: %w", err)
	}
	return client, nil
}

func NewRedisCounter(client *redis.Client, ttl time.Duration) *RedisCounter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCounter{client: client, prefix: "usage", ttl: ttl, now: time.Now}
}

func (c *RedisCounter) key(userID string, day time.Time, counter types.UsageCounter) string {
	return fmt.Sprintf("%s:%s:%s:%s", c.prefix, userID, day.Format(time.DateOnly), counter)
}

func (c *RedisCounter) GetDailyUsage(ctx context.Context, userID string, day time.Time) (*types.DailyUsage, error) {
	day = types.UsageDay(day)
	vals, err := c.client.MGet(ctx,
		c.key(userID, day, types.CounterChatbotQueries),
		c.key(userID, day, types.CounterRecordsGenerated),
	).Result()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read usage counters", err)
	}

	usage := &types.DailyUsage{UserID: userID, Date: day}
	if usage.ChatbotQueries, err = parseCount(vals[0]); err != nil {
		return nil, err
	}
	if usage.RecordsGenerated, err = parseCount(vals[1]); err != nil {
		return nil, err
	}
	return usage, nil
}

func (c *RedisCounter) IncrementChatbotUsage(ctx context.Context, userID string) (int64, error) {
	return c.increment(ctx, userID, types.CounterChatbotQueries)
}

func (c *RedisCounter) IncrementRecordUsage(ctx context.Context, userID string) (int64, error) {
	return c.increment(ctx, userID, types.CounterRecordsGenerated)
}

// increment runs INCR and EXPIRE in one MULTI/EXEC.
func (c *RedisCounter) increment(ctx context.Context, userID string, counter types.UsageCounter) (int64, error) {
	if userID == "" {
		return 0, types.NewAppError(types.ErrCodeValidationMissingField, "user id is required", nil)
	}
	key := c.key(userID, types.UsageDay(c.now()), counter)

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to increment usage counter", err)
	}
	return incr.Val(), nil
}

func parseCount(v any) (int64, error) {
	switch s := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("corrupt usage counter %q", s), err)
		}
		return n, nil
	default:
		return 0, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("unexpected counter type %T", v), nil)
	}
}

var _ types.UsageStore = (*RedisCounter)(nil)
