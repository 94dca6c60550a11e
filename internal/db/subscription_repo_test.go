package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"planguard/internal/types"
)

func TestSubscriptionRepository_GetSubscription_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)
	ctx := context.Background()

	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "user_1"
			*dest[1].(*string) = "pro"
			*dest[2].(*string) = "active"
			*dest[3].(*string) = "cus_1"
			*dest[4].(*string) = "sub_1"
			*dest[5].(**time.Time) = nil
			*dest[6].(**time.Time) = &end
			*dest[7].(*bool) = true
			*dest[8].(*time.Time) = updated
			return nil
		},
	}
	db.On("QueryRow", ctx, selectSubscriptionSQL, []any{"user_1"}).Return(row)

	sub, err := repo.GetSubscription(ctx, "user_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, types.PlanPro, sub.Plan)
	assert.Equal(t, types.SubStatusActive, sub.Status)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, "sub_1", sub.ProviderSubscriptionID)
	assert.Nil(t, sub.CurrentPeriodStart)
	assert.Equal(t, end, *sub.CurrentPeriodEnd)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, updated, sub.UpdatedAt)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_GetSubscription_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"nobody"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	sub, err := repo.GetSubscription(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestSubscriptionRepository_GetSubscription_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, err := repo.GetSubscription(context.Background(), "user_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	assert.True(t, types.IsRetryable(err))
}

func TestSubscriptionRepository_Upsert(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	sub := &types.Subscription{
		UserID:                 "user_1",
		Plan:                   types.PlanPro,
		Status:                 types.SubStatusActive,
		CustomerID:             "cus_1",
		ProviderSubscriptionID: "sub_1",
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
	}

	db.On("Exec", mock.Anything, upsertSubscriptionSQL, []any{
		"user_1", "pro", "active", "cus_1", "sub_1", &start, &end, false, fixed,
	}).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.UpsertSubscription(context.Background(), sub))
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_Upsert_RequiresUserID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	err := repo.UpsertSubscription(context.Background(), &types.Subscription{Plan: types.PlanPro})
	require.Error(t, err)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscriptionRepository_UpdateByProviderID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	status := types.SubStatusPastDue
	updated := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	want := "past_due"

	db.On("Exec", mock.Anything, updateByProviderIDSQL, mock.MatchedBy(func(args []any) bool {
		if len(args) != 7 || args[0] != "sub_1" {
			return false
		}
		plan, _ := args[1].(*string)
		st, _ := args[2].(*string)
		return plan == nil && st != nil && *st == want && args[6] == updated
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpdateSubscriptionByProviderID(context.Background(), "sub_1", types.SubscriptionPatch{
		Status:    &status,
		UpdatedAt: updated,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_UpdateByProviderID_NoRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	plan := types.PlanFree
	err := repo.UpdateSubscriptionByProviderID(context.Background(), "sub_unknown", types.SubscriptionPatch{Plan: &plan})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSubscription, appErr.Code)
	assert.True(t, types.IsRetryable(err), "a row that does not exist yet may arrive with a later event")
}

func TestSubscriptionRepository_UpdateByProviderID_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("deadlock detected"))

	status := types.SubStatusCancelled
	err := repo.UpdateSubscriptionByProviderID(context.Background(), "sub_1", types.SubscriptionPatch{Status: &status})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
