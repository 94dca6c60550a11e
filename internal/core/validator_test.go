package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planguard/internal/types"
)

type checkoutInput struct {
	PriceID   string `json:"priceId" validate:"required,stripe_price"`
	UserID    string `json:"userId" validate:"required,user_id"`
	UserEmail string `json:"userEmail,omitempty" validate:"omitempty,email"`
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := NewValidator(nil)

	tests := []struct {
		name      string
		input     checkoutInput
		wantCode  types.ErrorCode
		wantField string
		wantTag   string
	}{
		{
			name:  "valid",
			input: checkoutInput{PriceID: "price_123", UserID: "user_1", UserEmail: "a@example.com"},
		},
		{
			name:  "email optional",
			input: checkoutInput{PriceID: "price_123", UserID: "user_1"},
		},
		{
			name:      "missing price",
			input:     checkoutInput{UserID: "user_1"},
			wantCode:  types.ErrCodeValidationMissingField,
			wantField: "priceId",
			wantTag:   "required",
		},
		{
			name:      "not a price id",
			input:     checkoutInput{PriceID: "prod_123", UserID: "user_1"},
			wantCode:  types.ErrCodeValidationInvalidBody,
			wantField: "priceId",
			wantTag:   "stripe_price",
		},
		{
			name:      "bare prefix",
			input:     checkoutInput{PriceID: "price_", UserID: "user_1"},
			wantCode:  types.ErrCodeValidationInvalidBody,
			wantField: "priceId",
			wantTag:   "stripe_price",
		},
		{
			name:      "user id with spaces",
			input:     checkoutInput{PriceID: "price_123", UserID: "user 1"},
			wantCode:  types.ErrCodeValidationInvalidBody,
			wantField: "userId",
			wantTag:   "user_id",
		},
		{
			name:      "bad email",
			input:     checkoutInput{PriceID: "price_123", UserID: "user_1", UserEmail: "nope"},
			wantCode:  types.ErrCodeValidationInvalidBody,
			wantField: "userEmail",
			wantTag:   "email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.input)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}

			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
			fields, ok := appErr.Details["fields"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.wantTag, fields[tt.wantField])
		})
	}
}

func TestValidator_NonStructIsInternal(t *testing.T) {
	err := NewValidator(nil).ValidateStruct("not a struct")
	assert.Equal(t, types.ErrCodeInternalUnexpected, types.CodeOf(err))
}
