package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"planguard/internal/billing"
	"planguard/internal/config"
	"planguard/internal/core"
	"planguard/internal/types"
)

const defaultCheckoutTimeout = 10 * time.Second

// CheckoutCreator opens a hosted checkout. Satisfied by
// external.PaymentProvider.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (string, error)
}

// CheckoutRequest is the body of POST /v1/billing/checkout. Redirect URLs
// are deliberately not accepted from the client.
type CheckoutRequest struct {
	PriceID   string `json:"priceId" validate:"required,stripe_price"`
	UserID    string `json:"userId" validate:"required,user_id"`
	UserEmail string `json:"userEmail,omitempty" validate:"omitempty,email"`
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

type CheckoutHandler struct {
	provider   CheckoutCreator
	prices     *billing.PriceCatalog
	validator  *core.Validator
	successURL string
	cancelURL  string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewCheckoutHandler(
	provider CheckoutCreator,
	prices *billing.PriceCatalog,
	cfg config.BillingConfig,
	v *core.Validator,
	logger *slog.Logger,
) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(logger)
	}
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultCheckoutTimeout
	}
	return &CheckoutHandler{
		provider:   provider,
		prices:     prices,
		validator:  v,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		timeout:    timeout,
		logger:     logger,
	}
}

func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout", h.CreateCheckoutSession)
}

// CreateCheckoutSession handles POST /v1/billing/checkout. Price ids outside
// the configured catalog are rejected before the provider is called. When the
// upstream auth layer supplied an identity, the body's userId must match it.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if caller, ok := types.GetUserID(r.Context()); ok && caller != req.UserID {
		h.logger.WarnContext(r.Context(), "checkout user does not match caller",
			"caller_id", caller,
			"user_id", req.UserID,
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeForbiddenUserMismatch,
			"userId does not match the authenticated user", nil))
		return
	}

	plan, ok := h.prices.PlanForPrice(req.PriceID)
	if !ok {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPrice,
			"unknown price id", nil, map[string]any{"priceId": req.PriceID}))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	url, err := h.provider.CreateCheckoutSession(ctx, types.CheckoutRequest{
		PriceID:    req.PriceID,
		UserID:     req.UserID,
		UserEmail:  req.UserEmail,
		SuccessURL: h.successURL,
		CancelURL:  h.cancelURL,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create checkout session",
			"user_id", req.UserID,
			"plan", plan,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, CheckoutResponse{URL: url})
}
