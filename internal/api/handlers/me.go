package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"planguard/internal/billing"
	"planguard/internal/core"
	"planguard/internal/types"
	"planguard/internal/viewmodel"
)

// UsageResponse is returned after a successful increment.
type UsageResponse struct {
	Count     int64          `json:"count"`
	Remaining *billing.Quota `json:"remaining,omitempty"`
}

// MeHandler serves the caller's own subscription and usage. Every route
// requires the identity header.
type MeHandler struct {
	store  types.Store
	plans  billing.PlanRegistry
	logger *slog.Logger
}

func NewMeHandler(store types.Store, plans billing.PlanRegistry, logger *slog.Logger) *MeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MeHandler{store: store, plans: plans, logger: logger}
}

func (h *MeHandler) RegisterRoutes(r chi.Router) {
	r.Route("/me", func(r chi.Router) {
		r.Use(core.RequireIdentity)
		r.Get("/subscription", h.GetSubscription)
		r.Post("/usage/chatbot", h.RecordChatbotQuery)
		r.Post("/usage/records", h.RecordGeneratedRecord)
	})
}

// load builds a view-model for the caller. On failure the error response has
// already been written.
func (h *MeHandler) load(w http.ResponseWriter, r *http.Request) (*viewmodel.Subscription, bool) {
	userID, _ := types.GetUserID(r.Context())
	vm := viewmodel.New(h.store, h.plans, h.logger)
	if err := vm.Load(r.Context(), userID); err != nil {
		core.Error(w, r, err)
		return nil, false
	}
	return vm, true
}

// GetSubscription handles GET /v1/me/subscription.
func (h *MeHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	vm, ok := h.load(w, r)
	if !ok {
		return
	}
	core.JSON(w, r, http.StatusOK, vm.Snapshot())
}

// RecordChatbotQuery handles POST /v1/me/usage/chatbot. The quota check and
// the increment are separate calls, so concurrent requests at the boundary
// can overshoot the limit by the number of racing requests.
func (h *MeHandler) RecordChatbotQuery(w http.ResponseWriter, r *http.Request) {
	vm, ok := h.load(w, r)
	if !ok {
		return
	}
	if !vm.CanQueryChatbot() {
		snap := vm.Snapshot()
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeLimitChatbot,
			"daily chatbot limit reached", nil,
			map[string]any{
				"plan":  snap.Plan,
				"limit": snap.Entitlements.ChatbotLimit.String(),
				"used":  snap.Entitlements.ChatbotUsed,
			}))
		return
	}

	n, err := vm.IncrementChatbotUsage(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	remaining := vm.RemainingChatbotQueries()
	core.JSON(w, r, http.StatusOK, UsageResponse{Count: n, Remaining: &remaining})
}

// RecordGeneratedRecord handles POST /v1/me/usage/records.
func (h *MeHandler) RecordGeneratedRecord(w http.ResponseWriter, r *http.Request) {
	vm, ok := h.load(w, r)
	if !ok {
		return
	}
	if !vm.CanUseFeature(billing.LimitRecordGenerator) {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeLimitFeature,
			"record generator is not included in your plan", nil,
			map[string]any{"plan": vm.Plan(), "feature": string(billing.LimitRecordGenerator)}))
		return
	}

	n, err := vm.IncrementRecordUsage(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, UsageResponse{Count: n})
}
