package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"planguard/internal/billing"
	"planguard/internal/core"
	"planguard/internal/types"
)

// PlanResponse is one catalog entry. PriceID is empty for the free plan and
// for paid plans without a configured price.
type PlanResponse struct {
	ID           types.PlanID                            `json:"id"`
	Name         string                                  `json:"name"`
	Description  string                                  `json:"description"`
	MonthlyPrice string                                  `json:"monthly_price"`
	Popular      bool                                    `json:"popular"`
	PriceID      string                                  `json:"price_id,omitempty"`
	Highlights   []string                                `json:"highlights"`
	Limits       map[billing.LimitKey]billing.LimitValue `json:"limits"`
}

type PlansResponse struct {
	Plans []PlanResponse `json:"plans"`
}

type PlansHandler struct {
	plans  billing.PlanRegistry
	prices *billing.PriceCatalog
}

func NewPlansHandler(plans billing.PlanRegistry, prices *billing.PriceCatalog) *PlansHandler {
	return &PlansHandler{plans: plans, prices: prices}
}

func (h *PlansHandler) RegisterRoutes(r chi.Router) {
	r.Get("/plans", h.List)
}

// List handles GET /v1/plans, cheapest plan first.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	plans := h.plans.Plans()
	resp := PlansResponse{Plans: make([]PlanResponse, 0, len(plans))}
	for _, p := range plans {
		item := PlanResponse{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			MonthlyPrice: p.MonthlyPrice.StringFixed(2),
			Popular:      p.Popular,
			Highlights:   p.Highlights(),
			Limits:       p.Limits(),
		}
		if h.prices != nil {
			item.PriceID, _ = h.prices.PriceForPlan(p.ID)
		}
		resp.Plans = append(resp.Plans, item)
	}
	core.JSON(w, r, http.StatusOK, resp)
}
