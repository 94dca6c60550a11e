package billing

import (
	"fmt"

	"planguard/internal/types"
)

// PriceCatalog maps provider price ids to plans. It is built once from
// configuration and read concurrently afterwards.
type PriceCatalog struct {
	byPrice map[string]types.PlanID
	byPlan  map[types.PlanID]string
}

// NewPriceCatalog builds a catalog from plan → price id pairs. Empty price ids
// are skipped. The free plan cannot carry a price and a price id may map to a
// single plan only.
func NewPriceCatalog(prices map[types.PlanID]string) (*PriceCatalog, error) {
	c := &PriceCatalog{
		byPrice: make(map[string]types.PlanID, len(prices)),
		byPlan:  make(map[types.PlanID]string, len(prices)),
	}
	for plan, price := range prices {
		if price == "" {
			continue
		}
		if planRank(plan) <= 0 {
			return nil, fmt.Errorf("billing: price %q mapped to non-paid plan %q", price, plan)
		}
		if other, dup := c.byPrice[price]; dup {
			return nil, fmt.Errorf("billing: price %q mapped to both %q and %q", price, other, plan)
		}
		c.byPrice[price] = plan
		c.byPlan[plan] = price
	}
	return c, nil
}

// PlanForPrice returns the plan for a known price id.
func (c *PriceCatalog) PlanForPrice(priceID string) (types.PlanID, bool) {
	p, ok := c.byPrice[priceID]
	return p, ok
}

// PriceForPlan returns the configured price id for a paid plan.
func (c *PriceCatalog) PriceForPlan(plan types.PlanID) (string, bool) {
	p, ok := c.byPlan[plan]
	return p, ok
}

// ResolvePlan maps a price id to a plan. Unknown ids resolve to the lowest
// paid tier with defaulted set, so callers can log the gap in configuration.
func (c *PriceCatalog) ResolvePlan(priceID string) (plan types.PlanID, defaulted bool) {
	if p, ok := c.byPrice[priceID]; ok {
		return p, false
	}
	return LowestPaidPlan, true
}
