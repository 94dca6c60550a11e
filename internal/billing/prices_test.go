package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planguard/internal/types"
)

func testCatalog(t *testing.T) *PriceCatalog {
	t.Helper()
	c, err := NewPriceCatalog(map[types.PlanID]string{
		types.PlanBasic: "price_basic",
		types.PlanPro:   "price_pro",
		types.PlanTeam:  "price_team",
	})
	require.NoError(t, err)
	return c
}

func TestPriceCatalog_Lookup(t *testing.T) {
	c := testCatalog(t)

	plan, ok := c.PlanForPrice("price_pro")
	assert.True(t, ok)
	assert.Equal(t, types.PlanPro, plan)

	price, ok := c.PriceForPlan(types.PlanTeam)
	assert.True(t, ok)
	assert.Equal(t, "price_team", price)

	_, ok = c.PlanForPrice("price_unknown")
	assert.False(t, ok)
}

func TestPriceCatalog_ResolvePlanDefaultsToLowestPaid(t *testing.T) {
	c := testCatalog(t)

	plan, defaulted := c.ResolvePlan("price_pro")
	assert.Equal(t, types.PlanPro, plan)
	assert.False(t, defaulted)

	plan, defaulted = c.ResolvePlan("price_legacy_2023")
	assert.Equal(t, types.PlanBasic, plan)
	assert.True(t, defaulted)
}

func TestNewPriceCatalog_Validation(t *testing.T) {
	_, err := NewPriceCatalog(map[types.PlanID]string{types.PlanFree: "price_free"})
	assert.Error(t, err, "free plan cannot carry a price")

	_, err = NewPriceCatalog(map[types.PlanID]string{types.PlanID("gold"): "price_gold"})
	assert.Error(t, err, "unknown plans cannot carry a price")

	_, err = NewPriceCatalog(map[types.PlanID]string{
		types.PlanBasic: "price_same",
		types.PlanPro:   "price_same",
	})
	assert.Error(t, err, "a price id maps to one plan")

	c, err := NewPriceCatalog(map[types.PlanID]string{types.PlanBasic: "", types.PlanPro: "price_pro"})
	require.NoError(t, err)
	_, ok := c.PriceForPlan(types.PlanBasic)
	assert.False(t, ok, "empty price ids are skipped")
}
