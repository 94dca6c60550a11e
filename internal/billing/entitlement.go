package billing

import "planguard/internal/types"

// Entitlements is a point-in-time view of what a user may do, derived from
// their plan and today's usage.
type Entitlements struct {
	Plan             types.PlanID      `json:"plan"`
	Features         map[LimitKey]bool `json:"features"`
	ChatbotLimit     Quota             `json:"chatbot_limit"`
	ChatbotUsed      int64             `json:"chatbot_used"`
	ChatbotRemaining Quota             `json:"chatbot_remaining"`
	CanQuery         bool              `json:"can_query"`
	RecordsGenerated int64             `json:"records_generated"`
}

// Evaluator derives entitlements from the plan registry. It holds no state of
// its own and is safe for concurrent use.
type Evaluator struct {
	plans PlanRegistry
}

func NewEvaluator(plans PlanRegistry) *Evaluator {
	return &Evaluator{plans: plans}
}

// CanQuery reports whether the user may send another chatbot query today.
func (e *Evaluator) CanQuery(plan types.PlanID, usage *types.DailyUsage) bool {
	return e.plans.ChatbotLimit(plan).Allows(chatbotUsed(usage))
}

// Remaining returns the chatbot queries left today. Unlimited plans return
// Unlimited; finite plans never go below zero.
func (e *Evaluator) Remaining(plan types.PlanID, usage *types.DailyUsage) Quota {
	return e.plans.ChatbotLimit(plan).Remaining(chatbotUsed(usage))
}

// CanUseFeature is HasFeature on the registry.
func (e *Evaluator) CanUseFeature(plan types.PlanID, key LimitKey) bool {
	return e.plans.HasFeature(plan, key)
}

// Evaluate builds the full snapshot. Unknown plans evaluate as free.
func (e *Evaluator) Evaluate(plan types.PlanID, usage *types.DailyUsage) Entitlements {
	if _, err := e.plans.GetPlan(plan); err != nil {
		plan = types.PlanFree
	}

	features := make(map[LimitKey]bool, len(LimitKeys))
	for _, key := range LimitKeys {
		features[key] = e.plans.HasFeature(plan, key)
	}

	limit := e.plans.ChatbotLimit(plan)
	used := chatbotUsed(usage)
	var records int64
	if usage != nil {
		records = usage.RecordsGenerated
	}

	return Entitlements{
		Plan:             plan,
		Features:         features,
		ChatbotLimit:     limit,
		ChatbotUsed:      used,
		ChatbotRemaining: limit.Remaining(used),
		CanQuery:         limit.Allows(used),
		RecordsGenerated: records,
	}
}

func chatbotUsed(usage *types.DailyUsage) int64 {
	if usage == nil {
		return 0
	}
	return usage.ChatbotQueries
}
