// Package billing holds the plan catalog and the entitlement rules derived
// from it.
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"planguard/internal/types"
)

// LimitKey names one entry of a plan's limit table. Every plan defines every
// key; registry construction fails otherwise.
type LimitKey string

const (
	LimitChatbotDaily     LimitKey = "chatbot_daily"
	LimitStatutes         LimitKey = "statutes"
	LimitCaseLaw          LimitKey = "case_law"
	LimitPracticeCases    LimitKey = "practice_cases"
	LimitQuizzes          LimitKey = "quizzes"
	LimitRecordGenerator  LimitKey = "record_generator"
	LimitRegulatoryAlerts LimitKey = "regulatory_alerts"
	LimitOffline          LimitKey = "offline"
	LimitTeamFeatures     LimitKey = "team_features"
	LimitMaxTeamMembers   LimitKey = "max_team_members"
	LimitSharedRecords    LimitKey = "shared_records"
	LimitTeamStats        LimitKey = "team_stats"
	LimitExportReports    LimitKey = "export_reports"
)

// LimitKeys lists every limit key in display order.
var LimitKeys = []LimitKey{
	LimitChatbotDaily,
	LimitStatutes,
	LimitCaseLaw,
	LimitPracticeCases,
	LimitQuizzes,
	LimitRecordGenerator,
	LimitRegulatoryAlerts,
	LimitOffline,
	LimitTeamFeatures,
	LimitMaxTeamMembers,
	LimitSharedRecords,
	LimitTeamStats,
	LimitExportReports,
}

// Scope values that grant a feature outright.
const (
	ScopeAll  = "all"
	ScopeFull = "full"
)

// PlanOrder is the total order of plans, cheapest first.
var PlanOrder = []types.PlanID{
	types.PlanFree,
	types.PlanBasic,
	types.PlanPro,
	types.PlanTeam,
}

// LowestPaidPlan is applied when a paid subscription's price cannot be mapped.
const LowestPaidPlan = types.PlanBasic

// Plan is an immutable catalog entry.
type Plan struct {
	ID           types.PlanID
	Name         string
	Description  string
	MonthlyPrice decimal.Decimal
	Popular      bool
	limits       map[LimitKey]LimitValue
	highlights   []string
}

// Highlights returns a copy of the plan's marketing bullet points.
func (p Plan) Highlights() []string {
	out := make([]string, len(p.highlights))
	copy(out, p.highlights)
	return out
}

// Limit returns the value stored under key.
func (p Plan) Limit(key LimitKey) (LimitValue, bool) {
	v, ok := p.limits[key]
	return v, ok
}

// Limits returns a copy of the limit table.
func (p Plan) Limits() map[LimitKey]LimitValue {
	out := make(map[LimitKey]LimitValue, len(p.limits))
	for k, v := range p.limits {
		out[k] = v
	}
	return out
}

// IsPaid reports whether the plan has a non-zero price.
func (p Plan) IsPaid() bool {
	return p.MonthlyPrice.IsPositive()
}

// PlanRegistry is the single source of truth for what each plan allows.
type PlanRegistry interface {
	// GetPlan returns the plan, or a not_found_plan error for ids outside the set.
	GetPlan(id types.PlanID) (Plan, error)

	// HasFeature reports whether the plan grants the feature behind key.
	// Unknown plans and keys are false.
	HasFeature(id types.PlanID, key LimitKey) bool

	// ChatbotLimit returns the daily chatbot quota. Unknown plans get Finite(0).
	ChatbotLimit(id types.PlanID) Quota

	// Plans returns every plan in PlanOrder.
	Plans() []Plan
}

// planDefinition is the raw table form. Limit values are bool, int (with -1
// meaning unlimited), string scopes, or []string lists.
type planDefinition struct {
	ID          types.PlanID
	Name        string
	Description string
	Price       string
	Popular     bool
	Limits      map[LimitKey]any
	Highlights  []string
}

var planDefinitions = []planDefinition{
	{
		ID:          types.PlanFree,
		Name:        "Free",
		Description: "Get to know the platform",
		Price:       "0",
		Limits: map[LimitKey]any{
			LimitChatbotDaily:     0,
			LimitStatutes:         []string{},
			LimitCaseLaw:          false,
			LimitPracticeCases:    false,
			LimitQuizzes:          false,
			LimitRecordGenerator:  false,
			LimitRegulatoryAlerts: false,
			LimitOffline:          false,
			LimitTeamFeatures:     false,
			LimitMaxTeamMembers:   0,
			LimitSharedRecords:    false,
			LimitTeamStats:        false,
			LimitExportReports:    false,
		},
		Highlights: []string{
			"Basic regulation lookup",
			"Limited app access",
			"Email support",
		},
	},
	{
		ID:          types.PlanBasic,
		Name:        "Basic",
		Description: "For officers in training",
		Price:       "4.99",
		Limits: map[LimitKey]any{
			LimitChatbotDaily:     5,
			LimitStatutes:         []string{"penal_code_road_safety", "traffic_act_basic", "traffic_regulations_basic"},
			LimitCaseLaw:          false,
			LimitPracticeCases:    false,
			LimitQuizzes:          false,
			LimitRecordGenerator:  false,
			LimitRegulatoryAlerts: false,
			LimitOffline:          "penal_code_only",
			LimitTeamFeatures:     false,
			LimitMaxTeamMembers:   0,
			LimitSharedRecords:    false,
			LimitTeamStats:        false,
			LimitExportReports:    false,
		},
		Highlights: []string{
			"Road safety articles of the penal code",
			"Basic traffic act and regulations lookup",
			"Chatbot: 5 queries per day",
			"Offline mode (penal code)",
			"Email support",
		},
	},
	{
		ID:          types.PlanPro,
		Name:        "Pro",
		Description: "The complete toolkit for professionals",
		Price:       "9.99",
		Popular:     true,
		Limits: map[LimitKey]any{
			LimitChatbotDaily:     -1,
			LimitStatutes:         ScopeAll,
			LimitCaseLaw:          true,
			LimitPracticeCases:    true,
			LimitQuizzes:          true,
			LimitRecordGenerator:  true,
			LimitRegulatoryAlerts: true,
			LimitOffline:          ScopeFull,
			LimitTeamFeatures:     false,
			LimitMaxTeamMembers:   0,
			LimitSharedRecords:    false,
			LimitTeamStats:        false,
			LimitExportReports:    false,
		},
		Highlights: []string{
			"Everything in Basic",
			"Unlimited chatbot",
			"Complete interlinked regulations",
			"Case law library",
			"Practice cases and quizzes",
			"Record draft generator",
			"Regulatory alerts",
			"Full offline mode",
		},
	},
	{
		ID:          types.PlanTeam,
		Name:        "Team",
		Description: "For whole traffic units",
		Price:       "99.99",
		Limits: map[LimitKey]any{
			LimitChatbotDaily:     -1,
			LimitStatutes:         ScopeAll,
			LimitCaseLaw:          true,
			LimitPracticeCases:    true,
			LimitQuizzes:          true,
			LimitRecordGenerator:  true,
			LimitRegulatoryAlerts: true,
			LimitOffline:          ScopeFull,
			LimitTeamFeatures:     true,
			LimitMaxTeamMembers:   20,
			LimitSharedRecords:    true,
			LimitTeamStats:        true,
			LimitExportReports:    true,
		},
		Highlights: []string{
			"Everything in Pro",
			"Up to 20 members",
			"Admin dashboard",
			"Team statistics",
			"Shared record drafts",
			"Team templates",
			"Dedicated email support",
		},
	},
}

// staticPlanRegistry is the compile-time registry backed by planDefinitions.
type staticPlanRegistry struct {
	plans map[types.PlanID]Plan
	order []types.PlanID
}

// NewStaticPlanRegistry returns the registry built from the built-in plan
// table. The table is validated on construction; a malformed table is a
// programming error and panics.
func NewStaticPlanRegistry() PlanRegistry {
	reg, err := newPlanRegistry(planDefinitions)
	if err != nil {
		panic(err)
	}
	return reg
}

func newPlanRegistry(defs []planDefinition) (*staticPlanRegistry, error) {
	reg := &staticPlanRegistry{plans: make(map[types.PlanID]Plan, len(defs))}

	for _, def := range defs {
		if _, dup := reg.plans[def.ID]; dup {
			return nil, fmt.Errorf("billing: duplicate plan %q", def.ID)
		}
		price, err := decimal.NewFromString(def.Price)
		if err != nil {
			return nil, fmt.Errorf("billing: plan %q: invalid price %q: %w", def.ID, def.Price, err)
		}

		limits := make(map[LimitKey]LimitValue, len(LimitKeys))
		for _, key := range LimitKeys {
			raw, ok := def.Limits[key]
			if !ok {
				return nil, fmt.Errorf("billing: plan %q is missing limit %q", def.ID, key)
			}
			v, err := limitFromRaw(raw)
			if err != nil {
				return nil, fmt.Errorf("billing: plan %q limit %q: %w", def.ID, key, err)
			}
			limits[key] = v
		}
		if len(def.Limits) != len(LimitKeys) {
			return nil, fmt.Errorf("billing: plan %q defines unknown limit keys", def.ID)
		}

		reg.plans[def.ID] = Plan{
			ID:           def.ID,
			Name:         def.Name,
			Description:  def.Description,
			MonthlyPrice: price,
			Popular:      def.Popular,
			limits:       limits,
			highlights:   append([]string(nil), def.Highlights...),
		}
		reg.order = append(reg.order, def.ID)
	}

	return reg, nil
}

func limitFromRaw(raw any) (LimitValue, error) {
	switch v := raw.(type) {
	case bool:
		return FlagValue(v), nil
	case int:
		return QuotaValue(QuotaFromSentinel(int64(v))), nil
	case string:
		return ScopeValue(v), nil
	case []string:
		return ListValue(v...), nil
	default:
		return LimitValue{}, fmt.Errorf("unsupported limit type %T", raw)
	}
}

func (r *staticPlanRegistry) GetPlan(id types.PlanID) (Plan, error) {
	p, ok := r.plans[id]
	if !ok {
		return Plan{}, types.NewAppError(types.ErrCodeNotFoundPlan, fmt.Sprintf("unknown plan %q", id), nil)
	}
	return p, nil
}

func (r *staticPlanRegistry) HasFeature(id types.PlanID, key LimitKey) bool {
	p, ok := r.plans[id]
	if !ok {
		return false
	}
	v, ok := p.limits[key]
	if !ok {
		return false
	}
	return v.Enabled()
}

func (r *staticPlanRegistry) ChatbotLimit(id types.PlanID) Quota {
	p, ok := r.plans[id]
	if !ok {
		return Finite(0)
	}
	q, _ := p.limits[LimitChatbotDaily].Quota()
	return q
}

func (r *staticPlanRegistry) Plans() []Plan {
	out := make([]Plan, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.plans[id])
	}
	return out
}

// ComparePlans returns -1, 0 or +1 as a orders before, equal to, or after b
// in PlanOrder. Unknown ids sort before free.
func ComparePlans(a, b types.PlanID) int {
	ra, rb := planRank(a), planRank(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

// IsUpgrade reports whether moving from one plan to another goes up the order.
func IsUpgrade(from, to types.PlanID) bool {
	return ComparePlans(from, to) < 0
}

func planRank(id types.PlanID) int {
	for i, p := range PlanOrder {
		if p == id {
			return i
		}
	}
	return -1
}
