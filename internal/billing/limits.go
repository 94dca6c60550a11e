package billing

import (
	"encoding/json"
	"strconv"
)

// Quota is a daily allowance: either a finite non-negative count or unlimited.
// The zero value is Finite(0).
type Quota struct {
	n         int64
	unlimited bool
}

// Finite returns a bounded quota. Negative counts clamp to zero.
func Finite(n int64) Quota {
	if n < 0 {
		n = 0
	}
	return Quota{n: n}
}

// Unlimited returns the unbounded quota.
func Unlimited() Quota {
	return Quota{unlimited: true}
}

// QuotaFromSentinel converts the raw plan-table encoding, where -1 means
// unlimited, into a Quota. This is the only place the sentinel is interpreted.
func QuotaFromSentinel(raw int64) Quota {
	if raw == -1 {
		return Unlimited()
	}
	return Finite(raw)
}

// IsUnlimited reports whether the quota is unbounded.
func (q Quota) IsUnlimited() bool { return q.unlimited }

// Count returns the finite bound. ok is false for an unlimited quota.
func (q Quota) Count() (n int64, ok bool) {
	if q.unlimited {
		return 0, false
	}
	return q.n, true
}

// Positive reports whether the quota allows at least one more unit.
func (q Quota) Positive() bool {
	return q.unlimited || q.n > 0
}

// Allows reports whether one more unit may be consumed after used units.
func (q Quota) Allows(used int64) bool {
	if q.unlimited {
		return true
	}
	return used < q.n
}

// Remaining returns what is left after used units, never below zero.
func (q Quota) Remaining(used int64) Quota {
	if q.unlimited {
		return q
	}
	return Finite(q.n - used)
}

func (q Quota) String() string {
	if q.unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(q.n, 10)
}

// MarshalJSON encodes a finite quota as a number and an unlimited one as the
// string "unlimited".
func (q Quota) MarshalJSON() ([]byte, error) {
	if q.unlimited {
		return []byte(`"unlimited"`), nil
	}
	return []byte(strconv.FormatInt(q.n, 10)), nil
}

// LimitKind discriminates the LimitValue variants.
type LimitKind int

const (
	KindFlag LimitKind = iota
	KindQuota
	KindScope
	KindList
)

func (k LimitKind) String() string {
	switch k {
	case KindFlag:
		return "flag"
	case KindQuota:
		return "quota"
	case KindScope:
		return "scope"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// LimitValue is one entry of a plan's limit table: a boolean flag, a numeric
// quota, a named scope such as "all" or "full", or an explicit list.
type LimitValue struct {
	kind  LimitKind
	flag  bool
	quota Quota
	scope string
	list  []string
}

func FlagValue(b bool) LimitValue { return LimitValue{kind: KindFlag, flag: b} }

func QuotaValue(q Quota) LimitValue { return LimitValue{kind: KindQuota, quota: q} }

func ScopeValue(s string) LimitValue { return LimitValue{kind: KindScope, scope: s} }

func ListValue(items ...string) LimitValue {
	cp := make([]string, len(items))
	copy(cp, items)
	return LimitValue{kind: KindList, list: cp}
}

func (v LimitValue) Kind() LimitKind { return v.kind }

func (v LimitValue) Flag() (bool, bool) { return v.flag, v.kind == KindFlag }

func (v LimitValue) Quota() (Quota, bool) { return v.quota, v.kind == KindQuota }

func (v LimitValue) Scope() (string, bool) { return v.scope, v.kind == KindScope }

// List returns a copy of the list items.
func (v LimitValue) List() ([]string, bool) {
	if v.kind != KindList {
		return nil, false
	}
	cp := make([]string, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// Enabled reports whether the value grants its feature: Flag(true), the
// "all" and "full" scopes, or a finite positive quota. An unlimited quota is
// not a feature grant; callers gate on it through Quota.Allows instead.
// Lists and narrower scopes never grant the feature as a whole.
func (v LimitValue) Enabled() bool {
	switch v.kind {
	case KindFlag:
		return v.flag
	case KindQuota:
		return !v.quota.unlimited && v.quota.n > 0
	case KindScope:
		return v.scope == ScopeAll || v.scope == ScopeFull
	default:
		return false
	}
}

func (v LimitValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindFlag:
		return json.Marshal(v.flag)
	case KindQuota:
		return v.quota.MarshalJSON()
	case KindScope:
		return json.Marshal(v.scope)
	case KindList:
		return json.Marshal(v.list)
	default:
		return []byte("null"), nil
	}
}
