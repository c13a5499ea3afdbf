package alert

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
)

// Matcher evaluates rule conditions against change events. The zero value
// compares budget deltas exactly.
type Matcher struct {
	// EqualsEpsilon widens the budget "equals" operator to |delta-value| <= epsilon.
	EqualsEpsilon float64
}

type predicate func(ev ChangeEvent) bool

// EvaluateRule reports whether ev satisfies every present condition in c.
func EvaluateRule(c RuleConditions, ev ChangeEvent) bool {
	return Matcher{}.Matches(c, ev)
}

func (m Matcher) Matches(c RuleConditions, ev ChangeEvent) bool {
	for _, p := range m.predicates(c) {
		if !p(ev) {
			return false
		}
	}
	return true
}

// predicates returns the checks in evaluation order; absent conditions
// contribute nothing.
func (m Matcher) predicates(c RuleConditions) []predicate {
	out := make([]predicate, 0, 7)
	if len(c.Platforms) > 0 {
		out = append(out, func(ev ChangeEvent) bool { return memberOf(ev.Platform, c.Platforms) })
	}
	if len(c.AdAccountIDs) > 0 {
		out = append(out, func(ev ChangeEvent) bool { return memberOf(ev.AdAccountID, c.AdAccountIDs) })
	}
	if len(c.ChangeTypes) > 0 {
		out = append(out, func(ev ChangeEvent) bool { return memberOf(ev.ChangeType, c.ChangeTypes) })
	}
	if len(c.ResourceTypes) > 0 {
		out = append(out, func(ev ChangeEvent) bool { return memberOf(ev.ResourceType, c.ResourceTypes) })
	}
	if len(c.Severity) > 0 {
		out = append(out, func(ev ChangeEvent) bool { return memberOf(ev.Severity, c.Severity) })
	}
	if c.BudgetChange != nil {
		bc := *c.BudgetChange
		out = append(out, func(ev ChangeEvent) bool { return m.matchBudget(bc, ev) })
	}
	if len(c.StatusChanges) > 0 {
		out = append(out, func(ev ChangeEvent) bool {
			status, ok := stringField(ev.AfterValue, "status")
			return ok && memberOf(status, c.StatusChanges)
		})
	}
	return out
}

func (m Matcher) matchBudget(bc BudgetChange, ev ChangeEvent) bool {
	before, ok := numberField(ev.BeforeValue, "budget")
	if !ok {
		return false
	}
	after, ok := numberField(ev.AfterValue, "budget")
	if !ok {
		return false
	}
	if !finite(bc.Value) {
		return false
	}

	delta := math.Abs(after - before)

	switch bc.Operator {
	case OpGreaterThan:
		return delta > bc.Value
	case OpLessThan:
		return delta < bc.Value
	case OpEquals:
		if m.EqualsEpsilon > 0 && finite(m.EqualsEpsilon) {
			diff := decimal.NewFromFloat(delta).Sub(decimal.NewFromFloat(bc.Value)).Abs()
			return diff.LessThanOrEqual(decimal.NewFromFloat(m.EqualsEpsilon))
		}
		// Exact float equality; EqualsEpsilon is the opt-in tolerance.
		return delta == bc.Value
	default:
		return false
	}
}

func memberOf[T comparable](v T, set []T) bool {
	for _, it := range set {
		if it == v {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func numberField(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return f, finite(f)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
