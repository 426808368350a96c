package circuit

import (
	"github.com/shopspring/decimal"
)

// EquityGate is the deployed-capital ceiling for a run's BUY side.
// It is a pure decision helper: the authoritative cumulative value lives in
// the store and only grows through atomic increments, so the gate is an
// advisory pre-trade check with a bounded overshoot of at most one
// in-flight trade.
type EquityGate struct {
	limit decimal.Decimal
}

// Decision is the outcome of one ceiling check.
type Decision struct {
	Allowed   bool
	Enabled   bool
	Current   decimal.Decimal
	Proposed  decimal.Decimal
	Projected decimal.Decimal
	Limit     decimal.Decimal
	Headroom  decimal.Decimal
}

// NewEquityGate builds a gate with the given USD ceiling. A zero or
// negative limit disables the gate entirely.
func NewEquityGate(limitUSD decimal.Decimal) *EquityGate {
	return &EquityGate{limit: limitUSD}
}

// Enabled reports whether the ceiling is active.
func (g *EquityGate) Enabled() bool {
	return g != nil && g.limit.IsPositive()
}

// Decide checks whether a proposed BUY value fits under the ceiling given
// the currently recorded cumulative value.
func (g *EquityGate) Decide(current, proposed decimal.Decimal) Decision {
	if !g.Enabled() {
		return Decision{
			Allowed:   true,
			Enabled:   false,
			Current:   current,
			Proposed:  proposed,
			Projected: current.Add(proposed),
		}
	}
	projected := current.Add(proposed)
	return Decision{
		Allowed:   projected.LessThanOrEqual(g.limit),
		Enabled:   true,
		Current:   current,
		Proposed:  proposed,
		Projected: projected,
		Limit:     g.limit,
		Headroom:  g.limit.Sub(current),
	}
}
