package circuit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEquityGateDisabledAllowsEverything(t *testing.T) {
	gate := NewEquityGate(decimal.Zero)
	assert.False(t, gate.Enabled())

	d := gate.Decide(decimal.NewFromInt(5000), decimal.NewFromInt(1_000_000))
	assert.True(t, d.Allowed)
	assert.False(t, d.Enabled)
	assert.InDelta(t, 1_005_000, d.Projected.InexactFloat64(), 0.001)
}

func TestEquityGateDecisions(t *testing.T) {
	gate := NewEquityGate(decimal.NewFromInt(1000))
	assert.True(t, gate.Enabled())

	// Exactly at the ceiling is still allowed.
	d := gate.Decide(decimal.NewFromInt(400), decimal.NewFromInt(600))
	assert.True(t, d.Allowed)
	assert.InDelta(t, 1000, d.Projected.InexactFloat64(), 0.001)
	assert.InDelta(t, 600, d.Headroom.InexactFloat64(), 0.001)

	// One cent past the ceiling is rejected.
	d = gate.Decide(decimal.NewFromInt(400), decimal.NewFromFloat(600.01))
	assert.False(t, d.Allowed)
	assert.True(t, d.Enabled)
	assert.InDelta(t, 1000.01, d.Projected.InexactFloat64(), 0.001)
}

func TestEquityGateNegativeLimitDisabled(t *testing.T) {
	gate := NewEquityGate(decimal.NewFromInt(-100))
	assert.False(t, gate.Enabled())
	assert.True(t, gate.Decide(decimal.Zero, decimal.NewFromInt(1)).Allowed)
}

func TestEquityGateNilReceiver(t *testing.T) {
	var gate *EquityGate
	assert.False(t, gate.Enabled())
	assert.True(t, gate.Decide(decimal.Zero, decimal.NewFromInt(50)).Allowed)
}
