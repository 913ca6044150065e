package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTierBands(t *testing.T) {
	p := Default()

	cases := []struct {
		risk uint8
		bps  uint64
	}{
		{0, 7000}, {20, 7000},
		{21, 6000}, {35, 6000}, {40, 6000},
		{41, 5000}, {50, 5000}, {60, 5000},
		{61, 3500}, {80, 3500},
		{81, 2000}, {100, 2000},
	}
	for _, c := range cases {
		assert.Equalf(t, c.bps, p.LtvBps(c.risk), "risk %d", c.risk)
	}
}

func TestLtvIsNonIncreasing(t *testing.T) {
	p := Default()
	prev := p.LtvBps(0)
	for r := 1; r <= MaxRiskScore; r++ {
		cur := p.LtvBps(uint8(r))
		require.LessOrEqualf(t, cur, prev, "ltv rose at risk %d", r)
		require.Greater(t, cur, uint64(0))
		prev = cur
	}
}

func TestMaxAggregatePrincipal(t *testing.T) {
	p := Default()

	assert.Equal(t, uint64(30_000_000), p.MaxAggregatePrincipal(50_000_000, 35))
	assert.Equal(t, uint64(25_000_000), p.MaxAggregatePrincipal(50_000_000, 50))
	assert.Equal(t, uint64(10_000_000), p.MaxAggregatePrincipal(50_000_000, 85))
	// floor of 333 * 0.7
	assert.Equal(t, uint64(233), p.MaxAggregatePrincipal(333, 0))
}

func TestMaxAggregatePrincipalDoesNotOverflow(t *testing.T) {
	p := Default()
	got := p.MaxAggregatePrincipal(math.MaxUint64, 0)
	assert.Equal(t, uint64(12912720851596686130), got)
}

func TestAdmitsAggregateExposure(t *testing.T) {
	p := Default()

	// first loan fits under the 60% cap at risk 35
	assert.True(t, p.Admits(50_000_000, 35, 0, 17_500_000))
	// a second borrower pushing the sum to 47.5M does not
	assert.False(t, p.Admits(50_000_000, 35, 17_500_000, 30_000_000))
	// exactly at the cap is admitted
	assert.True(t, p.Admits(50_000_000, 35, 17_500_000, 12_500_000))
	// sums past uint64 are rejected rather than wrapping
	assert.False(t, p.Admits(math.MaxUint64, 0, math.MaxUint64, math.MaxUint64))
}

func TestHeadroom(t *testing.T) {
	p := Default()
	assert.Equal(t, uint64(12_500_000), p.Headroom(50_000_000, 35, 17_500_000))
	// risk rose after issuance: over cap means no headroom
	assert.Equal(t, uint64(0), p.Headroom(50_000_000, 85, 17_500_000))
}

func TestUtilization(t *testing.T) {
	p := Default()
	assert.Equal(t, "0.35", p.Utilization(50_000_000, 17_500_000).String())
	assert.True(t, p.Utilization(0, 10).IsZero())
}

func TestLiquidationEligibility(t *testing.T) {
	p := Default()
	assert.False(t, p.IsLiquidationEligible(42))
	assert.False(t, p.IsLiquidationEligible(80))
	assert.True(t, p.IsLiquidationEligible(81))
	assert.True(t, p.IsLiquidationEligible(85))

	custom, err := New(nil, 70)
	require.NoError(t, err)
	assert.True(t, custom.IsLiquidationEligible(70))
	assert.False(t, custom.IsLiquidationEligible(69))
}

func TestNewRejectsBadTables(t *testing.T) {
	cases := map[string][]Tier{
		"zero ltv":          {{MaxRisk: 100, LtvBps: 0}},
		"ltv over 100%":     {{MaxRisk: 100, LtvBps: 10001}},
		"not ending at 100": {{MaxRisk: 50, LtvBps: 5000}},
		"increasing cap": {
			{MaxRisk: 50, LtvBps: 5000},
			{MaxRisk: 100, LtvBps: 6000},
		},
		"overlapping bands": {
			{MaxRisk: 50, LtvBps: 5000},
			{MaxRisk: 50, LtvBps: 4000},
			{MaxRisk: 100, LtvBps: 3000},
		},
	}
	for name, tiers := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(tiers, DefaultLiquidationThreshold)
			assert.Error(t, err)
		})
	}

	_, err := New(nil, 0)
	assert.Error(t, err)
	_, err = New(nil, 101)
	assert.Error(t, err)
}

func TestTiersReturnsCopy(t *testing.T) {
	p := Default()
	tiers := p.Tiers()
	tiers[0].LtvBps = 1
	assert.Equal(t, uint64(7000), p.LtvBps(0))
}
