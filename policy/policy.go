// Package policy holds the collateralization rules that bound how much can be
// borrowed against an asset and when its loans may be liquidated.
//
// Loan-to-value caps are expressed in basis points per risk band. Borrowing
// capacity only shrinks as risk rises: tiers must be non-increasing.
package policy

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	MaxRiskScore = 100
	BpsDenom     = 10000

	// DefaultLiquidationThreshold makes loans eligible for liquidation once
	// the asset's risk is strictly above 80.
	DefaultLiquidationThreshold uint8 = 81
)

// Tier caps the loan-to-value ratio for every risk score up to and including MaxRisk.
type Tier struct {
	MaxRisk uint8  `yaml:"maxRisk" json:"maxRisk"`
	LtvBps  uint64 `yaml:"ltvBps" json:"ltvBps"`
}

// DefaultTiers is the band table used when none is configured.
func DefaultTiers() []Tier {
	return []Tier{
		{MaxRisk: 20, LtvBps: 7000},
		{MaxRisk: 40, LtvBps: 6000},
		{MaxRisk: 60, LtvBps: 5000},
		{MaxRisk: 80, LtvBps: 3500},
		{MaxRisk: 100, LtvBps: 2000},
	}
}

type Policy struct {
	tiers                []Tier
	liquidationThreshold uint8
}

var bpsDenom = decimal.NewFromInt(BpsDenom)

// New validates the tier table and threshold and returns a Policy. A nil or
// empty tier slice selects DefaultTiers.
func New(tiers []Tier, liquidationThreshold uint8) (*Policy, error) {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	if liquidationThreshold == 0 || liquidationThreshold > MaxRiskScore {
		return nil, fmt.Errorf("policy: liquidation threshold %d must be within 1..%d", liquidationThreshold, MaxRiskScore)
	}

	copied := make([]Tier, len(tiers))
	copy(copied, tiers)

	return &Policy{tiers: copied, liquidationThreshold: liquidationThreshold}, nil
}

// Default returns the policy with DefaultTiers and DefaultLiquidationThreshold.
func Default() *Policy {
	p, err := New(nil, DefaultLiquidationThreshold)
	if err != nil {
		panic(err)
	}
	return p
}

// ValidateTiers checks that tiers cover 0..100 in ascending contiguous bands
// with non-increasing caps in (0, 10000].
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return errors.New("policy: at least one ltv tier is required")
	}
	for i, t := range tiers {
		if t.LtvBps == 0 || t.LtvBps > BpsDenom {
			return fmt.Errorf("policy: tier %d ltv %d bps must be within 1..%d", i, t.LtvBps, BpsDenom)
		}
		if t.MaxRisk > MaxRiskScore {
			return fmt.Errorf("policy: tier %d maxRisk %d exceeds %d", i, t.MaxRisk, MaxRiskScore)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.MaxRisk <= prev.MaxRisk {
			return fmt.Errorf("policy: tier %d maxRisk %d must be above %d", i, t.MaxRisk, prev.MaxRisk)
		}
		if t.LtvBps > prev.LtvBps {
			return fmt.Errorf("policy: tier %d ltv %d bps raises the cap of the previous tier (%d bps)", i, t.LtvBps, prev.LtvBps)
		}
	}
	if last := tiers[len(tiers)-1]; last.MaxRisk != MaxRiskScore {
		return fmt.Errorf("policy: last tier must end at risk %d, ends at %d", MaxRiskScore, last.MaxRisk)
	}
	return nil
}

func (p *Policy) Tiers() []Tier {
	out := make([]Tier, len(p.tiers))
	copy(out, p.tiers)
	return out
}

func (p *Policy) LiquidationThreshold() uint8 {
	return p.liquidationThreshold
}

// LtvBps returns the loan-to-value cap for riskScore. Scores above 100 are
// treated as 100.
func (p *Policy) LtvBps(riskScore uint8) uint64 {
	for _, t := range p.tiers {
		if riskScore <= t.MaxRisk {
			return t.LtvBps
		}
	}
	return p.tiers[len(p.tiers)-1].LtvBps
}

// MaxAggregatePrincipal is the most that may be outstanding across all active
// loans on an asset of the given valuation at riskScore.
func (p *Policy) MaxAggregatePrincipal(valuation uint64, riskScore uint8) uint64 {
	capped := p.maxAggregate(valuation, riskScore)
	// valuation * ltv / 10000 <= valuation, so the result always fits.
	return capped.BigInt().Uint64()
}

// Admits reports whether requested can be added on top of outstanding without
// exceeding the aggregate cap. Sums are computed without overflow.
func (p *Policy) Admits(valuation uint64, riskScore uint8, outstanding, requested uint64) bool {
	total := fromUint64(outstanding).Add(fromUint64(requested))
	return total.LessThanOrEqual(p.maxAggregate(valuation, riskScore))
}

// Headroom is the principal that can still be borrowed. Zero when the asset is
// at or over its cap.
func (p *Policy) Headroom(valuation uint64, riskScore uint8, outstanding uint64) uint64 {
	remaining := p.maxAggregate(valuation, riskScore).Sub(fromUint64(outstanding))
	if !remaining.IsPositive() {
		return 0
	}
	return remaining.BigInt().Uint64()
}

// Utilization returns outstanding/valuation as a decimal ratio rounded to four places.
func (p *Policy) Utilization(valuation, outstanding uint64) decimal.Decimal {
	if valuation == 0 {
		return decimal.Zero
	}
	return fromUint64(outstanding).DivRound(fromUint64(valuation), 4)
}

// IsLiquidationEligible reports whether loans on an asset currently at
// riskScore can be liquidated.
func (p *Policy) IsLiquidationEligible(riskScore uint8) bool {
	return riskScore >= p.liquidationThreshold
}

func (p *Policy) maxAggregate(valuation uint64, riskScore uint8) decimal.Decimal {
	ltv := decimal.NewFromInt(int64(p.LtvBps(riskScore)))
	return fromUint64(valuation).Mul(ltv).Div(bpsDenom).Floor()
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
