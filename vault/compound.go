package vault

import (
	"math/big"
	"time"
)

const secondsPerYear = 31_536_000

// DefaultSafetyMultiplierBps requires the projected gain to beat the
// execution cost by 20% before a compound is worth triggering.
const DefaultSafetyMultiplierBps = 12_000

var basisPoints = big.NewInt(10_000)

// CompoundPolicy is the cost-aware trigger the external scheduler evaluates
// before invoking Compound. It lives with the vault so its contract is
// testable independently of any keeper process.
type CompoundPolicy struct {
	// ExpectedAPRBps is the assumed reward rate on vault assets.
	ExpectedAPRBps uint64
	// Interval is the period between scheduler runs.
	Interval time.Duration
	// SafetyMultiplierBps scales the execution cost the projected gain must
	// clear. Zero selects the default.
	SafetyMultiplierBps uint64
}

// ProjectedGain estimates the rewards accrued over one interval:
// totalAssets * apr/10000 * interval/secondsPerYear.
func (p CompoundPolicy) ProjectedGain(totalAssets *big.Int) *big.Int {
	if totalAssets == nil || totalAssets.Sign() <= 0 || p.ExpectedAPRBps == 0 || p.Interval <= 0 {
		return big.NewInt(0)
	}
	gain := new(big.Int).Mul(totalAssets, new(big.Int).SetUint64(p.ExpectedAPRBps))
	gain.Mul(gain, big.NewInt(int64(p.Interval/time.Second)))
	gain.Quo(gain, basisPoints)
	gain.Quo(gain, big.NewInt(secondsPerYear))
	return gain
}

// ShouldCompound reports whether the projected gain justifies the execution
// cost: gain > cost * multiplier, evaluated in integers.
func (p CompoundPolicy) ShouldCompound(totalAssets, executionCost *big.Int) bool {
	gain := p.ProjectedGain(totalAssets)
	if gain.Sign() <= 0 {
		return false
	}
	if executionCost == nil || executionCost.Sign() <= 0 {
		return true
	}
	multiplier := p.SafetyMultiplierBps
	if multiplier == 0 {
		multiplier = DefaultSafetyMultiplierBps
	}
	lhs := new(big.Int).Mul(gain, basisPoints)
	rhs := new(big.Int).Mul(executionCost, new(big.Int).SetUint64(multiplier))
	return lhs.Cmp(rhs) > 0
}
