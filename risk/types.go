package risk

import "math/big"

// Position maintains the lending position for an individual account. Amounts
// are denominated in the asset's smallest unit and expressed as big integers
// to keep accrual math deterministic.
type Position struct {
	// Account is the unique account identifier.
	Account string
	// Collateral records the raw collateral quantity pledged for borrowing.
	Collateral *big.Int
	// ScaledDebt is the debt principal normalized by the interest index at
	// recording time; real owed debt is ScaledDebt * currentIndex / WAD.
	ScaledDebt *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Account: p.Account}
	if p.Collateral != nil {
		clone.Collateral = new(big.Int).Set(p.Collateral)
	}
	if p.ScaledDebt != nil {
		clone.ScaledDebt = new(big.Int).Set(p.ScaledDebt)
	}
	return clone
}

// Balances tracks an account's free asset holdings outside the engine's
// custody: the borrowed (base) asset and the collateral asset.
type Balances struct {
	Base       *big.Int
	Collateral *big.Int
}

// Clone returns a deep copy of the balances.
func (b *Balances) Clone() *Balances {
	if b == nil {
		return nil
	}
	clone := &Balances{}
	if b.Base != nil {
		clone.Base = new(big.Int).Set(b.Base)
	}
	if b.Collateral != nil {
		clone.Collateral = new(big.Int).Set(b.Collateral)
	}
	return clone
}

// RiskParameters groups the governance controlled safety limits. All values
// are basis points.
type RiskParameters struct {
	// TargetLTVBps is the maximum loan-to-value permitted on new borrows.
	TargetLTVBps uint64
	// LiquidationLTVBps is the LTV where positions become liquidatable.
	// Must strictly exceed TargetLTVBps.
	LiquidationLTVBps uint64
	// BaseRateBps is the annual borrow rate applied by linear accrual.
	BaseRateBps uint64
	// LiquidationBonusBps grosses up collateral seized during liquidation.
	LiquidationBonusBps uint64
}

// InterestState is the process-wide accrual singleton. Index is WAD scaled
// and monotonically non-decreasing; LastAccrual is a unix timestamp.
type InterestState struct {
	Index       *big.Int
	LastAccrual int64
}

// AccountData is the snapshot reported to external callers and the keeper.
type AccountData struct {
	// Collateral is the raw pledged quantity.
	Collateral *big.Int
	// CollateralValue is the collateral valued at the snapshot price, in
	// base asset units.
	CollateralValue *big.Int
	// Debt is the interest-adjusted amount currently owed.
	Debt *big.Int
	// HealthFactor is liquidation-safe collateral value over debt; nil when
	// the account has no debt (conceptually infinite).
	HealthFactor *big.Rat
}

// LiquidationResult reports what a liquidation attempt actually moved.
type LiquidationResult struct {
	// Repaid is the debt amount pulled from the liquidator, capped at the
	// borrower's current debt.
	Repaid *big.Int
	// Seized is the collateral transferred to the liquidator, capped at the
	// borrower's available collateral.
	Seized *big.Int
}
