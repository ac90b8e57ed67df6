package risk

import (
	"errors"
	"math/big"
	"strings"

	"lendcore/observability/metrics"
)

var (
	ErrHealthyPosition = errors.New("risk engine: position not eligible for liquidation")
	ErrNoCollateral    = errors.New("risk engine: nothing left to seize")
	ErrSeizeNotGranted = errors.New("risk engine: seize capability not granted")
)

// LiquidationEngine resolves unsafe positions by repaying debt in exchange
// for discounted collateral. Callers must hold the keeper role, and the
// collateral ledger must have separately granted this engine the seize
// capability; holding one does not imply the other.
type LiquidationEngine struct {
	engine *Engine
}

// NewLiquidationEngine constructs a liquidation engine bound to the risk
// engine. It cannot seize until GrantSeize is called.
func NewLiquidationEngine(engine *Engine) *LiquidationEngine {
	return &LiquidationEngine{engine: engine}
}

// GrantSeize authorizes the liquidation engine to move collateral out of the
// ledger's custody. Risk admins only.
func (e *Engine) GrantSeize(caller string, le *LiquidationEngine) error {
	if e == nil || le == nil {
		return ErrNilState
	}
	if e.roles == nil || !e.roles.Has(RoleRiskAdmin, caller) {
		return ErrUnauthorized
	}
	e.seizeMu.Lock()
	e.seizers[le] = struct{}{}
	e.seizeMu.Unlock()
	return nil
}

// RevokeSeize withdraws a previously granted seize capability.
func (e *Engine) RevokeSeize(caller string, le *LiquidationEngine) error {
	if e == nil || le == nil {
		return ErrNilState
	}
	if e.roles == nil || !e.roles.Has(RoleRiskAdmin, caller) {
		return ErrUnauthorized
	}
	e.seizeMu.Lock()
	delete(e.seizers, le)
	e.seizeMu.Unlock()
	return nil
}

func (e *Engine) seizeAllowed(le *LiquidationEngine) bool {
	e.seizeMu.RLock()
	defer e.seizeMu.RUnlock()
	_, ok := e.seizers[le]
	return ok
}

// Liquidate repays up to repayAmount of the account's debt from the caller's
// balance and transfers the equivalent collateral, grossed up by the
// liquidation bonus, to the caller. Healthy positions are rejected. The
// whole sequence runs under locks on the borrower, liquidator and both
// treasury accounts, so competing liquidations either work a smaller,
// still-unsafe remainder or fail with ErrNoCollateral; seized collateral can
// never exceed the account balance.
func (le *LiquidationEngine) Liquidate(caller, account string, repayAmount *big.Int) (result LiquidationResult, err error) {
	defer func() { metrics.Risk().ObserveLiquidation(outcome(err)) }()
	if le == nil || le.engine == nil {
		return LiquidationResult{}, ErrNilState
	}
	e := le.engine
	if e.state == nil {
		return LiquidationResult{}, ErrNilState
	}
	if err := guard(e.pauses, moduleName); err != nil {
		return LiquidationResult{}, err
	}
	if e.roles == nil || !e.roles.Has(RoleKeeper, caller) {
		return LiquidationResult{}, ErrUnauthorized
	}
	if !e.seizeAllowed(le) {
		return LiquidationResult{}, ErrSeizeNotGranted
	}
	if e.prices == nil {
		return LiquidationResult{}, ErrNilPrices
	}
	key := strings.TrimSpace(account)
	if key == "" {
		return LiquidationResult{}, ErrInvalidAccount
	}
	if repayAmount == nil || repayAmount.Sign() <= 0 {
		return LiquidationResult{}, ErrInvalidAmount
	}

	unlock := e.locks.acquire(caller, key, e.poolAccount, e.collateralAccount)
	defer unlock()

	index := e.accrueInterest()
	quote, err := e.prices.GetPrice(e.collateralAsset)
	if err != nil {
		return LiquidationResult{}, err
	}

	position, err := e.loadPosition(key)
	if err != nil {
		return LiquidationResult{}, err
	}
	debt := debtFromScaled(position.ScaledDebt, index)
	if debt.Sign() == 0 {
		return LiquidationResult{}, ErrHealthyPosition
	}

	e.paramsMu.RLock()
	liqBps := e.params.LiquidationLTVBps
	bonusBps := e.params.LiquidationBonusBps
	e.paramsMu.RUnlock()

	if positionSafe(position.Collateral, debt, quote.Price, liqBps) {
		return LiquidationResult{}, ErrHealthyPosition
	}
	if position.Collateral.Sign() == 0 {
		return LiquidationResult{}, ErrNoCollateral
	}

	actual := new(big.Int).Set(repayAmount)
	if actual.Cmp(debt) > 0 {
		actual = new(big.Int).Set(debt)
	}

	liquidatorBal, err := e.loadBalances(caller)
	if err != nil {
		return LiquidationResult{}, err
	}
	if liquidatorBal.Base.Cmp(actual) < 0 {
		return LiquidationResult{}, ErrInsufficientBalance
	}
	poolBal, err := e.loadBalances(e.poolAccount)
	if err != nil {
		return LiquidationResult{}, err
	}
	vaultBal, err := e.loadBalances(e.collateralAccount)
	if err != nil {
		return LiquidationResult{}, err
	}

	seize := seizeQuantity(actual, quote.Price, bonusBps)
	if seize.Cmp(position.Collateral) > 0 {
		seize = new(big.Int).Set(position.Collateral)
	}
	if vaultBal.Collateral.Cmp(seize) < 0 {
		return LiquidationResult{}, ErrInsufficientLiquidity
	}

	liquidatorBal.Base = new(big.Int).Sub(liquidatorBal.Base, actual)
	poolBal.Base = new(big.Int).Add(poolBal.Base, actual)
	vaultBal.Collateral = new(big.Int).Sub(vaultBal.Collateral, seize)
	liquidatorBal.Collateral = new(big.Int).Add(liquidatorBal.Collateral, seize)

	position.ScaledDebt = reduceScaledDebt(position.ScaledDebt, actual, debt, index)
	position.Collateral = new(big.Int).Sub(position.Collateral, seize)

	if err := e.state.PutBalances(caller, liquidatorBal); err != nil {
		return LiquidationResult{}, err
	}
	if err := e.state.PutBalances(e.poolAccount, poolBal); err != nil {
		return LiquidationResult{}, err
	}
	if err := e.state.PutBalances(e.collateralAccount, vaultBal); err != nil {
		return LiquidationResult{}, err
	}
	if err := e.state.PutPosition(position); err != nil {
		return LiquidationResult{}, err
	}

	if e.logger != nil {
		e.logger.Info("liquidation",
			"caller", caller,
			"account", key,
			"repaid", actual.String(),
			"seized", seize.String(),
		)
	}
	return LiquidationResult{Repaid: actual, Seized: seize}, nil
}

// seizeQuantity converts the repaid debt into collateral units at the
// snapshot price, grossed up by the liquidation bonus:
// repaid * (10000+bonus) * WAD / (10000 * price).
func seizeQuantity(repaid, price *big.Int, bonusBps uint64) *big.Int {
	if repaid == nil || repaid.Sign() <= 0 || price == nil || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	gross := new(big.Int).Mul(repaid, new(big.Int).SetUint64(10_000+bonusBps))
	gross.Mul(gross, wad)
	den := new(big.Int).Mul(basisPoints, price)
	gross.Quo(gross, den)
	return gross
}
