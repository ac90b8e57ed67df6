package risk

import (
	"errors"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"lendcore/observability/metrics"
	"lendcore/oracle"
)

var (
	ErrNilState               = errors.New("risk engine: state not configured")
	ErrNilPrices              = errors.New("risk engine: price source not configured")
	ErrNilFees                = errors.New("risk engine: fee schedule not configured")
	ErrInvalidAccount         = errors.New("risk engine: account required")
	ErrInvalidAmount          = errors.New("risk engine: amount must be positive")
	ErrInsufficientBalance    = errors.New("risk engine: insufficient balance")
	ErrInsufficientLiquidity  = errors.New("risk engine: insufficient pool liquidity")
	ErrInsufficientCollateral = errors.New("risk engine: withdrawal exceeds collateral balance")
	ErrUnsafeWithdrawal       = errors.New("risk engine: withdrawal would leave position unsafe")
	ErrLtvExceeded            = errors.New("risk engine: borrow exceeds target loan-to-value")
	ErrBelowMinimumBorrow     = errors.New("risk engine: borrow below minimum size")
	ErrNoOutstandingDebt      = errors.New("risk engine: no outstanding debt to repay")
	ErrNoFeeCollector         = errors.New("risk engine: fee collector not configured")
	ErrUnauthorized           = errors.New("risk engine: caller missing required role")
	ErrInvalidRiskParams      = errors.New("risk engine: invalid risk parameters")
)

const moduleName = "risk"

// PriceSource resolves a consistent price snapshot for an asset. Each
// check-then-act sequence fetches exactly one snapshot; a failed fetch fails
// the dependent operation closed.
type PriceSource interface {
	GetPrice(asset string) (oracle.PriceQuote, error)
}

// feeSource is the slice of the fee schedule the debt ledger consumes.
type feeSource interface {
	BorrowFee(account string, amount *big.Int) (*big.Int, string)
	MinBorrow() *big.Int
}

// Engine orchestrates the collateral ledger, the debt ledger and interest
// accrual. Every mutating operation holds exclusive locks over all accounts
// it touches, the treasuries included, for its whole check-then-act sequence
// and leaves no partial state behind a validation failure.
type Engine struct {
	state             engineState
	prices            PriceSource
	fees              feeSource
	roles             *RoleSet
	pauses            PauseView
	logger            *slog.Logger
	clock             func() time.Time
	poolAccount       string
	collateralAccount string
	collateralAsset   string

	paramsMu sync.RWMutex
	params   RiskParameters

	interestMu sync.Mutex
	interest   InterestState

	locks accountLocks

	seizeMu sync.RWMutex
	seizers map[*LiquidationEngine]struct{}
}

// NewEngine constructs an engine configured with the module treasury
// accounts and initial risk parameters.
func NewEngine(poolAccount, collateralAccount string, params RiskParameters) *Engine {
	return &Engine{
		poolAccount:       strings.TrimSpace(poolAccount),
		collateralAccount: strings.TrimSpace(collateralAccount),
		params:            params,
		clock:             time.Now,
		interest:          InterestState{Index: new(big.Int).Set(wad)},
		seizers:           make(map[*LiquidationEngine]struct{}),
	}
}

// SetState wires the engine to its persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetPrices wires the oracle consulted for collateral valuation.
func (e *Engine) SetPrices(prices PriceSource) {
	if e == nil {
		return
	}
	e.prices = prices
}

// SetFees wires the fee schedule consulted on borrows.
func (e *Engine) SetFees(fees feeSource) {
	if e == nil {
		return
	}
	e.fees = fees
}

// SetRoles wires the capability table checked at permissioned entry points.
func (e *Engine) SetRoles(roles *RoleSet) {
	if e == nil {
		return
	}
	e.roles = roles
}

// SetPauses wires the governance pause switches.
func (e *Engine) SetPauses(p PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetLogger configures event logging. A nil logger disables it.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	e.logger = logger
}

// SetClock overrides the time source used for accrual. Tests pin this.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.clock = now
}

// SetCollateralAsset names the oracle symbol the collateral is priced under.
func (e *Engine) SetCollateralAsset(asset string) {
	if e == nil {
		return
	}
	e.collateralAsset = strings.TrimSpace(asset)
}

// Params returns a copy of the active risk parameters.
func (e *Engine) Params() RiskParameters {
	e.paramsMu.RLock()
	defer e.paramsMu.RUnlock()
	return e.params
}

// SetParams replaces the risk parameters. Only risk admins may call, LTV
// values are bounded to 100% and the liquidation LTV must strictly exceed
// the target LTV so a freshly originated loan is never instantly
// liquidatable. Pending time is accrued at the old rate first.
func (e *Engine) SetParams(caller string, params RiskParameters) error {
	if e == nil {
		return ErrNilState
	}
	if e.roles == nil || !e.roles.Has(RoleRiskAdmin, caller) {
		return ErrUnauthorized
	}
	if params.TargetLTVBps > 10_000 || params.LiquidationLTVBps > 10_000 {
		return ErrInvalidRiskParams
	}
	if params.LiquidationLTVBps <= params.TargetLTVBps {
		return ErrInvalidRiskParams
	}
	e.accrueInterest()
	e.paramsMu.Lock()
	e.params = params
	e.paramsMu.Unlock()
	if e.logger != nil {
		e.logger.Info("risk parameters updated",
			"caller", caller,
			"target_ltv_bps", params.TargetLTVBps,
			"liquidation_ltv_bps", params.LiquidationLTVBps,
			"base_rate_bps", params.BaseRateBps,
			"liquidation_bonus_bps", params.LiquidationBonusBps,
		)
	}
	return nil
}

// Deposit locks collateral for the account. Deposits always succeed given a
// positive amount and sufficient free balance; no solvency check applies.
func (e *Engine) Deposit(account string, amount *big.Int) (err error) {
	defer func() { metrics.Risk().ObserveOperation("deposit", outcome(err)) }()
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := guard(e.pauses, moduleName); err != nil {
		return err
	}
	key := strings.TrimSpace(account)
	if key == "" {
		return ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	unlock := e.locks.acquire(key, e.collateralAccount)
	defer unlock()

	userBal, err := e.loadBalances(key)
	if err != nil {
		return err
	}
	if userBal.Collateral.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	vaultBal, err := e.loadBalances(e.collateralAccount)
	if err != nil {
		return err
	}
	position, err := e.loadPosition(key)
	if err != nil {
		return err
	}

	userBal.Collateral = new(big.Int).Sub(userBal.Collateral, amount)
	vaultBal.Collateral = new(big.Int).Add(vaultBal.Collateral, amount)
	position.Collateral = new(big.Int).Add(position.Collateral, amount)

	if err := e.state.PutBalances(key, userBal); err != nil {
		return err
	}
	if err := e.state.PutBalances(e.collateralAccount, vaultBal); err != nil {
		return err
	}
	return e.state.PutPosition(position)
}

// Withdraw releases collateral back to the account. The withdrawal is
// rejected when it exceeds the pledged balance or when the projected health
// factor after removal would drop below 1 while debt is outstanding. The
// balance decrement and the solvency check are atomic under the account
// lock.
func (e *Engine) Withdraw(account string, amount *big.Int) (err error) {
	defer func() { metrics.Risk().ObserveOperation("withdraw", outcome(err)) }()
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := guard(e.pauses, moduleName); err != nil {
		return err
	}
	key := strings.TrimSpace(account)
	if key == "" {
		return ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	unlock := e.locks.acquire(key, e.collateralAccount)
	defer unlock()

	position, err := e.loadPosition(key)
	if err != nil {
		return err
	}
	if position.Collateral.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}

	index := e.accrueInterest()
	debt := debtFromScaled(position.ScaledDebt, index)
	remaining := new(big.Int).Sub(position.Collateral, amount)

	if debt.Sign() > 0 {
		if e.prices == nil {
			return ErrNilPrices
		}
		quote, err := e.prices.GetPrice(e.collateralAsset)
		if err != nil {
			return err
		}
		e.paramsMu.RLock()
		liqBps := e.params.LiquidationLTVBps
		e.paramsMu.RUnlock()
		if !positionSafe(remaining, debt, quote.Price, liqBps) {
			return ErrUnsafeWithdrawal
		}
	}

	vaultBal, err := e.loadBalances(e.collateralAccount)
	if err != nil {
		return err
	}
	if vaultBal.Collateral.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	userBal, err := e.loadBalances(key)
	if err != nil {
		return err
	}

	vaultBal.Collateral = new(big.Int).Sub(vaultBal.Collateral, amount)
	userBal.Collateral = new(big.Int).Add(userBal.Collateral, amount)
	position.Collateral = remaining

	if err := e.state.PutBalances(e.collateralAccount, vaultBal); err != nil {
		return err
	}
	if err := e.state.PutBalances(key, userBal); err != nil {
		return err
	}
	return e.state.PutPosition(position)
}

// Borrow draws the amount from the pool against the account's collateral.
// The origination fee is charged on the full amount: the borrower receives
// amount minus fee, the collector receives the fee, and the full amount is
// recorded as debt. Returns the fee charged.
func (e *Engine) Borrow(account string, amount *big.Int) (fee *big.Int, err error) {
	defer func() { metrics.Risk().ObserveOperation("borrow", outcome(err)) }()
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.prices == nil {
		return nil, ErrNilPrices
	}
	if e.fees == nil {
		return nil, ErrNilFees
	}
	key := strings.TrimSpace(account)
	if key == "" {
		return nil, ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	// The fee quote is resolved up front so the collector account can be
	// locked alongside the user and pool accounts.
	feeAmount, collector := e.fees.BorrowFee(key, amount)
	collector = strings.TrimSpace(collector)

	unlock := e.locks.acquire(key, e.poolAccount, collector)
	defer unlock()

	index := e.accrueInterest()
	quote, err := e.prices.GetPrice(e.collateralAsset)
	if err != nil {
		return nil, err
	}

	position, err := e.loadPosition(key)
	if err != nil {
		return nil, err
	}
	debt := debtFromScaled(position.ScaledDebt, index)

	e.paramsMu.RLock()
	targetBps := e.params.TargetLTVBps
	e.paramsMu.RUnlock()

	projected := new(big.Int).Add(debt, amount)
	if !positionSafe(position.Collateral, projected, quote.Price, targetBps) {
		return nil, ErrLtvExceeded
	}
	if amount.Cmp(e.fees.MinBorrow()) < 0 {
		return nil, ErrBelowMinimumBorrow
	}
	if feeAmount.Sign() > 0 && collector == "" {
		return nil, ErrNoFeeCollector
	}

	poolBal, err := e.loadBalances(e.poolAccount)
	if err != nil {
		return nil, err
	}
	if poolBal.Base.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	userBal, err := e.loadBalances(key)
	if err != nil {
		return nil, err
	}
	var collectorBal *Balances
	if feeAmount.Sign() > 0 {
		collectorBal, err = e.loadBalances(collector)
		if err != nil {
			return nil, err
		}
	}

	payout := new(big.Int).Sub(amount, feeAmount)
	poolBal.Base = new(big.Int).Sub(poolBal.Base, amount)
	userBal.Base = new(big.Int).Add(userBal.Base, payout)
	if collectorBal != nil {
		collectorBal.Base = new(big.Int).Add(collectorBal.Base, feeAmount)
	}

	// The full borrowed amount becomes debt, not the net-of-fee payout.
	position.ScaledDebt = new(big.Int).Add(position.ScaledDebt, scaledFromAmount(amount, index))

	if err := e.state.PutBalances(e.poolAccount, poolBal); err != nil {
		return nil, err
	}
	if err := e.state.PutBalances(key, userBal); err != nil {
		return nil, err
	}
	if collectorBal != nil {
		if err := e.state.PutBalances(collector, collectorBal); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}

	if e.logger != nil {
		e.logger.Info("borrow",
			"account", key,
			"amount", amount.String(),
			"fee", feeAmount.String(),
		)
	}
	return feeAmount, nil
}

// Repay reduces the account's debt, capped at the amount currently owed, and
// pulls the actual repayment from the account's balance. Returns the amount
// actually applied.
func (e *Engine) Repay(account string, amount *big.Int) (repaid *big.Int, err error) {
	defer func() { metrics.Risk().ObserveOperation("repay", outcome(err)) }()
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	key := strings.TrimSpace(account)
	if key == "" {
		return nil, ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := e.locks.acquire(key, e.poolAccount)
	defer unlock()

	index := e.accrueInterest()
	position, err := e.loadPosition(key)
	if err != nil {
		return nil, err
	}
	debt := debtFromScaled(position.ScaledDebt, index)
	if debt.Sign() == 0 {
		return nil, ErrNoOutstandingDebt
	}

	actual := new(big.Int).Set(amount)
	if actual.Cmp(debt) > 0 {
		actual = new(big.Int).Set(debt)
	}

	userBal, err := e.loadBalances(key)
	if err != nil {
		return nil, err
	}
	if userBal.Base.Cmp(actual) < 0 {
		return nil, ErrInsufficientBalance
	}
	poolBal, err := e.loadBalances(e.poolAccount)
	if err != nil {
		return nil, err
	}

	userBal.Base = new(big.Int).Sub(userBal.Base, actual)
	poolBal.Base = new(big.Int).Add(poolBal.Base, actual)
	position.ScaledDebt = reduceScaledDebt(position.ScaledDebt, actual, debt, index)

	if err := e.state.PutBalances(key, userBal); err != nil {
		return nil, err
	}
	if err := e.state.PutBalances(e.poolAccount, poolBal); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	return actual, nil
}

// GetAccountData reports the account's collateral, interest-adjusted debt,
// collateral value at the snapshot price and health factor. The health
// factor is nil when the account carries no debt.
func (e *Engine) GetAccountData(account string) (AccountData, error) {
	if e == nil || e.state == nil {
		return AccountData{}, ErrNilState
	}
	if e.prices == nil {
		return AccountData{}, ErrNilPrices
	}
	key := strings.TrimSpace(account)
	if key == "" {
		return AccountData{}, ErrInvalidAccount
	}

	unlock := e.locks.acquire(key)
	defer unlock()

	index := e.accrueInterest()
	quote, err := e.prices.GetPrice(e.collateralAsset)
	if err != nil {
		return AccountData{}, err
	}
	position, err := e.loadPosition(key)
	if err != nil {
		return AccountData{}, err
	}
	debt := debtFromScaled(position.ScaledDebt, index)

	value := new(big.Int).Mul(position.Collateral, quote.Price)
	value.Quo(value, wad)

	e.paramsMu.RLock()
	liqBps := e.params.LiquidationLTVBps
	e.paramsMu.RUnlock()

	return AccountData{
		Collateral:      new(big.Int).Set(position.Collateral),
		CollateralValue: value,
		Debt:            debt,
		HealthFactor:    healthFactor(position.Collateral, debt, quote.Price, liqBps),
	}, nil
}

func (e *Engine) loadPosition(account string) (*Position, error) {
	position, err := e.state.GetPosition(account)
	if err != nil {
		return nil, err
	}
	return ensurePosition(position, account), nil
}

func (e *Engine) loadBalances(account string) (*Balances, error) {
	balances, err := e.state.GetBalances(account)
	if err != nil {
		return nil, err
	}
	return ensureBalances(balances), nil
}

// positionSafe reports whether debt stays within the LTV bound at the given
// price, cross-multiplied to avoid division:
// collateral*price*ltv >= debt*10000*WAD.
func positionSafe(collateral, debt, price *big.Int, ltvBps uint64) bool {
	if debt == nil || debt.Sign() == 0 {
		return true
	}
	if collateral == nil || collateral.Sign() == 0 || price == nil || price.Sign() <= 0 {
		return false
	}
	lhs := new(big.Int).Mul(collateral, price)
	lhs.Mul(lhs, new(big.Int).SetUint64(ltvBps))
	rhs := new(big.Int).Mul(debt, basisPoints)
	rhs.Mul(rhs, wad)
	return lhs.Cmp(rhs) >= 0
}

// healthFactor is the ratio of liquidation-safe collateral value to debt.
// Nil means no debt, conceptually infinite.
func healthFactor(collateral, debt, price *big.Int, liqBps uint64) *big.Rat {
	if debt == nil || debt.Sign() == 0 {
		return nil
	}
	num := new(big.Int).Mul(collateral, price)
	num.Mul(num, new(big.Int).SetUint64(liqBps))
	den := new(big.Int).Mul(debt, basisPoints)
	den.Mul(den, wad)
	return new(big.Rat).SetFrac(num, den)
}

// reduceScaledDebt lowers normalized principal by the repaid amount. A full
// repayment clears the principal outright so index rounding cannot strand
// dust.
func reduceScaledDebt(scaled, actual, debt, index *big.Int) *big.Int {
	if actual.Cmp(debt) == 0 {
		return big.NewInt(0)
	}
	reduction := scaledFromAmount(actual, index)
	if reduction.Cmp(scaled) > 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(scaled, reduction)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// accountLocks hands out one mutex per account. Each check-then-act sequence
// locks every account it reads or writes, user and treasury alike, so
// concurrent operations on distinct users cannot interleave on a shared
// account; disjoint account sets still proceed in parallel.
type accountLocks struct {
	mu      sync.Mutex
	entries map[string]*sync.Mutex
}

// acquire locks the given accounts in sorted order, which keeps overlapping
// holders deadlock-free, and returns a release function that unlocks in
// reverse. Empty and duplicate names are ignored.
func (l *accountLocks) acquire(accounts ...string) func() {
	keys := make([]string, 0, len(accounts))
	seen := make(map[string]struct{}, len(accounts))
	for _, account := range accounts {
		account = strings.TrimSpace(account)
		if account == "" {
			continue
		}
		if _, ok := seen[account]; ok {
			continue
		}
		seen[account] = struct{}{}
		keys = append(keys, account)
	}
	sort.Strings(keys)

	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[string]*sync.Mutex)
	}
	locks := make([]*sync.Mutex, 0, len(keys))
	for _, key := range keys {
		entry := l.entries[key]
		if entry == nil {
			entry = &sync.Mutex{}
			l.entries[key] = entry
		}
		locks = append(locks, entry)
	}
	l.mu.Unlock()

	for _, entry := range locks {
		entry.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}
