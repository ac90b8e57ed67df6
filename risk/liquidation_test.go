package risk

import (
	"errors"
	"math/big"
	"testing"
)

// newLiquidationFixture extends the engine fixture with a keeper-authorized
// liquidation engine holding the seize grant and an underwater borrower:
// 1.0 collateral pledged, 1.2 borrowed at a 2.0 price.
func newLiquidationFixture(t *testing.T) (*engineFixture, *LiquidationEngine) {
	t.Helper()
	f := newEngineFixture(t)
	roles := NewRoleSet()
	roles.Grant(RoleRiskAdmin, governorAcct)
	roles.Grant(RoleKeeper, keeperAcct)
	f.engine.SetRoles(roles)

	le := NewLiquidationEngine(f.engine)
	if err := f.engine.GrantSeize(governorAcct, le); err != nil {
		t.Fatalf("grant seize: %v", err)
	}

	f.mustDeposit(t, borrowerAcct, tenths(10))
	if _, err := f.engine.Borrow(borrowerAcct, tenths(12)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.state.Credit(keeperAcct, tenths(20), nil)
	return f, le
}

func (f *engineFixture) setPrice(whole, tenthsPart int64) {
	price := new(big.Int).Mul(big.NewInt(whole*10+tenthsPart), wad)
	f.prices.price = price.Quo(price, big.NewInt(10))
}

func TestLiquidateRejectsHealthyPosition(t *testing.T) {
	_, le := newLiquidationFixture(t)
	// At 2.0 the position sits below the 70% liquidation LTV.
	if _, err := le.Liquidate(keeperAcct, borrowerAcct, tenths(6)); !errors.Is(err, ErrHealthyPosition) {
		t.Fatalf("expected ErrHealthyPosition, got %v", err)
	}
}

func TestLiquidateRejectsDebtFreeAccount(t *testing.T) {
	_, le := newLiquidationFixture(t)
	if _, err := le.Liquidate(keeperAcct, "stranger", tenths(6)); !errors.Is(err, ErrHealthyPosition) {
		t.Fatalf("expected ErrHealthyPosition, got %v", err)
	}
}

func TestLiquidateRequiresKeeperRole(t *testing.T) {
	f, le := newLiquidationFixture(t)
	f.setPrice(1, 5)
	if _, err := le.Liquidate("intruder", borrowerAcct, tenths(6)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLiquidateRequiresSeizeGrant(t *testing.T) {
	f, le := newLiquidationFixture(t)
	f.setPrice(1, 5)
	if err := f.engine.RevokeSeize(governorAcct, le); err != nil {
		t.Fatalf("revoke seize: %v", err)
	}
	if _, err := le.Liquidate(keeperAcct, borrowerAcct, tenths(6)); !errors.Is(err, ErrSeizeNotGranted) {
		t.Fatalf("expected ErrSeizeNotGranted, got %v", err)
	}
}

func TestGrantSeizeRequiresRiskAdmin(t *testing.T) {
	f, le := newLiquidationFixture(t)
	if err := f.engine.GrantSeize("intruder", le); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.RevokeSeize("intruder", le); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLiquidatePartialRepayment(t *testing.T) {
	f, le := newLiquidationFixture(t)
	// At 1.5 the cover is 1.0*1.5*70% = 1.05 against 1.2 of debt.
	f.setPrice(1, 5)

	result, err := le.Liquidate(keeperAcct, borrowerAcct, tenths(6))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Repaid.Cmp(tenths(6)) != 0 {
		t.Fatalf("expected repaid 0.6, got %s", result.Repaid)
	}
	// 0.6 * 1.05 bonus / 1.5 price = 0.42 of collateral.
	wantSeized := big.NewInt(420_000_000_000_000_000)
	if result.Seized.Cmp(wantSeized) != 0 {
		t.Fatalf("expected seized %s, got %s", wantSeized, result.Seized)
	}

	position := f.position(t, borrowerAcct)
	if got := new(big.Int).Sub(tenths(10), wantSeized); position.Collateral.Cmp(got) != 0 {
		t.Fatalf("expected remaining collateral %s, got %s", got, position.Collateral)
	}
	data, err := f.engine.GetAccountData(borrowerAcct)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	if data.Debt.Cmp(tenths(6)) != 0 {
		t.Fatalf("expected remaining debt 0.6, got %s", data.Debt)
	}

	keeperBal := f.balances(t, keeperAcct)
	if keeperBal.Base.Cmp(tenths(14)) != 0 {
		t.Fatalf("expected keeper base drained to 1.4, got %s", keeperBal.Base)
	}
	if keeperBal.Collateral.Cmp(wantSeized) != 0 {
		t.Fatalf("expected keeper credited %s collateral, got %s", wantSeized, keeperBal.Collateral)
	}
}

func TestLiquidateRepayCappedAtDebt(t *testing.T) {
	f, le := newLiquidationFixture(t)
	f.setPrice(1, 5)

	result, err := le.Liquidate(keeperAcct, borrowerAcct, tenths(50))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Repaid.Cmp(tenths(12)) != 0 {
		t.Fatalf("expected repaid capped at 1.2, got %s", result.Repaid)
	}
	if got := f.position(t, borrowerAcct).ScaledDebt; got.Sign() != 0 {
		t.Fatalf("expected debt cleared, got %s", got)
	}
}

func TestLiquidateCapsSeizureAtCollateral(t *testing.T) {
	f, le := newLiquidationFixture(t)
	// A crash to 0.5 makes the grossed-up claim exceed the pledge.
	f.setPrice(0, 5)

	result, err := le.Liquidate(keeperAcct, borrowerAcct, tenths(12))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Seized.Cmp(tenths(10)) != 0 {
		t.Fatalf("expected seizure capped at 1.0, got %s", result.Seized)
	}
	if got := f.position(t, borrowerAcct).Collateral; got.Sign() != 0 {
		t.Fatalf("expected collateral exhausted, got %s", got)
	}
}

func TestLiquidateNothingLeftToSeize(t *testing.T) {
	f, le := newLiquidationFixture(t)
	f.setPrice(0, 5)

	// First pass takes every unit of collateral but leaves debt behind.
	if _, err := le.Liquidate(keeperAcct, borrowerAcct, tenths(6)); err != nil {
		t.Fatalf("first liquidation: %v", err)
	}
	if _, err := le.Liquidate(keeperAcct, borrowerAcct, tenths(6)); !errors.Is(err, ErrNoCollateral) {
		t.Fatalf("expected ErrNoCollateral, got %v", err)
	}
}

func TestLiquidateRequiresLiquidatorFunds(t *testing.T) {
	f, le := newLiquidationFixture(t)
	f.setPrice(1, 5)
	roles := NewRoleSet()
	roles.Grant(RoleKeeper, "pauper")
	roles.Grant(RoleRiskAdmin, governorAcct)
	f.engine.SetRoles(roles)

	if _, err := le.Liquidate("pauper", borrowerAcct, tenths(6)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestSeizeQuantity(t *testing.T) {
	price := new(big.Int).Mul(big.NewInt(2), wad)
	// 1.0 repaid at 2.0 with a 5% bonus claims 0.525 of collateral.
	got := seizeQuantity(tenths(10), price, 500)
	want := big.NewInt(525_000_000_000_000_000)
	if got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if seizeQuantity(nil, price, 500).Sign() != 0 {
		t.Fatalf("expected zero for nil repaid")
	}
	if seizeQuantity(tenths(10), big.NewInt(0), 500).Sign() != 0 {
		t.Fatalf("expected zero for zero price")
	}
}
