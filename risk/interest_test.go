package risk

import (
	"math/big"
	"testing"
	"time"
)

func TestAccrualAppliesLinearFactor(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.engine.AccrueInterest(); err != nil {
		t.Fatalf("anchor accrual: %v", err)
	}

	f.clock.Advance(secondsPerYear * time.Second)
	index, err := f.engine.AccrueInterest()
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	// One year at 5% on a fresh index.
	want := big.NewInt(1_050_000_000_000_000_000)
	if index.Cmp(want) != 0 {
		t.Fatalf("expected index %s, got %s", want, index)
	}

	f.clock.Advance(secondsPerYear / 2 * time.Second)
	index, err = f.engine.AccrueInterest()
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	// Compounds on the stored index: 1.05 * 1.025.
	want = big.NewInt(1_076_250_000_000_000_000)
	if index.Cmp(want) != 0 {
		t.Fatalf("expected index %s, got %s", want, index)
	}
}

func TestAccrualIdempotentWithinSameSecond(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.AccrueInterest()
	f.clock.Advance(time.Hour)

	first, err := f.engine.AccrueInterest()
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	second, err := f.engine.AccrueInterest()
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if first.Cmp(second) != 0 {
		t.Fatalf("repeated accrual at the same instant moved the index: %s vs %s", first, second)
	}
}

func TestAccrualIgnoresBackwardClock(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.AccrueInterest()
	f.clock.Advance(time.Hour)
	before, err := f.engine.AccrueInterest()
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}

	f.clock.Advance(-30 * time.Minute)
	after, err := f.engine.AccrueInterest()
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if before.Cmp(after) != 0 {
		t.Fatalf("index moved on a backward clock: %s vs %s", before, after)
	}
}

func TestAccrualNoOpAtZeroRate(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	engine := NewEngine(poolAcct, custodyAcct, RiskParameters{
		TargetLTVBps:      6000,
		LiquidationLTVBps: 7000,
	})
	engine.SetState(NewMemoryState())
	engine.SetClock(clock.Now)

	engine.AccrueInterest()
	clock.Advance(secondsPerYear * time.Second)
	index, err := engine.AccrueInterest()
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if index.Cmp(wad) != 0 {
		t.Fatalf("expected index pinned at 1.0 with zero rate, got %s", index)
	}
}

func TestInterestIndexDoesNotAdvanceClock(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.AccrueInterest()
	f.clock.Advance(secondsPerYear * time.Second)

	if got := f.engine.InterestIndex(); got.Cmp(wad) != 0 {
		t.Fatalf("read-only accessor accrued interest: %s", got)
	}
	index, err := f.engine.AccrueInterest()
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if index.Cmp(wad) <= 0 {
		t.Fatalf("expected accrual after the read, got %s", index)
	}
}

func TestDebtGrowsWithIndex(t *testing.T) {
	f := newEngineFixture(t)
	f.mustDeposit(t, borrowerAcct, tenths(10))
	if _, err := f.engine.Borrow(borrowerAcct, tenths(10)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.clock.Advance(secondsPerYear * time.Second)
	data, err := f.engine.GetAccountData(borrowerAcct)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	want := big.NewInt(1_050_000_000_000_000_000)
	if data.Debt.Cmp(want) != 0 {
		t.Fatalf("expected accrued debt %s, got %s", want, data.Debt)
	}
	// Cover of 1.0*2.0*70% over 1.05 of debt.
	if data.HealthFactor.Cmp(big.NewRat(4, 3)) != 0 {
		t.Fatalf("expected health factor 4/3, got %s", data.HealthFactor)
	}
}

func TestScaledDebtRoundTrip(t *testing.T) {
	index := big.NewInt(1_050_000_000_000_000_000)
	amount := tenths(10)
	scaled := scaledFromAmount(amount, index)
	back := debtFromScaled(scaled, index)
	diff := new(big.Int).Sub(back, amount)
	if diff.CmpAbs(big.NewInt(1)) > 0 {
		t.Fatalf("round trip drifted by %s", diff)
	}
}

func TestScaledFromAmountNeverZero(t *testing.T) {
	index := new(big.Int).Mul(wad, big.NewInt(1_000_000))
	if got := scaledFromAmount(big.NewInt(1), index); got.Sign() == 0 {
		t.Fatalf("positive amount normalized to zero")
	}
}
