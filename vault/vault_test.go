package vault

import (
	"errors"
	"math/big"
	"testing"
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

func TestDepositMintsSharesAtIndex(t *testing.T) {
	v := NewVault()
	minted, err := v.Deposit("alice", units(100))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if minted.Cmp(units(100)) != 0 {
		t.Fatalf("expected 100 shares at unit index, got %s", minted)
	}

	if err := v.Compound(units(10)); err != nil {
		t.Fatalf("compound: %v", err)
	}
	// The index moved to 1.1, so the same value mints fewer shares.
	minted, err = v.Deposit("bob", units(110))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if minted.Cmp(units(100)) != 0 {
		t.Fatalf("expected 100 shares at 1.1 index, got %s", minted)
	}
	if v.Balance("alice").Cmp(units(110)) != 0 {
		t.Fatalf("expected alice's value grown to 110, got %s", v.Balance("alice"))
	}
	if v.Balance("bob").Cmp(units(110)) != 0 {
		t.Fatalf("expected bob's value at 110, got %s", v.Balance("bob"))
	}
}

func TestWithdrawBurnsShares(t *testing.T) {
	v := NewVault()
	if _, err := v.Deposit("alice", units(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := v.Compound(units(10)); err != nil {
		t.Fatalf("compound: %v", err)
	}

	amount, err := v.Withdraw("alice", units(50))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(units(55)) != 0 {
		t.Fatalf("expected 55 back for 50 shares at 1.1, got %s", amount)
	}
	if v.Shares("alice").Cmp(units(50)) != 0 {
		t.Fatalf("expected 50 shares left, got %s", v.Shares("alice"))
	}
	if v.TotalAssets().Cmp(units(55)) != 0 {
		t.Fatalf("expected 55 assets left, got %s", v.TotalAssets())
	}
}

func TestWithdrawRejectsOverdraw(t *testing.T) {
	v := NewVault()
	if _, err := v.Deposit("alice", units(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := v.Withdraw("alice", units(11)); !errors.Is(err, ErrInsufficientShare) {
		t.Fatalf("expected ErrInsufficientShare, got %v", err)
	}
	if _, err := v.Withdraw("bob", units(1)); !errors.Is(err, ErrInsufficientShare) {
		t.Fatalf("expected ErrInsufficientShare for unknown account, got %v", err)
	}
}

func TestDepositValidation(t *testing.T) {
	v := NewVault()
	if _, err := v.Deposit("  ", units(1)); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
	if _, err := v.Deposit("alice", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := v.Deposit("alice", nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
}

func TestCompoundStrictlyIncreasesIndex(t *testing.T) {
	v := NewVault()
	if _, err := v.Deposit("alice", units(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	before := v.RewardsIndex()
	// A one-wei reward rounds to nothing in the quotient; the index must
	// still move.
	if err := v.Compound(big.NewInt(1)); err != nil {
		t.Fatalf("compound: %v", err)
	}
	if v.RewardsIndex().Cmp(before) <= 0 {
		t.Fatalf("index did not increase: %s -> %s", before, v.RewardsIndex())
	}
}

func TestCompoundRequiresAssets(t *testing.T) {
	v := NewVault()
	if err := v.Compound(units(1)); !errors.Is(err, ErrNoAssets) {
		t.Fatalf("expected ErrNoAssets, got %v", err)
	}
	if err := v.Compound(big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestShareValueSurvivesUnrelatedFlows(t *testing.T) {
	v := NewVault()
	if _, err := v.Deposit("alice", units(100)); err != nil {
		t.Fatalf("deposit alice: %v", err)
	}
	if _, err := v.Deposit("bob", units(300)); err != nil {
		t.Fatalf("deposit bob: %v", err)
	}
	if err := v.Compound(units(40)); err != nil {
		t.Fatalf("compound: %v", err)
	}

	// Rewards split pro rata: alice holds a quarter of the shares.
	if v.Balance("alice").Cmp(units(110)) != 0 {
		t.Fatalf("expected alice at 110, got %s", v.Balance("alice"))
	}
	if v.Balance("bob").Cmp(units(330)) != 0 {
		t.Fatalf("expected bob at 330, got %s", v.Balance("bob"))
	}
}
