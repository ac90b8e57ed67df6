package vault

import (
	"errors"
	"math/big"
	"strings"
	"sync"
)

var (
	ErrInvalidAccount    = errors.New("rewards vault: account required")
	ErrInvalidAmount     = errors.New("rewards vault: amount must be positive")
	ErrInsufficientShare = errors.New("rewards vault: share balance too low")
	ErrNoAssets          = errors.New("rewards vault: vault holds no assets")
)

var wad = big.NewInt(1_000_000_000_000_000_000)

// Vault is a share-based staking vault. Shares are minted and burned against
// a single global rewards index; compounding raises the index so every
// staker's redeemable value grows proportionally without touching individual
// share balances.
type Vault struct {
	mu          sync.Mutex
	totalShares *big.Int
	totalAssets *big.Int
	index       *big.Int
	shares      map[string]*big.Int
}

// NewVault constructs an empty vault with the rewards index at 1.0 WAD.
func NewVault() *Vault {
	return &Vault{
		totalShares: big.NewInt(0),
		totalAssets: big.NewInt(0),
		index:       new(big.Int).Set(wad),
		shares:      make(map[string]*big.Int),
	}
}

// Deposit stakes the amount and mints shares at the current index. The
// minted share quantity is returned.
func (v *Vault) Deposit(account string, amount *big.Int) (*big.Int, error) {
	key := strings.TrimSpace(account)
	if key == "" {
		return nil, ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	minted := new(big.Int).Mul(amount, wad)
	minted.Quo(minted, v.index)
	if minted.Sign() == 0 {
		minted = big.NewInt(1)
	}

	holding := v.shares[key]
	if holding == nil {
		holding = big.NewInt(0)
	}
	v.shares[key] = new(big.Int).Add(holding, minted)
	v.totalShares = new(big.Int).Add(v.totalShares, minted)
	v.totalAssets = new(big.Int).Add(v.totalAssets, amount)
	return minted, nil
}

// Withdraw burns the share quantity and returns the underlying amount at
// the current index, capped at the vault's assets.
func (v *Vault) Withdraw(account string, shareAmount *big.Int) (*big.Int, error) {
	key := strings.TrimSpace(account)
	if key == "" {
		return nil, ErrInvalidAccount
	}
	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	holding := v.shares[key]
	if holding == nil || holding.Cmp(shareAmount) < 0 {
		return nil, ErrInsufficientShare
	}

	amount := new(big.Int).Mul(shareAmount, v.index)
	amount.Quo(amount, wad)
	if amount.Cmp(v.totalAssets) > 0 {
		amount = new(big.Int).Set(v.totalAssets)
	}

	v.shares[key] = new(big.Int).Sub(holding, shareAmount)
	v.totalShares = new(big.Int).Sub(v.totalShares, shareAmount)
	v.totalAssets = new(big.Int).Sub(v.totalAssets, amount)
	return amount, nil
}

// Compound folds newly accrued rewards into the vault. The rewards index
// strictly increases whenever assets and reward are both positive.
func (v *Vault) Compound(reward *big.Int) error {
	if reward == nil || reward.Sign() <= 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.totalAssets.Sign() == 0 {
		return ErrNoAssets
	}

	grown := new(big.Int).Add(v.totalAssets, reward)
	next := new(big.Int).Mul(v.index, grown)
	next.Quo(next, v.totalAssets)
	if next.Cmp(v.index) <= 0 {
		// Rounding must not turn a positive reward into a no-op.
		next = new(big.Int).Add(v.index, big.NewInt(1))
	}
	v.index = next
	v.totalAssets = grown
	return nil
}

// Balance returns the account's redeemable value at the current index.
func (v *Vault) Balance(account string) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	holding := v.shares[strings.TrimSpace(account)]
	if holding == nil || holding.Sign() == 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(holding, v.index)
	return value.Quo(value, wad)
}

// Shares returns the account's raw share balance.
func (v *Vault) Shares(account string) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	holding := v.shares[strings.TrimSpace(account)]
	if holding == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(holding)
}

// TotalAssets returns the vault's current asset total.
func (v *Vault) TotalAssets() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalAssets)
}

// RewardsIndex returns the current WAD-scaled rewards index.
func (v *Vault) RewardsIndex() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.index)
}
