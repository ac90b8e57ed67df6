package risk

import (
	"math/big"
	"strings"
	"sync"
)

// engineState is the persistence boundary for positions and asset balances.
// Implementations must return nil for unknown positions so accounts can be
// created lazily on first use; zero-balance positions persist forever.
type engineState interface {
	GetPosition(account string) (*Position, error)
	PutPosition(position *Position) error
	GetBalances(account string) (*Balances, error)
	PutBalances(account string, balances *Balances) error
}

// MemoryState is the in-process engineState used by the daemon and the test
// suites. Writes are infallible, which keeps every engine operation
// all-or-nothing: validation happens before the first Put.
type MemoryState struct {
	mu        sync.RWMutex
	positions map[string]*Position
	balances  map[string]*Balances
}

// NewMemoryState constructs an empty state store.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		positions: make(map[string]*Position),
		balances:  make(map[string]*Balances),
	}
}

// GetPosition returns a copy of the stored position, or nil when the account
// has never been seen.
func (m *MemoryState) GetPosition(account string) (*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[stateKey(account)].Clone(), nil
}

// PutPosition stores a copy of the position keyed by its account.
func (m *MemoryState) PutPosition(position *Position) error {
	if position == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[stateKey(position.Account)] = position.Clone()
	return nil
}

// GetBalances returns a copy of the account's balances, zeroed when unseen.
func (m *MemoryState) GetBalances(account string) (*Balances, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if stored, ok := m.balances[stateKey(account)]; ok {
		return stored.Clone(), nil
	}
	return &Balances{Base: big.NewInt(0), Collateral: big.NewInt(0)}, nil
}

// PutBalances stores a copy of the balances for the account.
func (m *MemoryState) PutBalances(account string, balances *Balances) error {
	if balances == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[stateKey(account)] = balances.Clone()
	return nil
}

// Credit adds funds to an account outside the engine flows. Used to seed
// treasuries and test fixtures.
func (m *MemoryState) Credit(account string, base, collateral *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stateKey(account)
	stored := m.balances[key]
	if stored == nil {
		stored = &Balances{Base: big.NewInt(0), Collateral: big.NewInt(0)}
		m.balances[key] = stored
	}
	if base != nil {
		stored.Base = new(big.Int).Add(stored.Base, base)
	}
	if collateral != nil {
		stored.Collateral = new(big.Int).Add(stored.Collateral, collateral)
	}
}

func stateKey(account string) string {
	return strings.TrimSpace(account)
}

func ensurePosition(p *Position, account string) *Position {
	if p == nil {
		p = &Position{Account: strings.TrimSpace(account)}
	}
	if p.Collateral == nil {
		p.Collateral = big.NewInt(0)
	}
	if p.ScaledDebt == nil {
		p.ScaledDebt = big.NewInt(0)
	}
	return p
}

func ensureBalances(b *Balances) *Balances {
	if b == nil {
		b = &Balances{}
	}
	if b.Base == nil {
		b.Base = big.NewInt(0)
	}
	if b.Collateral == nil {
		b.Collateral = big.NewInt(0)
	}
	return b
}
