package fees

import (
	"errors"
	"math/big"
	"strings"
	"sync"
)

// RoleRiskAdmin gates every schedule mutator.
const RoleRiskAdmin = "ROLE_RISK_ADMIN"

var (
	ErrUnauthorized   = errors.New("fee schedule: caller missing risk role")
	ErrInvalidAmount  = errors.New("fee schedule: amount must be non-negative")
	ErrEmptyCollector = errors.New("fee schedule: collector account required")
	ErrEmptyAccount   = errors.New("fee schedule: account required")
	ErrNilAuthority   = errors.New("fee schedule: authority not configured")
)

var basisPoints = big.NewInt(10_000)

// Authority resolves role membership for privileged writes.
type Authority interface {
	Has(role, principal string) bool
}

// Config seeds a schedule with its initial fee parameters.
type Config struct {
	OriginationFeeBps uint64
	ExchangeFeeBps    uint64
	ProDiscountBps    uint64
	MinBorrow         *big.Int
	Collector         string
}

// Schedule computes origination fees with per-account pro discounts and
// exposes the minimum borrow floor enforced by the debt ledger.
type Schedule struct {
	mu                sync.RWMutex
	auth              Authority
	originationFeeBps uint64
	exchangeFeeBps    uint64
	proDiscountBps    uint64
	minBorrow         *big.Int
	collector         string
	pro               map[string]bool
}

// NewSchedule constructs a schedule from the supplied configuration. Basis
// point values are clamped to [0, 10000].
func NewSchedule(cfg Config) *Schedule {
	s := &Schedule{
		originationFeeBps: clampBps(cfg.OriginationFeeBps),
		exchangeFeeBps:    clampBps(cfg.ExchangeFeeBps),
		proDiscountBps:    clampBps(cfg.ProDiscountBps),
		minBorrow:         big.NewInt(0),
		collector:         strings.TrimSpace(cfg.Collector),
		pro:               make(map[string]bool),
	}
	if cfg.MinBorrow != nil && cfg.MinBorrow.Sign() > 0 {
		s.minBorrow = new(big.Int).Set(cfg.MinBorrow)
	}
	return s
}

// SetAuthority wires the role table consulted on mutators. A nil authority
// rejects every mutation.
func (s *Schedule) SetAuthority(auth Authority) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.auth = auth
	s.mu.Unlock()
}

// BorrowFee returns the origination fee charged on the amount together with
// the collector account the fee is routed to. The pro discount is subtracted
// from the origination rate, floored at zero.
func (s *Schedule) BorrowFee(account string, amount *big.Int) (*big.Int, string) {
	if s == nil || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	effective := s.originationFeeBps
	if s.pro[strings.TrimSpace(account)] {
		if s.proDiscountBps >= effective {
			effective = 0
		} else {
			effective -= s.proDiscountBps
		}
	}
	fee := new(big.Int)
	if effective > 0 {
		fee.Mul(amount, new(big.Int).SetUint64(effective))
		fee.Quo(fee, basisPoints)
	}
	return fee, s.collector
}

// MinBorrow returns the minimum borrow floor.
func (s *Schedule) MinBorrow() *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.minBorrow)
}

// Collector returns the configured fee collector account.
func (s *Schedule) Collector() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collector
}

// IsPro reports whether the account carries the pro discount flag.
func (s *Schedule) IsPro(account string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pro[strings.TrimSpace(account)]
}

// SetFees replaces the origination, exchange and pro discount rates. The
// exchange rate is carried for swap-side pricing and is not read on the
// borrow path.
func (s *Schedule) SetFees(caller string, originationBps, exchangeBps, discountBps uint64) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	s.mu.Lock()
	s.originationFeeBps = clampBps(originationBps)
	s.exchangeFeeBps = clampBps(exchangeBps)
	s.proDiscountBps = clampBps(discountBps)
	s.mu.Unlock()
	return nil
}

// SetMinBorrow replaces the minimum borrow floor.
func (s *Schedule) SetMinBorrow(caller string, amount *big.Int) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	s.minBorrow = new(big.Int).Set(amount)
	s.mu.Unlock()
	return nil
}

// SetCollector replaces the fee collector account.
func (s *Schedule) SetCollector(caller, collector string) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	trimmed := strings.TrimSpace(collector)
	if trimmed == "" {
		return ErrEmptyCollector
	}
	s.mu.Lock()
	s.collector = trimmed
	s.mu.Unlock()
	return nil
}

// SetPro flags or unflags an account for the pro discount.
func (s *Schedule) SetPro(caller, account string, pro bool) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	trimmed := strings.TrimSpace(account)
	if trimmed == "" {
		return ErrEmptyAccount
	}
	s.mu.Lock()
	if pro {
		s.pro[trimmed] = true
	} else {
		delete(s.pro, trimmed)
	}
	s.mu.Unlock()
	return nil
}

func (s *Schedule) authorize(caller string) error {
	if s == nil {
		return ErrNilAuthority
	}
	s.mu.RLock()
	auth := s.auth
	s.mu.RUnlock()
	if auth == nil {
		return ErrNilAuthority
	}
	if !auth.Has(RoleRiskAdmin, caller) {
		return ErrUnauthorized
	}
	return nil
}

func clampBps(bps uint64) uint64 {
	if bps > 10_000 {
		return 10_000
	}
	return bps
}
