package risk

import (
	"math/big"

	"lendcore/observability/metrics"
)

// accrueInterest folds the elapsed time into the global borrow index using
// the linear factor 1 + baseRate * elapsed/secondsPerYear and returns a copy
// of the resulting index. Concurrent calls are serialized on the interest
// mutex and elapsed time is applied exactly once; a second call within the
// same second is a no-op. The index never decreases.
func (e *Engine) accrueInterest() *big.Int {
	e.interestMu.Lock()
	defer e.interestMu.Unlock()

	if e.interest.Index == nil || e.interest.Index.Sign() == 0 {
		e.interest.Index = new(big.Int).Set(wad)
	}

	now := e.clock().Unix()
	if e.interest.LastAccrual == 0 {
		// First accrual anchors the clock without applying growth.
		e.interest.LastAccrual = now
		return new(big.Int).Set(e.interest.Index)
	}

	elapsed := now - e.interest.LastAccrual
	if elapsed <= 0 {
		return new(big.Int).Set(e.interest.Index)
	}

	e.paramsMu.RLock()
	rateBps := e.params.BaseRateBps
	e.paramsMu.RUnlock()

	factor := rateFactor(rateBps, elapsed)
	next := wadMul(e.interest.Index, factor)
	if next.Cmp(e.interest.Index) > 0 {
		e.interest.Index = next
	}
	e.interest.LastAccrual = now

	metrics.Risk().SetInterestIndex(e.interest.Index)
	return new(big.Int).Set(e.interest.Index)
}

// AccrueInterest folds elapsed time into the global borrow index and returns
// the updated index. Exposed so the keeper can force accrual between
// operations; every debt-mutating operation performs it implicitly.
func (e *Engine) AccrueInterest() (*big.Int, error) {
	if e == nil {
		return nil, ErrNilState
	}
	return e.accrueInterest(), nil
}

// InterestIndex returns the current WAD-scaled borrow index without
// advancing the accrual clock.
func (e *Engine) InterestIndex() *big.Int {
	if e == nil {
		return nil
	}
	e.interestMu.Lock()
	defer e.interestMu.Unlock()
	if e.interest.Index == nil || e.interest.Index.Sign() == 0 {
		return new(big.Int).Set(wad)
	}
	return new(big.Int).Set(e.interest.Index)
}
