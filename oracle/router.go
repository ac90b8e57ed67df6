package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"lendcore/observability/metrics"
)

// RoleFeeder is required to push quotes into a feed. Reporters run outside
// the engine and are registered by governance.
const RoleFeeder = "ROLE_ORACLE_FEEDER"

const (
	defaultStaleness    = 120 * time.Second
	defaultDeviationBps = 150
)

var (
	ErrPriceUnavailable = errors.New("oracle: no fresh price available")
	ErrUnauthorized     = errors.New("oracle: caller missing feeder role")
	ErrInvalidPrice     = errors.New("oracle: price must be positive")
)

var basisPoints = big.NewInt(10_000)

// FeedID names one of the two independent quote sources tracked per asset.
type FeedID string

const (
	FeedPrimary  FeedID = "primary"
	FeedFallback FeedID = "fallback"
)

// PriceQuote captures a WAD-scaled price for an asset along with the
// timestamp reported by the upstream feed.
type PriceQuote struct {
	Price     *big.Int
	Timestamp time.Time
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Authority resolves role membership for privileged writes.
type Authority interface {
	Has(role, principal string) bool
}

// Router resolves a trusted price per asset from a primary and a fallback
// feed. Reads are side-effect free; each quote overwrites the previous one
// for its feed, no history is retained here.
type Router struct {
	mu           sync.RWMutex
	quotes       map[string]map[FeedID]PriceQuote
	staleness    time.Duration
	deviationBps uint64
	auth         Authority
	now          func() time.Time
}

// NewRouter constructs a router with the supplied staleness window and
// deviation threshold. Zero values fall back to the defaults (120s, 150 bps).
func NewRouter(staleness time.Duration, deviationBps uint64) *Router {
	if staleness <= 0 {
		staleness = defaultStaleness
	}
	if deviationBps == 0 {
		deviationBps = defaultDeviationBps
	}
	return &Router{
		quotes:       make(map[string]map[FeedID]PriceQuote),
		staleness:    staleness,
		deviationBps: deviationBps,
		now:          time.Now,
	}
}

// SetAuthority wires the role table consulted on privileged writes. A nil
// authority rejects every push.
func (r *Router) SetAuthority(auth Authority) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.auth = auth
	r.mu.Unlock()
}

// SetClock overrides the time source. Used by tests to pin freshness.
func (r *Router) SetClock(now func() time.Time) {
	if r == nil || now == nil {
		return
	}
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// PushPrice records a quote for the given asset and feed. Only principals
// holding the feeder role may report.
func (r *Router) PushPrice(caller, asset string, feed FeedID, price *big.Int, ts time.Time) error {
	if r == nil {
		return fmt.Errorf("oracle: router not configured")
	}
	sym := normaliseAsset(asset)
	if sym == "" {
		return fmt.Errorf("oracle: asset required")
	}
	if feed != FeedPrimary && feed != FeedFallback {
		return fmt.Errorf("oracle: unknown feed %q", feed)
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.auth == nil || !r.auth.Has(RoleFeeder, caller) {
		return ErrUnauthorized
	}
	bucket := r.quotes[sym]
	if bucket == nil {
		bucket = make(map[FeedID]PriceQuote, 2)
		r.quotes[sym] = bucket
	}
	bucket[feed] = PriceQuote{Price: new(big.Int).Set(price), Timestamp: ts}
	return nil
}

// GetPrice resolves the trusted quote for the asset.
//
// Policy: when both feeds are fresh the primary wins unless the relative
// deviation against the fallback exceeds the threshold, in which case the
// fallback is returned; a large disagreement between two independent feeds
// is treated as primary corruption. A single fresh feed wins outright and
// two stale feeds fail closed. This is a policy choice, not a proven
// manipulation-resistance guarantee.
func (r *Router) GetPrice(asset string) (PriceQuote, error) {
	if r == nil {
		return PriceQuote{}, fmt.Errorf("oracle: router not configured")
	}
	sym := normaliseAsset(asset)
	if sym == "" {
		return PriceQuote{}, fmt.Errorf("oracle: asset required")
	}
	r.mu.RLock()
	bucket := r.quotes[sym]
	primary, hasPrimary := bucket[FeedPrimary]
	fallback, hasFallback := bucket[FeedFallback]
	staleness := r.staleness
	deviationBps := r.deviationBps
	now := r.now()
	r.mu.RUnlock()

	cutoff := now.Add(-staleness)
	primaryFresh := hasPrimary && !primary.Timestamp.Before(cutoff)
	fallbackFresh := hasFallback && !fallback.Timestamp.Before(cutoff)

	switch {
	case primaryFresh && fallbackFresh:
		if exceedsDeviation(primary.Price, fallback.Price, deviationBps) {
			metrics.Oracle().ObserveFallback("deviation")
			return fallback.Clone(), nil
		}
		return primary.Clone(), nil
	case primaryFresh:
		return primary.Clone(), nil
	case fallbackFresh:
		metrics.Oracle().ObserveFallback("primary_stale")
		return fallback.Clone(), nil
	default:
		return PriceQuote{}, ErrPriceUnavailable
	}
}

// exceedsDeviation reports whether |primary-fallback|/fallback is above the
// threshold. The fallback price is the denominator: it is the trust anchor
// whenever the two feeds disagree.
func exceedsDeviation(primary, fallback *big.Int, thresholdBps uint64) bool {
	if primary == nil || fallback == nil || fallback.Sign() == 0 {
		return false
	}
	diff := new(big.Int).Sub(primary, fallback)
	diff.Abs(diff)
	lhs := diff.Mul(diff, basisPoints)
	rhs := new(big.Int).Mul(fallback, new(big.Int).SetUint64(thresholdBps))
	return lhs.Cmp(rhs) > 0
}

func normaliseAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
