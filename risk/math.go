package risk

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	wad         = big.NewInt(1_000_000_000_000_000_000) // 1e18 fixed point
	halfWad     = new(big.Int).Rsh(big.NewInt(1_000_000_000_000_000_000), 1)
)

const secondsPerYear = 31_536_000

func wadMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfWad)
	product.Quo(product, wad)
	return product
}

// scaledFromAmount converts a raw debt amount into normalized principal at
// the given index. A positive amount never normalizes to zero.
func scaledFromAmount(amount, index *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, wad)
	scaled.Add(scaled, halfUp(index))
	scaled.Quo(scaled, index)
	if scaled.Sign() == 0 {
		return big.NewInt(1)
	}
	return scaled
}

// debtFromScaled converts normalized principal back into the owed amount at
// the given index.
func debtFromScaled(scaled, index *big.Int) *big.Int {
	if scaled == nil || scaled.Sign() == 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	actual := new(big.Int).Mul(scaled, index)
	actual.Add(actual, halfWad)
	actual.Quo(actual, wad)
	return actual
}

// rateFactor computes the WAD growth factor 1 + rate * elapsed/secondsPerYear
// for an annual rate expressed in basis points. The factor is never below WAD
// so the index cannot shrink.
func rateFactor(rateBps uint64, elapsed int64) *big.Int {
	if rateBps == 0 || elapsed <= 0 {
		return new(big.Int).Set(wad)
	}
	perSecond := new(big.Rat).SetFrac(new(big.Int).SetUint64(rateBps), basisPoints)
	perSecond.Mul(perSecond, big.NewRat(elapsed, secondsPerYear))
	factor := new(big.Rat).Add(big.NewRat(1, 1), perSecond)
	return ratToWad(factor)
}

func ratToWad(r *big.Rat) *big.Int {
	if r == nil {
		return new(big.Int).Set(wad)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(wad))
	num := scaled.Num()
	den := scaled.Denom()
	if den.Sign() == 0 {
		return new(big.Int).Set(wad)
	}
	result := new(big.Int).Quo(new(big.Int).Add(num, halfUp(den)), den)
	if result.Cmp(wad) < 0 {
		return new(big.Int).Set(wad)
	}
	return result
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	half.Rsh(half, 1)
	return half
}
