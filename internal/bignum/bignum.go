// Package bignum provides the fixed-precision arithmetic the shard
// hash space requires. Kinesis-style hash ranges run up to 2^128-1,
// well past a native uint64, so every boundary computation here goes
// through math/big rather than float64.
package bignum

import "math/big"

// Space describes the hash space a stream's shards partition:
// [0, Max] inclusive, so the space has Max+1 distinct values.
type Space struct {
	Max *big.Int
}

// NewSpace builds a Space from its inclusive upper bound.
func NewSpace(max *big.Int) Space {
	return Space{Max: new(big.Int).Set(max)}
}

// Width returns Max+1, the total number of hash values in the space.
func (s Space) Width() *big.Int {
	return new(big.Int).Add(s.Max, big.NewInt(1))
}

// IdealBoundaries returns the N+1 boundaries b_0..b_N of an N-way equal
// partition of the space, where b_k = floor(k * Width / N). b_0 is
// always 0 and b_N is always Width (one past Max).
func IdealBoundaries(space Space, n int) []*big.Int {
	width := space.Width()
	bounds := make([]*big.Int, n+1)
	for k := 0; k <= n; k++ {
		b := new(big.Int).Mul(width, big.NewInt(int64(k)))
		b.Div(b, big.NewInt(int64(n)))
		bounds[k] = b
	}
	return bounds
}

// PctScale is the fixed-point scale used to compare fractional
// coverage without float drift, per spec section 9: at least 10
// decimal digits of precision.
var PctScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)

// ScaledFraction returns num/den scaled by PctScale, rounded down,
// e.g. ScaledFraction(1,3) ~= PctScale/3.
func ScaledFraction(num, den *big.Int) *big.Int {
	scaled := new(big.Int).Mul(num, PctScale)
	return scaled.Div(scaled, den)
}

// WithinTolerance reports whether two PctScale-scaled fractions differ
// by no more than tolerance (also PctScale-scaled).
func WithinTolerance(a, b, tolerance *big.Int) bool {
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	return diff.Cmp(tolerance) <= 0
}

// Tolerance10e9 is the balance-predicate tolerance from spec section 4.C,
// expressed in PctScale units (PctScale corresponds to 1.0, so
// 1e-9 of PctScale is PctScale / 1e9).
var Tolerance10e9 = new(big.Int).Div(PctScale, big.NewInt(1_000_000_000))
