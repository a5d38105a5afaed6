package strategy

import (
	"math"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	divPrecision  = 24
	sqrtPrecision = 32
	sqrtMaxSteps  = 64
)

var (
	two  = decimal.NewFromInt(2)
	four = decimal.NewFromInt(4)
)

// ComputeQuantity returns the trade size d that keeps the product of the
// two inventories at k when trading at price p:
//
//	sell: (x - d)(y + d*p) = k
//	buy:  (x + d)(y - d*p) = k
//
// x is the base inventory and y the quote inventory. The smallest positive
// root is returned; ok is false when there is none.
func ComputeQuantity(x, y, k, p decimal.Decimal, side domain.Side) (decimal.Decimal, bool) {
	if !p.IsPositive() {
		return decimal.Zero, false
	}
	// Both equations reduce to p*d^2 -/+ b*d - c = 0.
	b := y.Sub(x.Mul(p))
	c := x.Mul(y).Sub(k)
	root, ok := sqrt(b.Mul(b).Add(four.Mul(p).Mul(c)))
	if !ok {
		return decimal.Zero, false
	}
	if side == domain.SideSell {
		b = b.Neg()
	}
	den := two.Mul(p)
	lo := b.Sub(root).DivRound(den, divPrecision)
	hi := b.Add(root).DivRound(den, divPrecision)
	switch {
	case lo.IsPositive():
		return lo, true
	case hi.IsPositive():
		return hi, true
	}
	return decimal.Zero, false
}

// sqrt is Newton's method seeded from float64.
func sqrt(v decimal.Decimal) (decimal.Decimal, bool) {
	switch {
	case v.IsNegative():
		return decimal.Zero, false
	case v.IsZero():
		return decimal.Zero, true
	}
	var guess decimal.Decimal
	if f := math.Sqrt(v.InexactFloat64()); f > 0 && !math.IsInf(f, 0) {
		guess = decimal.NewFromFloat(f)
	} else {
		digits := int32(len(v.Coefficient().String())) + v.Exponent()
		guess = decimal.New(1, digits/2)
	}
	for i := 0; i < sqrtMaxSteps; i++ {
		next := guess.Add(v.DivRound(guess, sqrtPrecision)).DivRound(two, sqrtPrecision)
		if next.Equal(guess) {
			break
		}
		guess = next
	}
	return guess, true
}

// floorTo rounds v down to places decimal places; places may be negative.
func floorTo(v decimal.Decimal, places int32) decimal.Decimal {
	return v.Shift(places).Floor().Shift(-places)
}

// ceilTo rounds v up to places decimal places; places may be negative.
func ceilTo(v decimal.Decimal, places int32) decimal.Decimal {
	return v.Shift(places).Ceil().Shift(-places)
}
