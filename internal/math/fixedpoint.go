package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	PriceConfig      = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // liability units per whole collateral unit
	CollateralConfig = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000} // satoshi-like
	LiabilityConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Truncate toward zero (ledger default)
	RoundHalfEven
)

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding.
// ok is false when denominator is zero or the quotient overflows int64.
func DivideInt128(numerator, denominator *big.Int, roundingMode RoundingMode) (int64, bool) {
	if denominator.Sign() == 0 {
		return 0, false
	}

	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	quotient.QuoRem(numerator, denominator, remainder)

	if roundingMode == RoundHalfEven && remainder.Sign() != 0 {
		// Banker's rounding on |remainder| * 2 vs |denominator|
		twice := getInt128()
		defer putInt128(twice)
		twice.Abs(remainder)
		twice.Lsh(twice, 1)

		absDen := getInt128()
		defer putInt128(absDen)
		absDen.Abs(denominator)

		cmp := twice.Cmp(absDen)
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			if numerator.Sign()*denominator.Sign() < 0 {
				quotient.Sub(quotient, big.NewInt(1))
			} else {
				quotient.Add(quotient, big.NewInt(1))
			}
		}
	}

	if !quotient.IsInt64() {
		return 0, false
	}
	return quotient.Int64(), true
}

// ScaledQuotient computes (Π num) / (Π den), truncated toward zero, with
// every intermediate held in a big.Int. ok is false on a zero divisor or
// when the result does not fit in int64.
func ScaledQuotient(num []int64, den []int64) (int64, bool) {
	numerator := product(num)
	denominator := product(den)
	defer putInt128(numerator)
	defer putInt128(denominator)

	return DivideInt128(numerator, denominator, RoundDown)
}

// MulDiv returns a * b / denominator truncated toward zero.
func MulDiv(a, b, denominator int64) (int64, bool) {
	return ScaledQuotient([]int64{a, b}, []int64{denominator})
}

// SqrtProduct returns floor(sqrt(a * b)) for non-negative a and b.
func SqrtProduct(a, b int64) int64 {
	p := MultiplyInt128(a, b)
	defer putInt128(p)

	root := getInt128()
	defer putInt128(root)
	root.Sqrt(p)

	return root.Int64()
}

// MulSqrtDiv returns floor(a * floor(sqrt(x * y)) / denominator).
func MulSqrtDiv(a, x, y, denominator int64) (int64, bool) {
	return MulDiv(a, SqrtProduct(x, y), denominator)
}

// AddChecked returns a + b, ok is false on int64 overflow.
func AddChecked(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func product(factors []int64) *big.Int {
	result := getInt128()
	result.SetInt64(1)
	for _, f := range factors {
		result.Mul(result, big.NewInt(f))
	}
	return result
}
