package math_test

import (
	fpmath "VaultLedger/internal/math"
	"math/big"
	"testing"
)

func TestSqrtProduct_Exact(t *testing.T) {
	// 50,000,000 * 2,500,000,000 = 1.25e17, floor(sqrt) = 353553390
	got := fpmath.SqrtProduct(50_000_000, 2_500_000_000)
	if got != 353_553_390 {
		t.Errorf("got %d, want 353553390", got)
	}

	if fpmath.SqrtProduct(9, 16) != 12 {
		t.Errorf("sqrt(144): got %d, want 12", fpmath.SqrtProduct(9, 16))
	}
	if fpmath.SqrtProduct(0, 16) != 0 {
		t.Errorf("sqrt(0): got %d, want 0", fpmath.SqrtProduct(0, 16))
	}
}

func TestMulDiv_NoOverflow(t *testing.T) {
	// a*b overflows int64 but the quotient fits
	got, ok := fpmath.MulDiv(4_000_000_000_000, 5_000_000_000_000, 10_000_000_000_000)
	if !ok {
		t.Fatal("expected ok")
	}
	if got != 2_000_000_000_000 {
		t.Errorf("got %d, want 2_000_000_000_000", got)
	}
}

func TestMulDiv_Truncates(t *testing.T) {
	got, ok := fpmath.MulDiv(10, 1, 3)
	if !ok || got != 3 {
		t.Errorf("got %d (ok=%v), want 3", got, ok)
	}
}

func TestMulDiv_ZeroDivisor(t *testing.T) {
	if _, ok := fpmath.MulDiv(1, 1, 0); ok {
		t.Error("expected !ok for zero divisor")
	}
}

func TestScaledQuotient_ResultOverflow(t *testing.T) {
	if _, ok := fpmath.ScaledQuotient([]int64{1 << 62, 4}, []int64{1}); ok {
		t.Error("expected !ok when quotient exceeds int64")
	}
}

func TestDivideInt128_RoundHalfEven(t *testing.T) {
	cases := []struct {
		num, den int64
		want     int64
	}{
		{5, 2, 2},   // 2.5 -> 2
		{7, 2, 4},   // 3.5 -> 4
		{7, 3, 2},   // 2.33 -> 2
		{8, 3, 3},   // 2.67 -> 3
		{-7, 2, -4}, // -3.5 -> -4
	}

	for _, tc := range cases {
		got, ok := fpmath.DivideInt128(big.NewInt(tc.num), big.NewInt(tc.den), fpmath.RoundHalfEven)
		if !ok || got != tc.want {
			t.Errorf("%d/%d: got %d (ok=%v), want %d", tc.num, tc.den, got, ok, tc.want)
		}
	}
}

func TestAddChecked(t *testing.T) {
	if _, ok := fpmath.AddChecked(1<<62, 1<<62); ok {
		t.Error("expected overflow")
	}
	if v, ok := fpmath.AddChecked(2, 3); !ok || v != 5 {
		t.Errorf("got %d (ok=%v), want 5", v, ok)
	}
}
