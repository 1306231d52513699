package errs_test

import (
	"VaultLedger/internal/errs"
	"errors"
	"fmt"
	"testing"
)

func TestError_UnwrapsToKind(t *testing.T) {
	err := errs.New(errs.ErrBelowMinimum, "deposit_collateral", "amount %d < %d", 5, 10)

	if !errors.Is(err, errs.ErrBelowMinimum) {
		t.Fatalf("expected errors.Is(err, ErrBelowMinimum), got %v", err)
	}
	if errors.Is(err, errs.ErrInvalidAmount) {
		t.Error("error should not match an unrelated kind")
	}

	want := "deposit_collateral: below minimum: amount 5 < 10"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestCodeAndName(t *testing.T) {
	cases := []struct {
		err  error
		code uint32
		name string
	}{
		{errs.New(errs.ErrNotAuthorized, "update_price", "caller"), 100, "NotAuthorized"},
		{errs.New(errs.ErrInsufficientBalance, "transfer", "short"), 101, "InsufficientBalance"},
		{fmt.Errorf("wrapped: %w", errs.New(errs.ErrInvalidPrice, "update_price", "zero")), 110, "InvalidPrice"},
		{errs.ErrNotInitialized, 109, "NotInitialized"},
		{errors.New("boom"), 0, "Internal"},
	}

	for _, tc := range cases {
		if got := errs.Code(tc.err); got != tc.code {
			t.Errorf("Code(%v): got %d, want %d", tc.err, got, tc.code)
		}
		if got := errs.Name(tc.err); got != tc.name {
			t.Errorf("Name(%v): got %q, want %q", tc.err, got, tc.name)
		}
	}
}
