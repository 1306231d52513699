package state_test

import (
	"VaultLedger/internal/errs"
	"VaultLedger/internal/state"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Test: PriceOracle
// ============================================================================

func TestOracle_InitializeOnce(t *testing.T) {
	owner := uuid.New()
	o := state.NewPriceOracle(state.StaticAuthority{Owner: owner})

	if err := o.ValidateInitialize(owner, 50_000_000); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	o.Initialize(50_000_000, 1)

	err := o.ValidateInitialize(owner, 60_000_000)
	if !errors.Is(err, errs.ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestOracle_UpdateLeavesInitializationOpen(t *testing.T) {
	owner := uuid.New()
	o := state.NewPriceOracle(state.StaticAuthority{Owner: owner})

	o.SetPrice(40_000_000, 1)
	if price, ok := o.Price(); !ok || price != 40_000_000 {
		t.Fatalf("price after update: got %d/%v", price, ok)
	}
	if o.Initialized() {
		t.Error("update must not mark the oracle initialized")
	}

	if err := o.ValidateInitialize(owner, 50_000_000); err != nil {
		t.Fatalf("initialize after update: %v", err)
	}
	o.Initialize(50_000_000, 2)
	o.SetPrice(45_000_000, 3)

	if !o.Initialized() {
		t.Error("update must not clear the initialization flag")
	}
	if s := o.State(); s.Price != 45_000_000 || s.LastUpdateHeight != 3 {
		t.Errorf("state: %+v", s)
	}
}

func TestOracle_Bounds(t *testing.T) {
	owner := uuid.New()
	o := state.NewPriceOracle(state.StaticAuthority{Owner: owner})

	for _, price := range []int64{0, -1, state.MaxPrice + 1} {
		if err := o.ValidateUpdate(owner, price); !errors.Is(err, errs.ErrInvalidPrice) {
			t.Errorf("price %d: expected ErrInvalidPrice, got %v", price, err)
		}
	}
	if err := o.ValidateUpdate(owner, state.MaxPrice); err != nil {
		t.Errorf("MaxPrice should be accepted: %v", err)
	}
}

func TestOracle_NonOwnerRejected(t *testing.T) {
	o := state.NewPriceOracle(state.StaticAuthority{Owner: uuid.New()})

	if err := o.ValidateUpdate(uuid.New(), 1); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Errorf("update: expected ErrNotAuthorized, got %v", err)
	}
	if err := o.ValidateInitialize(uuid.New(), 1); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Errorf("initialize: expected ErrNotAuthorized, got %v", err)
	}
}

func TestStaticAuthority_NilOwner(t *testing.T) {
	a := state.StaticAuthority{}
	if a.IsOwner(uuid.Nil) {
		t.Error("nil id must never be owner")
	}
}

// ============================================================================
// Test: Vault ratio
// ============================================================================

func TestComputeRatio(t *testing.T) {
	cases := []struct {
		name                         string
		collateral, liability, price int64
		want                         int64
	}{
		{"zero liability", 100_000_000, 0, 50_000_000, state.PricePrecision},
		{"scenario mint", 100_000_000, 30_000_000, 50_000_000, 166},
		{"scenario second mint", 100_000_000, 40_000_000, 50_000_000, 125},
		{"exactly 150", 150_000_000, 100_000_000, 100_000_000, 150},
		{"no price", 100_000_000, 1, 0, 0},
	}

	for _, tc := range cases {
		if got := state.ComputeRatio(tc.collateral, tc.liability, tc.price); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

// ============================================================================
// Test: VaultManager
// ============================================================================

func TestVault_DepositBelowMinimum(t *testing.T) {
	vm := state.NewVaultManager()

	err := vm.ValidateDeposit(state.MinDeposit - 1)
	if !errors.Is(err, errs.ErrBelowMinimum) {
		t.Errorf("expected ErrBelowMinimum, got %v", err)
	}
	if err := vm.ValidateDeposit(state.MinDeposit); err != nil {
		t.Errorf("MinDeposit should be accepted: %v", err)
	}
}

func TestVault_DepositTotalOverflow(t *testing.T) {
	vm := state.NewVaultManager()
	vm.Restore([]state.Vault{{Owner: uuid.New(), CollateralLocked: math.MaxInt64 - state.MinDeposit + 1}})

	if err := vm.ValidateDeposit(state.MinDeposit); !errors.Is(err, errs.ErrAboveMaximum) {
		t.Errorf("expected ErrAboveMaximum, got %v", err)
	}
	if err := vm.ValidateDeposit(state.MinDeposit - 1); !errors.Is(err, errs.ErrBelowMinimum) {
		t.Errorf("minimum is checked first: got %v", err)
	}
}

func TestVault_MintRules(t *testing.T) {
	vm := state.NewVaultManager()
	owner := uuid.New()
	const price = 50_000_000

	if err := vm.ValidateMint(owner, 1, price, 0); !errors.Is(err, errs.ErrNotInitialized) {
		t.Errorf("no vault: expected ErrNotInitialized, got %v", err)
	}

	vm.ApplyDeposit(owner, 100_000_000, 5)
	custody := vm.Totals().TotalCollateralLocked

	cases := []struct {
		name   string
		amount int64
		want   error
	}{
		{"zero", 0, errs.ErrInvalidAmount},
		{"above per-call", state.MaxMintPerCall + 1, errs.ErrInvalidAmount},
		{"above cap", 50_000_001, errs.ErrInvalidAmount},
		{"ratio below 150", 40_000_000, errs.ErrInsufficientCollateral},
	}
	for _, tc := range cases {
		if err := vm.ValidateMint(owner, tc.amount, price, custody); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if err := vm.ValidateMint(owner, 30_000_000, price, custody); err != nil {
		t.Fatalf("valid mint rejected: %v", err)
	}
	v := vm.ApplyMint(owner, 30_000_000, 6)
	if v.LiabilityMinted != 30_000_000 || v.LastUpdateHeight != 6 {
		t.Errorf("vault after mint: %+v", *v)
	}
	if got := vm.Totals().TotalLiabilitySupply; got != 30_000_000 {
		t.Errorf("supply: got %d, want 30000000", got)
	}
	if v.Ratio(price) < state.MinCollateralRatio {
		t.Error("accepted mint left ratio below minimum")
	}
}

func TestVault_MintOverflow(t *testing.T) {
	const price = state.MaxPrice
	owner, other := uuid.New(), uuid.New()

	nearFull := state.Vault{Owner: owner, CollateralLocked: math.MaxInt64 / 2, LiabilityMinted: math.MaxInt64 - 5}
	empty := state.Vault{Owner: owner, CollateralLocked: math.MaxInt64 / 4}
	heavy := state.Vault{Owner: other, CollateralLocked: math.MaxInt64 / 4, LiabilityMinted: math.MaxInt64 - 5}

	cases := []struct {
		name   string
		vaults []state.Vault
	}{
		{"vault liability", []state.Vault{nearFull}},
		{"global supply", []state.Vault{empty, heavy}},
	}

	for _, tc := range cases {
		vm := state.NewVaultManager()
		vm.Restore(tc.vaults)
		err := vm.ValidateMint(owner, 10, price, math.MaxInt64)
		if !errors.Is(err, errs.ErrAboveMaximum) {
			t.Errorf("%s: expected ErrAboveMaximum, got %v", tc.name, err)
		}
	}
}

func TestCheckSupplyCap(t *testing.T) {
	const price = 50_000_000

	// 1 BTC at 50.000000 is worth 50_000_000 liability units.
	cases := []struct {
		name   string
		supply int64
		want   error
	}{
		{"below cap", 49_999_999, nil},
		{"at cap", 50_000_000, nil},
		{"above cap", 50_000_001, errs.ErrAboveMaximum},
	}
	for _, tc := range cases {
		err := state.CheckSupplyCap(tc.supply, 100_000_000, price)
		if tc.want == nil && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if err := state.CheckSupplyCap(1, 100_000_000, 0); !errors.Is(err, errs.ErrAboveMaximum) {
		t.Errorf("unpriced collateral backs nothing: got %v", err)
	}
}

func TestVault_BurnRules(t *testing.T) {
	vm := state.NewVaultManager()
	owner := uuid.New()

	// The caller's balance is checked before the vault exists.
	if err := vm.ValidateBurn(owner, 5, 0); !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Errorf("no vault, no balance: expected ErrInsufficientBalance, got %v", err)
	}

	if err := vm.ValidateBurn(owner, 1, 1); !errors.Is(err, errs.ErrNotInitialized) {
		t.Errorf("no vault: expected ErrNotInitialized, got %v", err)
	}

	vm.ApplyDeposit(owner, 100_000_000, 1)
	vm.ApplyMint(owner, 10_000_000, 2)

	if err := vm.ValidateBurn(owner, 10_000_001, 10_000_000); !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := vm.ValidateBurn(owner, 10_000_001, 20_000_000); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Errorf("burn beyond vault debt: expected ErrInvalidAmount, got %v", err)
	}

	vm.ApplyBurn(owner, 10_000_000, 3)
	v := vm.GetVault(owner)
	if v == nil || v.LiabilityMinted != 0 {
		t.Fatalf("vault should persist at zero liability: %+v", v)
	}
	if v.Ratio(1) != state.PricePrecision {
		t.Errorf("zero-liability ratio: got %d", v.Ratio(1))
	}
}

func TestVault_RestoreRecomputesTotals(t *testing.T) {
	vm := state.NewVaultManager()
	a, b := uuid.New(), uuid.New()
	vm.Restore([]state.Vault{
		{Owner: a, CollateralLocked: 10, LiabilityMinted: 3},
		{Owner: b, CollateralLocked: 20, LiabilityMinted: 4},
	})

	totals := vm.Totals()
	if totals.TotalCollateralLocked != 30 || totals.TotalLiabilitySupply != 7 {
		t.Errorf("totals: %+v", totals)
	}
	if len(vm.AllVaults()) != 2 {
		t.Error("expected 2 vaults")
	}
}

// ============================================================================
// Test: PoolManager
// ============================================================================

func TestPool_FirstDepositSharesAreSqrt(t *testing.T) {
	pm := state.NewPoolManager()

	shares, err := pm.QuoteAdd(50_000_000, 2_500_000_000)
	if err != nil {
		t.Fatal(err)
	}
	// floor(sqrt(1.25e17))
	if shares != 353_553_390 {
		t.Errorf("shares: got %d, want 353553390", shares)
	}
}

func TestPool_InvalidAmounts(t *testing.T) {
	pm := state.NewPoolManager()

	for _, amounts := range [][2]int64{{0, 1}, {1, 0}, {-1, 5}} {
		if _, err := pm.QuoteAdd(amounts[0], amounts[1]); !errors.Is(err, errs.ErrInvalidAmount) {
			t.Errorf("%v: expected ErrInvalidAmount, got %v", amounts, err)
		}
	}
}

func TestPool_QuoteAddOverflow(t *testing.T) {
	const nearMax = math.MaxInt64 - 100

	cases := []struct {
		name                  string
		reserves              state.PoolReserves
		collateral, liability int64
	}{
		// c * sqrt(1 * MaxInt64) does not fit.
		{"share issuance", state.PoolReserves{Collateral: 1, Liability: math.MaxInt64, TotalShares: 1}, math.MaxInt64 / 2, 1},
		// Balanced pool: shares == collateral, so only the reserve overflows.
		{"pool collateral", state.PoolReserves{Collateral: nearMax, Liability: nearMax, TotalShares: nearMax}, 200, 1},
		{"pool liability", state.PoolReserves{Collateral: 1_000, Liability: nearMax, TotalShares: 1_000}, 1, 200},
		{"total shares", state.PoolReserves{Collateral: 1_000, Liability: 1_000, TotalShares: nearMax}, 1_000, 1},
	}

	for _, tc := range cases {
		pm := state.NewPoolManager()
		pm.Restore(tc.reserves, nil)
		if _, err := pm.QuoteAdd(tc.collateral, tc.liability); !errors.Is(err, errs.ErrAboveMaximum) {
			t.Errorf("%s: expected ErrAboveMaximum, got %v", tc.name, err)
		}
		if pm.Reserves() != tc.reserves {
			t.Errorf("%s: quote mutated reserves", tc.name)
		}
	}
}

func TestPool_SecondDepositIsProportional(t *testing.T) {
	pm := state.NewPoolManager()
	first, second := uuid.New(), uuid.New()

	s1, _ := pm.QuoteAdd(100, 400) // sqrt(40000) = 200
	pm.ApplyAdd(first, 100, 400, s1)

	s2, err := pm.QuoteAdd(50, 200)
	if err != nil {
		t.Fatal(err)
	}
	// 50 * sqrt(100*400) / 100 = 100
	if s2 != 100 {
		t.Errorf("second shares: got %d, want 100", s2)
	}
	pm.ApplyAdd(second, 50, 200, s2)

	r := pm.Reserves()
	if r.Collateral != 150 || r.Liability != 600 || r.TotalShares != 300 {
		t.Errorf("reserves: %+v", r)
	}
	if pm.SumShares() != r.TotalShares {
		t.Error("total shares must equal sum of records")
	}
}

func TestPool_RemoveUsesTotalShares(t *testing.T) {
	pm := state.NewPoolManager()
	first, second := uuid.New(), uuid.New()

	pm.ApplyAdd(first, 100, 400, 200)
	pm.ApplyAdd(second, 50, 200, 100)

	red, err := pm.QuoteRemove(second, 100)
	if err != nil {
		t.Fatal(err)
	}
	if red.Collateral != 50 || red.Liability != 200 {
		t.Errorf("redemption: got %+v, want 50/200", red)
	}
}

func TestPool_RemoveErrors(t *testing.T) {
	pm := state.NewPoolManager()
	owner := uuid.New()

	if _, err := pm.QuoteRemove(owner, 1); !errors.Is(err, errs.ErrNotInitialized) {
		t.Errorf("no record: expected ErrNotInitialized, got %v", err)
	}

	pm.ApplyAdd(owner, 10, 10, 10)

	if _, err := pm.QuoteRemove(owner, 11); !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Errorf("too many: expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := pm.QuoteRemove(owner, 0); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Errorf("zero: expected ErrInvalidAmount, got %v", err)
	}
}

func TestPool_AddRemoveRoundTrip(t *testing.T) {
	pm := state.NewPoolManager()
	owner := uuid.New()

	shares, _ := pm.QuoteAdd(50_000_000, 2_500_000_000)
	pm.ApplyAdd(owner, 50_000_000, 2_500_000_000, shares)

	red, err := pm.QuoteRemove(owner, shares)
	if err != nil {
		t.Fatal(err)
	}
	if red.Collateral != 50_000_000 || red.Liability != 2_500_000_000 {
		t.Errorf("round trip: got %+v", red)
	}

	rec := pm.ApplyRemove(owner, red)
	if rec.Shares != 0 || rec.CollateralProvided != 0 || rec.LiabilityProvided != 0 {
		t.Errorf("record after full removal: %+v", *rec)
	}
	if pm.GetShareRecord(owner) == nil {
		t.Error("record should persist at zero")
	}
	if !pm.Reserves().IsEmpty() {
		t.Error("pool should be empty")
	}
}
