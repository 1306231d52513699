package ledger_test

import (
	"VaultLedger/internal/errs"
	"VaultLedger/internal/ledger"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
)

func ctx(ref string, seq int64) ledger.BatchContext {
	return ledger.BatchContext{EventRef: ref, Sequence: seq, Height: 10}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewUserAccountKey(userID, ledger.AssetCollateral)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:wallet:BTC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_CustodyPath(t *testing.T) {
	key := ledger.NewCustodyAccountKey(ledger.AssetLiability)

	if path := key.AccountPath(); path != "system:custody:USDV" {
		t.Errorf("got %q, want %q", path, "system:custody:USDV")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalIssuance, ledger.AssetLiability)

	if path := key.AccountPath(); path != "external:issuance:USDV" {
		t.Errorf("got %q, want %q", path, "external:issuance:USDV")
	}
	if !key.IsBoundary() {
		t.Error("external account should be a boundary account")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.NewUserAccountKey(uuid.New(), ledger.AssetCollateral),
		ledger.NewUserAccountKey(uuid.New(), ledger.AssetLiability),
		ledger.NewCustodyAccountKey(ledger.AssetCollateral),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetCollateral),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalIssuance, ledger.AssetLiability),
	}

	for _, want := range keys {
		got, err := ledger.ParseAccountPath(want.AccountPath())
		if err != nil {
			t.Fatalf("parse %q: %v", want.AccountPath(), err)
		}
		if got != want {
			t.Errorf("parse %q: got %+v, want %+v", want.AccountPath(), got, want)
		}
	}
}

func TestParseAccountPath_Rejects(t *testing.T) {
	for _, path := range []string{"", "user:not-a-uuid:wallet:BTC", "system:custody:DOGE", "external:nowhere:BTC"} {
		if _, err := ledger.ParseAccountPath(path); err == nil {
			t.Errorf("expected error for %q", path)
		}
	}
}

func TestGetAssetID(t *testing.T) {
	if id, ok := ledger.GetAssetID("BTC"); !ok || id != ledger.AssetCollateral {
		t.Errorf("BTC: got (%d, %v)", id, ok)
	}
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	if balance := bt.GetUserBalance(uuid.New(), ledger.AssetCollateral); balance != 0 {
		t.Errorf("initial balance should be 0, got %d", balance)
	}
}

func TestBalanceTracker_ExternalDepositThenLock(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator()
	userID := uuid.New()

	if err := bt.ApplyBatch(jg.GenerateExternalDeposit(ctx("dep", 1), userID, ledger.AssetCollateral, 500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := bt.ApplyBatch(jg.GenerateCollateralLock(ctx("lock", 2), userID, 200)); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if got := bt.GetUserBalance(userID, ledger.AssetCollateral); got != 300 {
		t.Errorf("user: got %d, want 300", got)
	}
	if got := bt.GetCustodyBalance(ledger.AssetCollateral); got != 200 {
		t.Errorf("custody: got %d, want 200", got)
	}

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("zero-sum: %v", err)
	}
	if err := v.ValidateNoNegativeBalances(); err != nil {
		t.Errorf("non-negative: %v", err)
	}
}

func TestBalanceTracker_InsufficientBalance(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator()
	from, to := uuid.New(), uuid.New()

	if err := bt.ApplyBatch(jg.GenerateExternalDeposit(ctx("dep", 1), from, ledger.AssetLiability, 100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := bt.ApplyBatch(jg.GenerateTransfer(ctx("xfer", 2), from, to, ledger.AssetLiability, 101))
	if !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Nothing moved.
	if got := bt.GetUserBalance(from, ledger.AssetLiability); got != 100 {
		t.Errorf("from: got %d, want 100", got)
	}
	if got := bt.GetUserBalance(to, ledger.AssetLiability); got != 0 {
		t.Errorf("to: got %d, want 0", got)
	}
}

func TestBalanceTracker_RecipientOverflowRejected(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator()
	from, to := uuid.New(), uuid.New()

	bt.SetBalance(ledger.NewUserAccountKey(from, ledger.AssetLiability), math.MaxInt64)
	bt.SetBalance(ledger.NewUserAccountKey(to, ledger.AssetLiability), math.MaxInt64)

	err := bt.ApplyBatch(jg.GenerateTransfer(ctx("xfer", 1), from, to, ledger.AssetLiability, 10))
	if !errors.Is(err, errs.ErrAboveMaximum) {
		t.Fatalf("expected ErrAboveMaximum, got %v", err)
	}
	if got := bt.GetUserBalance(to, ledger.AssetLiability); got != math.MaxInt64 {
		t.Errorf("to: got %d, want %d", got, int64(math.MaxInt64))
	}
	if got := bt.GetUserBalance(from, ledger.AssetLiability); got != math.MaxInt64 {
		t.Errorf("from: got %d, want %d", got, int64(math.MaxInt64))
	}
}

func TestBalanceTracker_ExternalDepositOverflowRejected(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator()
	a, b := uuid.New(), uuid.New()

	if err := bt.ApplyBatch(jg.GenerateExternalDeposit(ctx("dep-a", 1), a, ledger.AssetCollateral, math.MaxInt64)); err != nil {
		t.Fatalf("first deposit: %v", err)
	}

	// The user's balance would wrap.
	err := bt.ApplyBatch(jg.GenerateExternalDeposit(ctx("dep-a2", 2), a, ledger.AssetCollateral, 1))
	if !errors.Is(err, errs.ErrAboveMaximum) {
		t.Errorf("user overflow: expected ErrAboveMaximum, got %v", err)
	}

	// The funding account would wrap even though b starts empty.
	err = bt.ApplyBatch(jg.GenerateExternalDeposit(ctx("dep-b", 3), b, ledger.AssetCollateral, math.MaxInt64))
	if !errors.Is(err, errs.ErrAboveMaximum) {
		t.Errorf("funding overflow: expected ErrAboveMaximum, got %v", err)
	}
	if got := bt.GetUserBalance(b, ledger.AssetCollateral); got != 0 {
		t.Errorf("b: got %d, want 0", got)
	}

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateNoNegativeBalances(); err != nil {
		t.Errorf("non-negative: %v", err)
	}
}

func TestBalanceTracker_BatchIsAtomic(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator()
	userID := uuid.New()

	if err := bt.ApplyBatch(jg.GenerateExternalDeposit(ctx("dep", 1), userID, ledger.AssetCollateral, 1_000)); err != nil {
		t.Fatal(err)
	}

	// Collateral leg is fundable, liability leg is not.
	err := bt.ApplyBatch(jg.GenerateLiquidityAdd(ctx("add", 2), userID, 500, 500))
	if !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := bt.GetCustodyBalance(ledger.AssetCollateral); got != 0 {
		t.Errorf("custody should be untouched, got %d", got)
	}
}

func TestBalanceTracker_MintBurnIssuance(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator()
	v := ledger.NewInvariantValidator(bt)
	userID := uuid.New()

	if err := bt.ApplyBatch(jg.GenerateMint(ctx("mint", 1), userID, 700)); err != nil {
		t.Fatal(err)
	}
	if err := v.ValidateIssuance(700); err != nil {
		t.Errorf("after mint: %v", err)
	}

	if err := bt.ApplyBatch(jg.GenerateBurn(ctx("burn", 2), userID, 300)); err != nil {
		t.Fatal(err)
	}
	if err := v.ValidateIssuance(400); err != nil {
		t.Errorf("after burn: %v", err)
	}
	if got := bt.GetUserBalance(userID, ledger.AssetLiability); got != 400 {
		t.Errorf("user liability: got %d, want 400", got)
	}
}

func TestBalanceTracker_SetBalanceAndSortedKeys(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	custody := ledger.NewCustodyAccountKey(ledger.AssetCollateral)
	funding := ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetCollateral)

	bt.SetBalance(custody, 10)
	bt.SetBalance(funding, -10)

	keys := bt.SortedKeys()
	if len(keys) != 2 || keys[0] != funding || keys[1] != custody {
		t.Errorf("unexpected key order: %v", keys)
	}

	bt.SetBalance(custody, 0)
	if len(bt.Snapshot()) != 1 {
		t.Error("zero balance should be removed")
	}
}

// ============================================================================
// Test: Batch / JournalGenerator
// ============================================================================

func TestBatch_Validate_RejectsEmpty(t *testing.T) {
	b := &ledger.Batch{BatchID: uuid.New()}
	if err := b.Validate(); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestBatch_Validate_RejectsNonPositive(t *testing.T) {
	batchID := uuid.New()
	key := ledger.NewCustodyAccountKey(ledger.AssetCollateral)
	b := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  key,
			CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetCollateral),
			AssetID:       ledger.AssetCollateral,
			Amount:        -5,
		}},
	}
	if err := b.Validate(); err == nil {
		t.Error("expected error for negative amount")
	}
}

func TestGenerator_DeterministicIDs(t *testing.T) {
	jg := ledger.NewJournalGenerator()
	userID := uuid.New()

	a := jg.GenerateLiquidityAdd(ctx("req-1", 7), userID, 5, 6)
	b := jg.GenerateLiquidityAdd(ctx("req-1", 7), userID, 5, 6)

	if a.BatchID != b.BatchID {
		t.Error("batch IDs should be deterministic")
	}
	for i := range a.Journals {
		if a.Journals[i].JournalID != b.Journals[i].JournalID {
			t.Errorf("journal %d IDs differ", i)
		}
	}
	if a.Journals[0].JournalID == a.Journals[1].JournalID {
		t.Error("legs must have distinct IDs")
	}
}

func TestGenerator_LiquidityRemoveSkipsZeroLegs(t *testing.T) {
	jg := ledger.NewJournalGenerator()

	batch := jg.GenerateLiquidityRemove(ctx("rm", 3), uuid.New(), 0, 9)
	if len(batch.Journals) != 1 {
		t.Fatalf("got %d journals, want 1", len(batch.Journals))
	}
	if batch.Journals[0].AssetID != ledger.AssetLiability {
		t.Error("remaining leg should be the liability leg")
	}

	empty := jg.GenerateLiquidityRemove(ctx("rm", 4), uuid.New(), 0, 0)
	if !empty.IsEmpty() {
		t.Error("all-zero removal should produce an empty batch")
	}
}

func TestValidator_CustodyMismatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator()
	userID := uuid.New()

	_ = bt.ApplyBatch(jg.GenerateExternalDeposit(ctx("dep", 1), userID, ledger.AssetCollateral, 50))
	_ = bt.ApplyBatch(jg.GenerateCollateralLock(ctx("lock", 2), userID, 50))

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateCustody(50, 0); err != nil {
		t.Errorf("expected match: %v", err)
	}
	if err := v.ValidateCustody(49, 0); err == nil {
		t.Error("expected custody mismatch")
	}
}
