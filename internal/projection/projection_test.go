package projection_test

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/state"
	"VaultLedger/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

// projectCore applies a short command sequence and collects the projection
// outputs the core emitted.
func projectCore(t *testing.T) (*core.DeterministicCore, uuid.UUID, []projection.ProjectionOutput) {
	t.Helper()

	owner, user := uuid.New(), uuid.New()
	out := make(chan core.CoreOutput, 64)
	c := core.NewDeterministicCore(0, nil, out, state.StaticAuthority{Owner: owner})
	ctx := context.Background()

	cmds := []event.Event{
		&event.InitializePrice{Header: event.Header{RequestID: "p", Caller: owner, Nonce: 0, Height: 1}, Price: 50_000_000},
		&event.ExternalDeposit{Header: event.Header{RequestID: "f", Caller: owner, Nonce: 1, Height: 2}, Account: user, Asset: "BTC", Amount: 200_000_000},
		&event.DepositCollateral{Header: event.Header{RequestID: "d", Caller: user, Nonce: 0, Height: 3}, Amount: 100_000_000},
		&event.MintLiability{Header: event.Header{RequestID: "m", Caller: user, Nonce: 1, Height: 4}, Amount: 20_000_000},
		&event.AddLiquidity{Header: event.Header{RequestID: "a", Caller: user, Nonce: 2, Height: 5}, CollateralAmount: 1_000_000, LiabilityAmount: 4_000_000},
	}
	for _, cmd := range cmds {
		if _, err := c.ProcessEvent(ctx, cmd); err != nil {
			t.Fatalf("%s: %v", cmd.EventType(), err)
		}
	}

	close(out)
	var outputs []projection.ProjectionOutput
	for o := range out {
		outputs = append(outputs, projection.FromCore(o))
	}
	return c, user, outputs
}

// ============================================================================
// Test: Output conversion
// ============================================================================

func TestFromCore(t *testing.T) {
	_, user, outputs := projectCore(t)

	if len(outputs) != 5 {
		t.Fatalf("outputs: got %d, want 5", len(outputs))
	}

	price := outputs[0]
	if price.EventType != "InitializePrice" || len(price.Balances) != 0 {
		t.Errorf("price output: %+v", price)
	}
	if !price.Oracle.Initialized || price.Oracle.Price != 50_000_000 {
		t.Errorf("oracle: %+v", price.Oracle)
	}

	deposit := outputs[2]
	if deposit.Sequence != 2 {
		t.Errorf("sequence: got %d, want 2", deposit.Sequence)
	}
	if len(deposit.Balances) != 2 {
		t.Fatalf("deposit balances: got %d, want 2", len(deposit.Balances))
	}
	// Ordered by path: system:* sorts before user:*
	if deposit.Balances[0].AccountPath != "system:custody:BTC" {
		t.Errorf("first balance: got %s", deposit.Balances[0].AccountPath)
	}
	for _, b := range deposit.Balances {
		if b.Balance != 100_000_000 {
			t.Errorf("%s: got %d, want 100000000", b.AccountPath, b.Balance)
		}
	}
	if deposit.Vault == nil || deposit.Vault.Owner != user || deposit.Vault.CollateralLocked != 100_000_000 {
		t.Errorf("vault: %+v", deposit.Vault)
	}
	if deposit.ShareRecord != nil {
		t.Error("deposit should not carry a share record")
	}

	add := outputs[4]
	if add.ShareRecord == nil || add.ShareRecord.Shares == 0 {
		t.Fatalf("share record: %+v", add.ShareRecord)
	}
	if add.Pool.Collateral != 1_000_000 || add.Pool.Liability != 4_000_000 {
		t.Errorf("pool: %+v", add.Pool)
	}
	if add.Totals.TotalLiabilitySupply != 20_000_000 {
		t.Errorf("liability supply: got %d", add.Totals.TotalLiabilitySupply)
	}
}

// ============================================================================
// Integration: Postgres
// ============================================================================

func TestIntegration_WorkerAppliesOutputs(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	_, user, outputs := projectCore(t)

	in := make(chan projection.ProjectionOutput, len(outputs)+1)
	for _, o := range outputs {
		in <- o
	}
	// A stale redelivery must not overwrite newer rows
	in <- outputs[2]
	close(in)

	worker := projection.NewProjectionWorker(db, in, nil, observability.NewNopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("worker: %v", err)
	}

	var locked, minted, seq int64
	err := db.QueryRowContext(ctx,
		`SELECT collateral_locked, liability_minted, last_sequence FROM projections.vaults WHERE owner = $1`, user,
	).Scan(&locked, &minted, &seq)
	if err != nil {
		t.Fatal(err)
	}
	if locked != 100_000_000 || minted != 20_000_000 || seq != 3 {
		t.Errorf("vault row: locked=%d minted=%d seq=%d", locked, minted, seq)
	}

	var watermark int64
	if err := db.QueryRowContext(ctx, `SELECT last_sequence FROM projections.watermark`).Scan(&watermark); err != nil {
		t.Fatal(err)
	}
	if watermark != 4 {
		t.Errorf("watermark: got %d, want 4", watermark)
	}
}

func TestIntegration_RebuildFromSnapshot(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	c, _, _ := projectCore(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx,
		`INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence) VALUES ('user:stale:wallet:BTC', 1, 7, 99)`,
	); err != nil {
		t.Fatal(err)
	}

	if err := projection.RebuildFromSnapshot(ctx, db, c.CreateSnapshotState()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	var stale int
	db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projections.balances WHERE account_path LIKE 'user:stale%'`).Scan(&stale)
	if stale != 0 {
		t.Error("rebuild should drop rows the snapshot does not hold")
	}

	var poolCollateral, totalLocked int64
	if err := db.QueryRowContext(ctx,
		`SELECT pool_collateral, total_collateral_locked FROM projections.protocol WHERE id = 1`,
	).Scan(&poolCollateral, &totalLocked); err != nil {
		t.Fatal(err)
	}
	if poolCollateral != 1_000_000 || totalLocked != 100_000_000 {
		t.Errorf("protocol row: pool=%d locked=%d", poolCollateral, totalLocked)
	}
}
