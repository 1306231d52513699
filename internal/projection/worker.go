package projection

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/state"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

const watermarkWorkerID = "main"

// BalanceEntry is one account's balance after a command.
type BalanceEntry struct {
	AccountPath string
	AssetID     int16
	Balance     int64
}

// ProjectionOutput is the read-model view of one applied command. Every
// value is absolute, so a dropped output is healed by the next one that
// touches the same row.
type ProjectionOutput struct {
	Sequence    int64
	EventType   string
	Balances    []BalanceEntry
	Vault       *state.Vault
	ShareRecord *state.ShareRecord
	Pool        state.PoolReserves
	Totals      state.VaultTotals
	Oracle      state.OracleState
}

// FromCore converts a core output. Balances are ordered by account path.
func FromCore(out core.CoreOutput) ProjectionOutput {
	p := ProjectionOutput{
		Sequence:    out.Envelope.Sequence,
		EventType:   out.Envelope.EventType.String(),
		Vault:       out.Vault,
		ShareRecord: out.ShareRecord,
		Pool:        out.Pool,
		Totals:      out.Totals,
		Oracle:      out.Oracle,
	}
	p.Balances = balanceEntries(out.Balances)
	return p
}

func balanceEntries(balances map[ledger.AccountKey]int64) []BalanceEntry {
	entries := make([]BalanceEntry, 0, len(balances))
	for key, bal := range balances {
		entries = append(entries, BalanceEntry{
			AccountPath: key.AccountPath(),
			AssetID:     int16(key.AssetID),
			Balance:     bal,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AccountPath < entries[j].AccountPath })
	return entries
}

// ProjectionWorker updates projection tables from applied commands.
// The projection channel is non-blocking with drop; if projections fall
// behind they can be rebuilt from a snapshot.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent; keep going
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("all").Observe(time.Since(start).Seconds())
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range output.Balances {
		if err := upsertBalance(ctx, tx, b, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}
	if output.Vault != nil {
		if err := upsertVault(ctx, tx, *output.Vault, output.Sequence); err != nil {
			return fmt.Errorf("vault projection: %w", err)
		}
	}
	if output.ShareRecord != nil {
		if err := upsertShareRecord(ctx, tx, *output.ShareRecord, output.Sequence); err != nil {
			return fmt.Errorf("share projection: %w", err)
		}
	}
	if err := upsertProtocol(ctx, tx, output.Pool, output.Totals, output.Oracle, output.Sequence); err != nil {
		return fmt.Errorf("protocol projection: %w", err)
	}
	if err := setWatermark(ctx, tx, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// Each upsert only overwrites a row written by an older sequence.

func upsertBalance(ctx context.Context, tx *sql.Tx, b BalanceEntry, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
			WHERE projections.balances.last_sequence < EXCLUDED.last_sequence
	`, b.AccountPath, b.AssetID, b.Balance, seq)
	return err
}

func upsertVault(ctx context.Context, tx *sql.Tx, v state.Vault, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vaults (owner, collateral_locked, liability_minted, last_update_height, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner) DO UPDATE
			SET collateral_locked = EXCLUDED.collateral_locked,
			    liability_minted = EXCLUDED.liability_minted,
			    last_update_height = EXCLUDED.last_update_height,
			    last_sequence = EXCLUDED.last_sequence
			WHERE projections.vaults.last_sequence < EXCLUDED.last_sequence
	`, v.Owner, v.CollateralLocked, v.LiabilityMinted, v.LastUpdateHeight, seq)
	return err
}

func upsertShareRecord(ctx context.Context, tx *sql.Tx, r state.ShareRecord, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.share_records (owner, shares, collateral_provided, liability_provided, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner) DO UPDATE
			SET shares = EXCLUDED.shares,
			    collateral_provided = EXCLUDED.collateral_provided,
			    liability_provided = EXCLUDED.liability_provided,
			    last_sequence = EXCLUDED.last_sequence
			WHERE projections.share_records.last_sequence < EXCLUDED.last_sequence
	`, r.Owner, r.Shares, r.CollateralProvided, r.LiabilityProvided, seq)
	return err
}

func upsertProtocol(ctx context.Context, tx *sql.Tx, pool state.PoolReserves, totals state.VaultTotals, oracle state.OracleState, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.protocol
			(id, pool_collateral, pool_liability, total_shares, total_liability_supply,
			 total_collateral_locked, price, price_initialized, last_sequence)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
			SET pool_collateral = EXCLUDED.pool_collateral,
			    pool_liability = EXCLUDED.pool_liability,
			    total_shares = EXCLUDED.total_shares,
			    total_liability_supply = EXCLUDED.total_liability_supply,
			    total_collateral_locked = EXCLUDED.total_collateral_locked,
			    price = EXCLUDED.price,
			    price_initialized = EXCLUDED.price_initialized,
			    last_sequence = EXCLUDED.last_sequence
			WHERE projections.protocol.last_sequence < EXCLUDED.last_sequence
	`, pool.Collateral, pool.Liability, pool.TotalShares, totals.TotalLiabilitySupply,
		totals.TotalCollateralLocked, oracle.Price, oracle.Initialized, seq)
	return err
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
			WHERE projections.watermark.last_sequence < EXCLUDED.last_sequence
	`, watermarkWorkerID, seq)
	return err
}

// RebuildFromSnapshot replaces every projection table with the contents of
// a core snapshot. Run after recovery so the read model matches the core
// before new commands arrive.
func RebuildFromSnapshot(ctx context.Context, db *sql.DB, snap *core.SnapshotState) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.vaults`,
		`TRUNCATE projections.share_records`,
		`TRUNCATE projections.protocol`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	seq := snap.Sequence
	for _, b := range balanceEntries(snap.Balances) {
		if err := upsertBalance(ctx, tx, b, seq); err != nil {
			return fmt.Errorf("rebuild balances: %w", err)
		}
	}
	for _, v := range snap.Vaults {
		if err := upsertVault(ctx, tx, v, seq); err != nil {
			return fmt.Errorf("rebuild vaults: %w", err)
		}
	}
	for _, r := range snap.ShareRecords {
		if err := upsertShareRecord(ctx, tx, r, seq); err != nil {
			return fmt.Errorf("rebuild share records: %w", err)
		}
	}

	var totals state.VaultTotals
	for _, v := range snap.Vaults {
		totals.TotalCollateralLocked += v.CollateralLocked
		totals.TotalLiabilitySupply += v.LiabilityMinted
	}
	if err := upsertProtocol(ctx, tx, snap.Pool, totals, snap.Oracle, seq); err != nil {
		return fmt.Errorf("rebuild protocol: %w", err)
	}
	if err := setWatermark(ctx, tx, seq); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	return tx.Commit()
}
