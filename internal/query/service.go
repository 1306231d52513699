package query

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/errs"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/state"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500

	// A single command writes at most two legs; a page must hold them all.
	minHistoryLimit = 2
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrHistoryUnavailable = errors.New("history store not configured")
)

// CoreReader is the read side of the deterministic core.
type CoreReader interface {
	GetVault(owner uuid.UUID) (state.Vault, bool)
	GetRatio(owner uuid.UUID) (int64, error)
	GetPoolSummary() core.PoolSummary
	GetShareRecord(owner uuid.UUID) (state.ShareRecord, bool)
	GetBalance(owner uuid.UUID, assetID ledger.AssetID) int64
	GetNextNonce(caller uuid.UUID) int64
	GetSequence() int64
	GetStateHash() [32]byte
	VerifyInvariants() error
}

// QueryService answers reads. Vault, pool, balance and nonce reads come
// from the in-memory core and are always current. Journal history comes
// from the Postgres event log. All responses carry as_of_sequence.
type QueryService struct {
	core    CoreReader
	db      *sql.DB
	metrics *observability.Metrics
}

// NewQueryService builds a query service. db may be nil, in which case
// history and the event-log half of VerifyIntegrity are unavailable.
func NewQueryService(reader CoreReader, db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{core: reader, db: db, metrics: metrics}
}

// GetVault returns the owner's vault with its current ratio.
func (qs *QueryService) GetVault(ctx context.Context, owner uuid.UUID) (resp *VaultResponse, err error) {
	defer qs.observe("get_vault", time.Now(), &err)

	v, ok := qs.core.GetVault(owner)
	if !ok {
		return nil, errs.New(errs.ErrNotInitialized, "get_vault", "no vault for %s", owner)
	}
	ratio, err := qs.core.GetRatio(owner)
	if err != nil {
		return nil, err
	}

	return &VaultResponse{
		Owner:             v.Owner,
		CollateralLocked:  v.CollateralLocked,
		CollateralDisplay: FormatAmount(ledger.AssetCollateral, v.CollateralLocked),
		LiabilityMinted:   v.LiabilityMinted,
		LiabilityDisplay:  FormatAmount(ledger.AssetLiability, v.LiabilityMinted),
		Ratio:             ratio,
		RatioDisplay:      FormatRatio(ratio, v.LiabilityMinted > 0),
		LastUpdateHeight:  v.LastUpdateHeight,
		AsOfSequence:      qs.asOf(),
	}, nil
}

func (qs *QueryService) GetRatio(ctx context.Context, owner uuid.UUID) (resp *RatioResponse, err error) {
	defer qs.observe("get_ratio", time.Now(), &err)

	ratio, err := qs.core.GetRatio(owner)
	if err != nil {
		return nil, err
	}
	return &RatioResponse{Owner: owner, Ratio: ratio, AsOfSequence: qs.asOf()}, nil
}

func (qs *QueryService) GetPoolSummary(ctx context.Context) (*PoolSummaryResponse, error) {
	defer qs.observe("get_pool_summary", time.Now(), nil)

	s := qs.core.GetPoolSummary()
	return &PoolSummaryResponse{
		PoolCollateral:        s.PoolCollateral,
		PoolLiability:         s.PoolLiability,
		TotalLiabilitySupply:  s.TotalLiabilitySupply,
		Price:                 s.Price,
		PriceDisplay:          FormatPrice(s.Price),
		TotalShares:           s.TotalShares,
		TotalCollateralLocked: s.TotalCollateralLocked,
		AsOfSequence:          qs.asOf(),
	}, nil
}

func (qs *QueryService) GetShareRecord(ctx context.Context, owner uuid.UUID) (resp *ShareRecordResponse, err error) {
	defer qs.observe("get_share_record", time.Now(), &err)

	rec, ok := qs.core.GetShareRecord(owner)
	if !ok {
		return nil, errs.New(errs.ErrNotInitialized, "get_share_record", "no share record for %s", owner)
	}
	return &ShareRecordResponse{
		Owner:              rec.Owner,
		Shares:             rec.Shares,
		CollateralProvided: rec.CollateralProvided,
		LiabilityProvided:  rec.LiabilityProvided,
		AsOfSequence:       qs.asOf(),
	}, nil
}

// GetBalance returns the owner's wallet balance of asset ("BTC" or "USDV").
func (qs *QueryService) GetBalance(ctx context.Context, owner uuid.UUID, asset string) (resp *BalanceResponse, err error) {
	defer qs.observe("get_balance", time.Now(), &err)

	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, fmt.Errorf("%w: unknown asset %q", ErrInvalidArgument, asset)
	}
	bal := qs.core.GetBalance(owner, assetID)
	return &BalanceResponse{
		Owner:        owner,
		Asset:        asset,
		Balance:      bal,
		Display:      FormatAmount(assetID, bal),
		AsOfSequence: qs.asOf(),
	}, nil
}

func (qs *QueryService) GetNextNonce(ctx context.Context, caller uuid.UUID) (*NonceResponse, error) {
	return &NonceResponse{Caller: caller, NextNonce: qs.core.GetNextNonce(caller)}, nil
}

func (qs *QueryService) GetState(ctx context.Context) (*StateResponse, error) {
	hash := qs.core.GetStateHash()
	return &StateResponse{Sequence: qs.asOf(), StateHash: hex.EncodeToString(hash[:])}, nil
}

// GetJournalHistory returns journal legs that debit or credit accountPath,
// newest first. beforeSequence is the cursor from the previous page.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPath string,
	limit int,
	beforeSequence *int64,
) (page *JournalHistoryPage, err error) {
	defer qs.observe("get_journal_history", time.Now(), &err)

	if qs.db == nil {
		return nil, ErrHistoryUnavailable
	}
	if _, err := ledger.ParseAccountPath(accountPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	limit = clampLimit(limit)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, height
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []interface{}{accountPath}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e           JournalHistoryEntry
			assetID     int16
			journalType int16
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &assetID, &e.Amount,
			&journalType, &e.Height,
		); err != nil {
			return nil, err
		}
		e.Asset, _ = ledger.GetAssetName(ledger.AssetID(assetID))
		e.AmountDisplay = FormatAmount(ledger.AssetID(assetID), e.Amount)
		e.JournalType = ledger.JournalType(journalType).String()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return paginate(entries, limit), nil
}

// paginate trims a limit+1 result to a page that never splits the legs of
// one sequence, and sets the cursor when more rows exist.
func paginate(entries []JournalHistoryEntry, limit int) *JournalHistoryPage {
	if len(entries) <= limit {
		return &JournalHistoryPage{Entries: entries}
	}

	boundary := entries[limit].Sequence
	cut := limit
	for cut > 0 && entries[cut-1].Sequence == boundary {
		cut--
	}
	if cut == 0 {
		cut = limit
	}

	next := entries[cut-1].Sequence
	return &JournalHistoryPage{Entries: entries[:cut], NextCursor: &next}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit < minHistoryLimit:
		return minHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}

// --- Admin APIs ---

// VerifyIntegrity runs the core's full invariant scan and, when the event
// log is available, checks hash chain continuity and that projected
// balances sum to zero per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("verify_integrity", time.Now(), &err)

	report = &IntegrityReport{CheckedAtSequence: qs.asOf()}
	if coreErr := qs.core.VerifyInvariants(); coreErr != nil {
		report.CoreError = coreErr.Error()
	}

	if qs.db != nil {
		breaks, err := qs.hashChainBreaks(ctx)
		if err != nil {
			return nil, fmt.Errorf("hash chain check: %w", err)
		}
		report.HashChainBreaks = breaks

		unbalanced, err := qs.unbalancedAssets(ctx)
		if err != nil {
			return nil, fmt.Errorf("balance check: %w", err)
		}
		report.UnbalancedAssets = unbalanced
	}

	report.IsHealthy = report.CoreError == "" &&
		len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedAssets) == 0
	return report, nil
}

func (qs *QueryService) hashChainBreaks(ctx context.Context) ([]int64, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breaks []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		breaks = append(breaks, seq)
	}
	return breaks, rows.Err()
}

func (qs *QueryService) unbalancedAssets(ctx context.Context) ([]UnbalancedAsset, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnbalancedAsset
	for rows.Next() {
		var (
			assetID int16
			total   int64
		)
		if err := rows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		out = append(out, UnbalancedAsset{AssetID: uint16(assetID), Imbalance: total})
	}
	return out, rows.Err()
}

// --- helpers ---

// asOf is the last applied sequence, -1 before the first command.
func (qs *QueryService) asOf() int64 {
	return qs.core.GetSequence() - 1
}

func (qs *QueryService) observe(endpoint string, start time.Time, errp *error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if errp != nil && *errp != nil {
		qs.metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
		qs.metrics.QueryErrors.WithLabelValues(endpoint, errs.Name(*errp)).Inc()
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
}
