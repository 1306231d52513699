package query

import (
	"VaultLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Decimal places of the fixed-point values the ledger stores.
const (
	CollateralDecimals = 8
	LiabilityDecimals  = 6
	PriceDecimals      = 6
)

// FormatAmount renders a raw asset amount with the asset's decimals.
func FormatAmount(assetID ledger.AssetID, amount int64) string {
	places := int32(CollateralDecimals)
	if assetID == ledger.AssetLiability {
		places = LiabilityDecimals
	}
	return decimal.New(amount, -places).StringFixed(places)
}

// FormatPrice renders a 6-decimal price.
func FormatPrice(price int64) string {
	return decimal.New(price, -PriceDecimals).StringFixed(PriceDecimals)
}

// FormatRatio renders a percent ratio, "inf" when the vault has no debt.
func FormatRatio(ratio int64, hasDebt bool) string {
	if !hasDebt {
		return "inf"
	}
	return decimal.NewFromInt(ratio).String() + "%"
}

// VaultResponse is a vault as served to clients. Raw integers are
// authoritative; the *Display fields are for humans.
type VaultResponse struct {
	Owner             uuid.UUID `json:"owner"`
	CollateralLocked  int64     `json:"collateral_locked"`
	CollateralDisplay string    `json:"collateral_display"`
	LiabilityMinted   int64     `json:"liability_minted"`
	LiabilityDisplay  string    `json:"liability_display"`
	Ratio             int64     `json:"ratio"`
	RatioDisplay      string    `json:"ratio_display"`
	LastUpdateHeight  int64     `json:"last_update_height"`
	AsOfSequence      int64     `json:"as_of_sequence"`
}

type RatioResponse struct {
	Owner        uuid.UUID `json:"owner"`
	Ratio        int64     `json:"ratio"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// PoolSummaryResponse is the global protocol view.
type PoolSummaryResponse struct {
	PoolCollateral        int64  `json:"pool_collateral"`
	PoolLiability         int64  `json:"pool_liability"`
	TotalLiabilitySupply  int64  `json:"total_liability_supply"`
	Price                 int64  `json:"price"`
	PriceDisplay          string `json:"price_display"`
	TotalShares           int64  `json:"total_shares"`
	TotalCollateralLocked int64  `json:"total_collateral_locked"`
	AsOfSequence          int64  `json:"as_of_sequence"`
}

type ShareRecordResponse struct {
	Owner              uuid.UUID `json:"owner"`
	Shares             int64     `json:"shares"`
	CollateralProvided int64     `json:"collateral_provided"`
	LiabilityProvided  int64     `json:"liability_provided"`
	AsOfSequence       int64     `json:"as_of_sequence"`
}

type BalanceResponse struct {
	Owner        uuid.UUID `json:"owner"`
	Asset        string    `json:"asset"`
	Balance      int64     `json:"balance"`
	Display      string    `json:"display"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// NonceResponse tells a caller which nonce its next command must carry.
type NonceResponse struct {
	Caller    uuid.UUID `json:"caller"`
	NextNonce int64     `json:"next_nonce"`
}

type StateResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	JournalType   string `json:"journal_type"`
	Height        int64  `json:"height"`
}

// JournalHistoryPage is one page of history, newest first. NextCursor is
// passed back as the before-sequence of the following page.
type JournalHistoryPage struct {
	Entries    []JournalHistoryEntry `json:"entries"`
	NextCursor *int64                `json:"next_cursor,omitempty"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy         bool              `json:"is_healthy"`
	CoreError         string            `json:"core_error,omitempty"`
	HashChainBreaks   []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets  []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	CheckedAtSequence int64             `json:"checked_at_sequence"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
