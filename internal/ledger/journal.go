package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeTransfer JournalType = iota
	JournalTypeExternalDeposit
	JournalTypeExternalWithdrawal
	JournalTypeCollateralLock
	JournalTypeLiabilityMint
	JournalTypeLiabilityBurn
	JournalTypeLiquidityAdd
	JournalTypeLiquidityRemove
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeExternalDeposit:
		return "external_deposit"
	case JournalTypeExternalWithdrawal:
		return "external_withdrawal"
	case JournalTypeCollateralLock:
		return "collateral_lock"
	case JournalTypeLiabilityMint:
		return "liability_mint"
	case JournalTypeLiabilityBurn:
		return "liability_burn"
	case JournalTypeLiquidityAdd:
		return "liquidity_add"
	case JournalTypeLiquidityRemove:
		return "liquidity_remove"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Derived from batch ID and leg index
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global command sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Height        int64       // Execution-environment height of the command
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID  uuid.UUID
	EventRef string
	Sequence int64
	Height   int64
	Journals []Journal
}

// Validate ensures the batch is well-formed.
// Each entry moves one positive amount from the credit account to the debit
// account, so every entry is balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

// IsEmpty reports whether the batch carries no journals (state-only commands).
func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Journals) == 0
}
