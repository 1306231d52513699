package ledger

import (
	"VaultLedger/internal/errs"
	fpmath "VaultLedger/internal/math"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch. Either every journal is
// applied or none is: funds are checked for the whole batch first.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	if err := bt.CheckBatchFunds(batch); err != nil {
		return err
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// CheckBatchFunds reports ErrInsufficientBalance when applying the batch
// would leave any user or system account negative, and ErrAboveMaximum
// when any touched balance would leave the int64 range. Boundary accounts
// may go negative but are still range checked.
func (bt *BalanceTracker) CheckBatchFunds(batch *Batch) error {
	deltas := make(map[AccountKey]int64, len(batch.Journals)*2)
	order := make([]AccountKey, 0, len(batch.Journals)*2)

	for _, j := range batch.Journals {
		for _, leg := range [2]struct {
			key   AccountKey
			delta int64
		}{{j.CreditAccount, -j.Amount}, {j.DebitAccount, j.Amount}} {
			cur, seen := deltas[leg.key]
			if !seen {
				order = append(order, leg.key)
			}
			next, ok := fpmath.AddChecked(cur, leg.delta)
			if !ok {
				return errs.New(errs.ErrAboveMaximum, "transfer",
					"net movement on %s overflows", leg.key.AccountPath())
			}
			deltas[leg.key] = next
		}
	}

	for _, key := range order {
		have := bt.balances[key]
		after, ok := fpmath.AddChecked(have, deltas[key])
		if !ok {
			return errs.New(errs.ErrAboveMaximum, "transfer",
				"account %s has %d, adding %d overflows", key.AccountPath(), have, deltas[key])
		}
		if after < 0 && !key.IsBoundary() {
			return errs.New(errs.ErrInsufficientBalance, "transfer",
				"account %s has %d, needs %d", key.AccountPath(), have, -deltas[key])
		}
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// GetUserBalance returns a user's wallet balance for an asset
func (bt *BalanceTracker) GetUserBalance(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, assetID))
}

// GetCustodyBalance returns the custodial account balance for an asset
func (bt *BalanceTracker) GetCustodyBalance(assetID AssetID) int64 {
	return bt.GetBalance(NewCustodyAccountKey(assetID))
}

// SetBalance overwrites one balance. Used only when restoring a snapshot.
func (bt *BalanceTracker) SetBalance(key AccountKey, amount int64) {
	if amount == 0 {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = amount
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SortedKeys returns every tracked account ordered by path, for
// deterministic iteration.
func (bt *BalanceTracker) SortedKeys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})
	return keys
}
