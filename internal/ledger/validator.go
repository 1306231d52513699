package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies the batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies system is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidateNoNegativeBalances checks every user and system account is >= 0
func (v *InvariantValidator) ValidateNoNegativeBalances() error {
	for key, balance := range v.tracker.balances {
		if key.IsBoundary() {
			continue
		}
		if balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
		}
	}
	return nil
}

// ValidateCustody checks the custodial account holds exactly what the vault
// and pool records say it holds.
func (v *InvariantValidator) ValidateCustody(expectedCollateral, expectedLiability int64) error {
	if got := v.tracker.GetCustodyBalance(AssetCollateral); got != expectedCollateral {
		return fmt.Errorf("custody collateral mismatch: ledger=%d, records=%d", got, expectedCollateral)
	}
	if got := v.tracker.GetCustodyBalance(AssetLiability); got != expectedLiability {
		return fmt.Errorf("custody liability mismatch: ledger=%d, records=%d", got, expectedLiability)
	}
	return nil
}

// ValidateIssuance checks the liability issued across the boundary equals
// the recorded supply.
func (v *InvariantValidator) ValidateIssuance(totalSupply int64) error {
	issued := -v.tracker.GetBalance(NewExternalAccountKey(SubTypeExternalIssuance, AssetLiability))
	if issued != totalSupply {
		return fmt.Errorf("issuance mismatch: ledger=%d, supply=%d", issued, totalSupply)
	}
	return nil
}
