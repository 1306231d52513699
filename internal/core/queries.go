package core

import (
	"VaultLedger/internal/errs"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/state"

	"github.com/google/uuid"
)

// PoolSummary is the global protocol view
type PoolSummary struct {
	PoolCollateral        int64
	PoolLiability         int64
	TotalLiabilitySupply  int64
	Price                 int64
	TotalShares           int64
	TotalCollateralLocked int64
}

// GetVault returns a copy of the caller's vault
func (c *DeterministicCore) GetVault(owner uuid.UUID) (state.Vault, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v := c.vaults.GetVault(owner)
	if v == nil {
		return state.Vault{}, false
	}
	return *v, true
}

// GetRatio returns the vault's collateralization ratio in percent
func (c *DeterministicCore) GetRatio(owner uuid.UUID) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v := c.vaults.GetVault(owner)
	if v == nil {
		return 0, errs.New(errs.ErrNotInitialized, "get_ratio", "no vault for %s", owner)
	}
	price, _ := c.oracle.Price()
	return v.Ratio(price), nil
}

func (c *DeterministicCore) GetPoolSummary() PoolSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	reserves := c.pool.Reserves()
	totals := c.vaults.Totals()
	price, _ := c.oracle.Price()

	return PoolSummary{
		PoolCollateral:        reserves.Collateral,
		PoolLiability:         reserves.Liability,
		TotalLiabilitySupply:  totals.TotalLiabilitySupply,
		Price:                 price,
		TotalShares:           reserves.TotalShares,
		TotalCollateralLocked: totals.TotalCollateralLocked,
	}
}

// GetShareRecord returns a copy of the caller's pool share record
func (c *DeterministicCore) GetShareRecord(owner uuid.UUID) (state.ShareRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec := c.pool.GetShareRecord(owner)
	if rec == nil {
		return state.ShareRecord{}, false
	}
	return *rec, true
}

// GetBalance returns a user's wallet balance
func (c *DeterministicCore) GetBalance(owner uuid.UUID, assetID ledger.AssetID) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balanceTracker.GetUserBalance(owner, assetID)
}

// GetAccountBalance returns any account's balance, boundary accounts included
func (c *DeterministicCore) GetAccountBalance(key ledger.AccountKey) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balanceTracker.GetBalance(key)
}

// GetPrice returns the oracle price and whether it has been initialized
func (c *DeterministicCore) GetPrice() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.oracle.Price()
}

// GetNextNonce returns the nonce the caller must use next
func (c *DeterministicCore) GetNextNonce(caller uuid.UUID) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nonces.Next(caller)
}

// GetSequence returns the next global sequence number to assign.
func (c *DeterministicCore) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chain.Tip()
}
