package state

import (
	"VaultLedger/internal/errs"
	fpmath "VaultLedger/internal/math"
	"math"
	"sort"

	"github.com/google/uuid"
)

// Vault is one account's collateralized debt position
type Vault struct {
	Owner            uuid.UUID
	CollateralLocked int64
	LiabilityMinted  int64
	LastUpdateHeight int64
}

// ComputeRatio returns collateral*price*100 / (CollateralScale*liability) in
// percent, truncated. Zero liability reports PricePrecision. A ratio too
// large for int64 saturates.
func ComputeRatio(collateral, liability, price int64) int64 {
	if liability == 0 {
		return PricePrecision
	}
	ratio, ok := fpmath.ScaledQuotient(
		[]int64{collateral, price, 100},
		[]int64{CollateralScale, liability},
	)
	if !ok {
		return math.MaxInt64
	}
	return ratio
}

// CollateralValue converts collateral base units into liability units at price.
func CollateralValue(collateral, price int64) int64 {
	value, ok := fpmath.MulDiv(collateral, price, CollateralScale)
	if !ok {
		return math.MaxInt64
	}
	return value
}

// Ratio returns the vault's collateralization ratio at price
func (v *Vault) Ratio(price int64) int64 {
	return ComputeRatio(v.CollateralLocked, v.LiabilityMinted, price)
}

// VaultTotals are the global vault aggregates
type VaultTotals struct {
	TotalCollateralLocked int64
	TotalLiabilitySupply  int64
}

// VaultManager owns every vault and the global supply
type VaultManager struct {
	vaults map[uuid.UUID]*Vault
	totals VaultTotals
}

func NewVaultManager() *VaultManager {
	return &VaultManager{
		vaults: make(map[uuid.UUID]*Vault),
	}
}

// GetVault returns the vault or nil
func (vm *VaultManager) GetVault(owner uuid.UUID) *Vault {
	return vm.vaults[owner]
}

func (vm *VaultManager) Totals() VaultTotals {
	return vm.totals
}

// ValidateDeposit checks a deposit_collateral request
func (vm *VaultManager) ValidateDeposit(amount int64) error {
	if amount < MinDeposit {
		return errs.New(errs.ErrBelowMinimum, "deposit_collateral", "amount %d < minimum %d", amount, MinDeposit)
	}
	if _, ok := fpmath.AddChecked(vm.totals.TotalCollateralLocked, amount); !ok {
		return errs.New(errs.ErrAboveMaximum, "deposit_collateral", "total collateral overflows")
	}
	return nil
}

// ApplyDeposit locks collateral, creating the vault on first use. The
// caller must have moved the collateral into custody already.
func (vm *VaultManager) ApplyDeposit(owner uuid.UUID, amount, height int64) *Vault {
	v := vm.vaults[owner]
	if v == nil {
		v = &Vault{Owner: owner}
		vm.vaults[owner] = v
	}
	v.CollateralLocked += amount
	v.LastUpdateHeight = height
	vm.totals.TotalCollateralLocked += amount
	return v
}

// ValidateMint checks a mint_liability request. custodialCollateral is all
// collateral held in custody (vaults plus pool); the global supply may never
// exceed its value at price.
func (vm *VaultManager) ValidateMint(owner uuid.UUID, amount, price, custodialCollateral int64) error {
	const op = "mint_liability"

	v := vm.vaults[owner]
	if v == nil {
		return errs.New(errs.ErrNotInitialized, op, "no vault for %s", owner)
	}
	if amount <= 0 {
		return errs.New(errs.ErrInvalidAmount, op, "amount must be positive, got %d", amount)
	}
	if amount > MaxMintPerCall {
		return errs.New(errs.ErrInvalidAmount, op, "amount %d exceeds per-call maximum %d", amount, MaxMintPerCall)
	}

	newLiability, ok := fpmath.AddChecked(v.LiabilityMinted, amount)
	if !ok {
		return errs.New(errs.ErrAboveMaximum, op, "vault liability overflows")
	}
	newSupply, ok := fpmath.AddChecked(vm.totals.TotalLiabilitySupply, amount)
	if !ok {
		return errs.New(errs.ErrAboveMaximum, op, "global supply overflows")
	}

	capValue := CollateralValue(custodialCollateral, price)
	if amount > capValue-vm.totals.TotalLiabilitySupply {
		return errs.New(errs.ErrInvalidAmount, op, "supply %d + %d exceeds collateral value %d",
			vm.totals.TotalLiabilitySupply, amount, capValue)
	}

	if ratio := ComputeRatio(v.CollateralLocked, newLiability, price); ratio < MinCollateralRatio {
		return errs.New(errs.ErrInsufficientCollateral, op, "prospective ratio %d%% < %d%%", ratio, MinCollateralRatio)
	}

	return CheckSupplyCap(newSupply, custodialCollateral, price)
}

// CheckSupplyCap reports ErrAboveMaximum when supply exceeds the value of
// custodialCollateral at price. Mint runs it against the post-mint supply
// after the pre-check above has already passed.
func CheckSupplyCap(supply, custodialCollateral, price int64) error {
	if capValue := CollateralValue(custodialCollateral, price); supply > capValue {
		return errs.New(errs.ErrAboveMaximum, "mint_liability",
			"supply %d exceeds collateral value %d", supply, capValue)
	}
	return nil
}

// ApplyMint records validated issuance
func (vm *VaultManager) ApplyMint(owner uuid.UUID, amount, height int64) *Vault {
	v := vm.vaults[owner]
	v.LiabilityMinted += amount
	v.LastUpdateHeight = height
	vm.totals.TotalLiabilitySupply += amount
	return v
}

// ValidateBurn checks a burn_liability request. balance is the caller's
// liability wallet balance.
func (vm *VaultManager) ValidateBurn(owner uuid.UUID, amount, balance int64) error {
	const op = "burn_liability"

	if amount <= 0 {
		return errs.New(errs.ErrInvalidAmount, op, "amount must be positive, got %d", amount)
	}
	if balance < amount {
		return errs.New(errs.ErrInsufficientBalance, op, "balance %d < %d", balance, amount)
	}
	v := vm.vaults[owner]
	if v == nil {
		return errs.New(errs.ErrNotInitialized, op, "no vault for %s", owner)
	}
	// Liability can reach a wallet by transfer or pool redemption, so the
	// wallet balance alone does not bound the vault's debt.
	if v.LiabilityMinted < amount {
		return errs.New(errs.ErrInvalidAmount, op, "amount %d exceeds vault liability %d", amount, v.LiabilityMinted)
	}
	return nil
}

// ApplyBurn records validated retirement
func (vm *VaultManager) ApplyBurn(owner uuid.UUID, amount, height int64) *Vault {
	v := vm.vaults[owner]
	v.LiabilityMinted -= amount
	v.LastUpdateHeight = height
	vm.totals.TotalLiabilitySupply -= amount
	return v
}

// SumLiability recomputes Σ vault liability (for invariant checks)
func (vm *VaultManager) SumLiability() int64 {
	var sum int64
	for _, v := range vm.vaults {
		sum += v.LiabilityMinted
	}
	return sum
}

// SumCollateral recomputes Σ vault collateral (for invariant checks)
func (vm *VaultManager) SumCollateral() int64 {
	var sum int64
	for _, v := range vm.vaults {
		sum += v.CollateralLocked
	}
	return sum
}

// AllVaults returns copies of every vault ordered by owner
func (vm *VaultManager) AllVaults() []Vault {
	out := make([]Vault, 0, len(vm.vaults))
	for _, v := range vm.vaults {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Owner.String() < out[j].Owner.String()
	})
	return out
}

// Restore replaces all vaults from a snapshot and recomputes the totals.
func (vm *VaultManager) Restore(vaults []Vault) {
	vm.vaults = make(map[uuid.UUID]*Vault, len(vaults))
	vm.totals = VaultTotals{}
	for i := range vaults {
		v := vaults[i]
		vm.vaults[v.Owner] = &v
		vm.totals.TotalCollateralLocked += v.CollateralLocked
		vm.totals.TotalLiabilitySupply += v.LiabilityMinted
	}
}
