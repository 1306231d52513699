package core

import (
	"VaultLedger/internal/errs"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"fmt"

	"github.com/google/uuid"
)

func (c *DeterministicCore) dispatchEvent(evt event.Event, bc ledger.BatchContext) (*commandPlan, error) {
	switch e := evt.(type) {
	case *event.InitializePrice:
		return c.handleInitializePrice(e)
	case *event.UpdatePrice:
		return c.handleUpdatePrice(e)
	case *event.ExternalDeposit:
		return c.handleExternalDeposit(e, bc)
	case *event.ExternalWithdrawal:
		return c.handleExternalWithdrawal(e, bc)
	case *event.Transfer:
		return c.handleTransfer(e, bc)
	case *event.DepositCollateral:
		return c.handleDepositCollateral(e, bc)
	case *event.MintLiability:
		return c.handleMintLiability(e, bc)
	case *event.BurnLiability:
		return c.handleBurnLiability(e, bc)
	case *event.AddLiquidity:
		return c.handleAddLiquidity(e, bc)
	case *event.RemoveLiquidity:
		return c.handleRemoveLiquidity(e, bc)
	default:
		return nil, fmt.Errorf("%w: unknown command type %T", ErrMalformedCommand, evt)
	}
}

func parseAsset(asset string) (ledger.AssetID, error) {
	id, ok := ledger.GetAssetID(asset)
	if !ok {
		return 0, fmt.Errorf("%w: unknown asset %q", ErrMalformedCommand, asset)
	}
	return id, nil
}

// --- Oracle ---

func (c *DeterministicCore) handleInitializePrice(evt *event.InitializePrice) (*commandPlan, error) {
	if err := c.oracle.ValidateInitialize(evt.Caller, evt.Price); err != nil {
		return nil, err
	}
	return &commandPlan{
		commit: func() { c.oracle.Initialize(evt.Price, evt.Height) },
	}, nil
}

func (c *DeterministicCore) handleUpdatePrice(evt *event.UpdatePrice) (*commandPlan, error) {
	if err := c.oracle.ValidateUpdate(evt.Caller, evt.Price); err != nil {
		return nil, err
	}
	return &commandPlan{
		commit: func() { c.oracle.SetPrice(evt.Price, evt.Height) },
	}, nil
}

// --- Boundary funding ---

// handleExternalDeposit credits an account from outside the ledger.
// Moves funds: external:funding → user:wallet
func (c *DeterministicCore) handleExternalDeposit(evt *event.ExternalDeposit, bc ledger.BatchContext) (*commandPlan, error) {
	assetID, err := c.checkFundingCommand("external_deposit", evt.Caller, evt.Account, evt.Asset, evt.Amount)
	if err != nil {
		return nil, err
	}
	return &commandPlan{
		batch: c.journalGen.GenerateExternalDeposit(bc, evt.Account, assetID, evt.Amount),
	}, nil
}

// handleExternalWithdrawal debits an account to outside the ledger.
// Moves funds: user:wallet → external:funding
func (c *DeterministicCore) handleExternalWithdrawal(evt *event.ExternalWithdrawal, bc ledger.BatchContext) (*commandPlan, error) {
	assetID, err := c.checkFundingCommand("external_withdrawal", evt.Caller, evt.Account, evt.Asset, evt.Amount)
	if err != nil {
		return nil, err
	}
	return &commandPlan{
		batch: c.journalGen.GenerateExternalWithdrawal(bc, evt.Account, assetID, evt.Amount),
	}, nil
}

func (c *DeterministicCore) checkFundingCommand(op string, caller, account uuid.UUID, asset string, amount int64) (ledger.AssetID, error) {
	if !c.authority.IsOwner(caller) {
		return 0, errs.New(errs.ErrNotAuthorized, op, "caller %s is not the owner", caller)
	}
	if account == uuid.Nil {
		return 0, fmt.Errorf("%w: nil account", ErrMalformedCommand)
	}
	assetID, err := parseAsset(asset)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, errs.New(errs.ErrInvalidAmount, op, "amount must be positive, got %d", amount)
	}
	return assetID, nil
}

// --- Balance ledger ---

func (c *DeterministicCore) handleTransfer(evt *event.Transfer, bc ledger.BatchContext) (*commandPlan, error) {
	assetID, err := parseAsset(evt.Asset)
	if err != nil {
		return nil, err
	}
	if evt.To == uuid.Nil {
		return nil, fmt.Errorf("%w: nil recipient", ErrMalformedCommand)
	}
	if evt.Amount <= 0 {
		return nil, errs.New(errs.ErrInvalidAmount, "transfer", "amount must be positive, got %d", evt.Amount)
	}
	if evt.To == evt.Caller {
		return nil, errs.New(errs.ErrInvalidAmount, "transfer", "sender and recipient are the same account")
	}
	return &commandPlan{
		batch: c.journalGen.GenerateTransfer(bc, evt.Caller, evt.To, assetID, evt.Amount),
	}, nil
}

// --- Vaults ---

// handleDepositCollateral locks collateral in the caller's vault.
// Moves funds: user:wallet:BTC → system:custody:BTC
func (c *DeterministicCore) handleDepositCollateral(evt *event.DepositCollateral, bc ledger.BatchContext) (*commandPlan, error) {
	if err := c.vaults.ValidateDeposit(evt.Amount); err != nil {
		return nil, err
	}

	owner := evt.Caller
	return &commandPlan{
		batch:      c.journalGen.GenerateCollateralLock(bc, owner, evt.Amount),
		commit:     func() { c.vaults.ApplyDeposit(owner, evt.Amount, evt.Height) },
		vaultOwner: &owner,
	}, nil
}

// handleMintLiability issues liability against the caller's vault.
// Moves funds: external:issuance:USDV → user:wallet:USDV
func (c *DeterministicCore) handleMintLiability(evt *event.MintLiability, bc ledger.BatchContext) (*commandPlan, error) {
	price, _ := c.oracle.Price()
	custodial := c.vaults.Totals().TotalCollateralLocked + c.pool.Reserves().Collateral

	if err := c.vaults.ValidateMint(evt.Caller, evt.Amount, price, custodial); err != nil {
		return nil, err
	}

	owner := evt.Caller
	return &commandPlan{
		batch:      c.journalGen.GenerateMint(bc, owner, evt.Amount),
		commit:     func() { c.vaults.ApplyMint(owner, evt.Amount, evt.Height) },
		vaultOwner: &owner,
	}, nil
}

// handleBurnLiability retires liability held by the caller.
// Moves funds: user:wallet:USDV → external:issuance:USDV
func (c *DeterministicCore) handleBurnLiability(evt *event.BurnLiability, bc ledger.BatchContext) (*commandPlan, error) {
	balance := c.balanceTracker.GetUserBalance(evt.Caller, ledger.AssetLiability)
	if err := c.vaults.ValidateBurn(evt.Caller, evt.Amount, balance); err != nil {
		return nil, err
	}

	owner := evt.Caller
	return &commandPlan{
		batch:      c.journalGen.GenerateBurn(bc, owner, evt.Amount),
		commit:     func() { c.vaults.ApplyBurn(owner, evt.Amount, evt.Height) },
		vaultOwner: &owner,
	}, nil
}

// --- Pool ---

// handleAddLiquidity moves both assets into custody and issues shares.
func (c *DeterministicCore) handleAddLiquidity(evt *event.AddLiquidity, bc ledger.BatchContext) (*commandPlan, error) {
	shares, err := c.pool.QuoteAdd(evt.CollateralAmount, evt.LiabilityAmount)
	if err != nil {
		return nil, err
	}

	owner := evt.Caller
	return &commandPlan{
		batch: c.journalGen.GenerateLiquidityAdd(bc, owner, evt.CollateralAmount, evt.LiabilityAmount),
		commit: func() {
			c.pool.ApplyAdd(owner, evt.CollateralAmount, evt.LiabilityAmount, shares)
		},
		result:     Result{Shares: shares},
		shareOwner: &owner,
	}, nil
}

// handleRemoveLiquidity burns shares and returns the pro-rata reserves.
func (c *DeterministicCore) handleRemoveLiquidity(evt *event.RemoveLiquidity, bc ledger.BatchContext) (*commandPlan, error) {
	redemption, err := c.pool.QuoteRemove(evt.Caller, evt.Shares)
	if err != nil {
		return nil, err
	}

	owner := evt.Caller
	return &commandPlan{
		batch:  c.journalGen.GenerateLiquidityRemove(bc, owner, redemption.Collateral, redemption.Liability),
		commit: func() { c.pool.ApplyRemove(owner, redemption) },
		result: Result{
			CollateralReturned: redemption.Collateral,
			LiabilityReturned:  redemption.Liability,
		},
		shareOwner: &owner,
	}, nil
}
