package state

import (
	"VaultLedger/internal/errs"

	"github.com/google/uuid"
)

// Authority decides whether a caller may set the price.
type Authority interface {
	IsOwner(id uuid.UUID) bool
}

// StaticAuthority grants price control to a single configured owner.
type StaticAuthority struct {
	Owner uuid.UUID
}

func (a StaticAuthority) IsOwner(id uuid.UUID) bool {
	return id != uuid.Nil && id == a.Owner
}

// OracleState is the restorable view of the oracle
type OracleState struct {
	Price            int64
	Initialized      bool
	LastUpdateHeight int64
}

// PriceOracle holds the single collateral price (6 decimals).
type PriceOracle struct {
	authority Authority
	state     OracleState
}

func NewPriceOracle(authority Authority) *PriceOracle {
	return &PriceOracle{authority: authority}
}

// ValidatePrice enforces 0 < price <= MaxPrice
func ValidatePrice(op string, price int64) error {
	if price <= 0 || price > MaxPrice {
		return errs.New(errs.ErrInvalidPrice, op, "price %d outside (0, %d]", price, MaxPrice)
	}
	return nil
}

// ValidateInitialize checks an initialize_price request without mutating.
func (o *PriceOracle) ValidateInitialize(caller uuid.UUID, price int64) error {
	if o.state.Initialized {
		return errs.New(errs.ErrAlreadyInitialized, "initialize_price", "price already set")
	}
	if !o.authority.IsOwner(caller) {
		return errs.New(errs.ErrNotAuthorized, "initialize_price", "caller %s is not the owner", caller)
	}
	return ValidatePrice("initialize_price", price)
}

// ValidateUpdate checks an update_price request without mutating. Updating
// does not require a prior initialize.
func (o *PriceOracle) ValidateUpdate(caller uuid.UUID, price int64) error {
	if !o.authority.IsOwner(caller) {
		return errs.New(errs.ErrNotAuthorized, "update_price", "caller %s is not the owner", caller)
	}
	return ValidatePrice("update_price", price)
}

// Initialize stores the first validated price and closes initialization.
func (o *PriceOracle) Initialize(price, height int64) {
	o.state = OracleState{Price: price, Initialized: true, LastUpdateHeight: height}
}

// SetPrice stores a validated update. It leaves the initialization flag
// alone, so initialize_price still succeeds once after an update.
func (o *PriceOracle) SetPrice(price, height int64) {
	o.state.Price = price
	o.state.LastUpdateHeight = height
}

// Price returns the current price and whether one has been set. An unset
// price reads as zero, which values all collateral at nothing.
func (o *PriceOracle) Price() (int64, bool) {
	return o.state.Price, o.state.Price > 0
}

// Initialized reports whether initialize_price has succeeded.
func (o *PriceOracle) Initialized() bool {
	return o.state.Initialized
}

func (o *PriceOracle) State() OracleState {
	return o.state
}

// Restore replaces the oracle state from a snapshot.
func (o *PriceOracle) Restore(s OracleState) {
	o.state = s
}
