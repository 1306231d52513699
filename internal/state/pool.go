package state

import (
	"VaultLedger/internal/errs"
	fpmath "VaultLedger/internal/math"
	"sort"

	"github.com/google/uuid"
)

// PoolReserves are the pool's global balances
type PoolReserves struct {
	Collateral  int64
	Liability   int64
	TotalShares int64
}

// IsEmpty reports whether no liquidity has ever been supplied or all of it
// has been withdrawn.
func (r PoolReserves) IsEmpty() bool {
	return r.TotalShares == 0
}

// ShareRecord is one provider's stake in the pool
type ShareRecord struct {
	Owner              uuid.UUID
	Shares             int64
	CollateralProvided int64
	LiabilityProvided  int64
}

// Redemption is what a share burn returns
type Redemption struct {
	Shares     int64
	Collateral int64
	Liability  int64
}

// PoolManager owns the pool reserves and share records
type PoolManager struct {
	reserves PoolReserves
	records  map[uuid.UUID]*ShareRecord
}

func NewPoolManager() *PoolManager {
	return &PoolManager{
		records: make(map[uuid.UUID]*ShareRecord),
	}
}

func (pm *PoolManager) Reserves() PoolReserves {
	return pm.reserves
}

// GetShareRecord returns the record or nil
func (pm *PoolManager) GetShareRecord(owner uuid.UUID) *ShareRecord {
	return pm.records[owner]
}

// QuoteAdd validates an add_liquidity request and returns the shares it
// would issue. An empty pool issues floor(sqrt(c*l)); otherwise
// floor(c * sqrt(poolC*poolL) / poolC).
func (pm *PoolManager) QuoteAdd(collateral, liability int64) (int64, error) {
	const op = "add_liquidity"

	if collateral <= 0 || liability <= 0 {
		return 0, errs.New(errs.ErrInvalidAmount, op, "amounts must be positive, got %d/%d", collateral, liability)
	}

	var shares int64
	if pm.reserves.IsEmpty() {
		shares = fpmath.SqrtProduct(collateral, liability)
	} else {
		var ok bool
		shares, ok = fpmath.MulSqrtDiv(collateral, pm.reserves.Collateral, pm.reserves.Liability, pm.reserves.Collateral)
		if !ok {
			return 0, errs.New(errs.ErrAboveMaximum, op, "share issuance overflows")
		}
	}

	if shares <= 0 {
		return 0, errs.New(errs.ErrInvalidAmount, op, "deposit %d/%d issues no shares", collateral, liability)
	}

	if _, ok := fpmath.AddChecked(pm.reserves.Collateral, collateral); !ok {
		return 0, errs.New(errs.ErrAboveMaximum, op, "pool collateral overflows")
	}
	if _, ok := fpmath.AddChecked(pm.reserves.Liability, liability); !ok {
		return 0, errs.New(errs.ErrAboveMaximum, op, "pool liability overflows")
	}
	if _, ok := fpmath.AddChecked(pm.reserves.TotalShares, shares); !ok {
		return 0, errs.New(errs.ErrAboveMaximum, op, "total shares overflow")
	}

	return shares, nil
}

// ApplyAdd records a quoted deposit
func (pm *PoolManager) ApplyAdd(owner uuid.UUID, collateral, liability, shares int64) *ShareRecord {
	rec := pm.records[owner]
	if rec == nil {
		rec = &ShareRecord{Owner: owner}
		pm.records[owner] = rec
	}
	rec.Shares += shares
	rec.CollateralProvided += collateral
	rec.LiabilityProvided += liability

	pm.reserves.Collateral += collateral
	pm.reserves.Liability += liability
	pm.reserves.TotalShares += shares
	return rec
}

// QuoteRemove validates a remove_liquidity request and computes the
// pro-rata return against total shares outstanding.
func (pm *PoolManager) QuoteRemove(owner uuid.UUID, shares int64) (Redemption, error) {
	const op = "remove_liquidity"

	rec := pm.records[owner]
	if rec == nil {
		return Redemption{}, errs.New(errs.ErrNotInitialized, op, "no share record for %s", owner)
	}
	if shares <= 0 {
		return Redemption{}, errs.New(errs.ErrInvalidAmount, op, "shares must be positive, got %d", shares)
	}
	if shares > rec.Shares {
		return Redemption{}, errs.New(errs.ErrInsufficientBalance, op, "shares %d > held %d", shares, rec.Shares)
	}

	// rec.Shares > 0 implies TotalShares > 0, and shares <= TotalShares keeps
	// both quotients within the reserves.
	collateral, _ := fpmath.MulDiv(shares, pm.reserves.Collateral, pm.reserves.TotalShares)
	liability, _ := fpmath.MulDiv(shares, pm.reserves.Liability, pm.reserves.TotalShares)

	return Redemption{Shares: shares, Collateral: collateral, Liability: liability}, nil
}

// ApplyRemove records a quoted redemption. The record persists at zero.
func (pm *PoolManager) ApplyRemove(owner uuid.UUID, r Redemption) *ShareRecord {
	rec := pm.records[owner]
	rec.Shares -= r.Shares
	rec.CollateralProvided = max(rec.CollateralProvided-r.Collateral, 0)
	rec.LiabilityProvided = max(rec.LiabilityProvided-r.Liability, 0)

	pm.reserves.Collateral -= r.Collateral
	pm.reserves.Liability -= r.Liability
	pm.reserves.TotalShares -= r.Shares
	return rec
}

// SumShares recomputes Σ record shares (for invariant checks)
func (pm *PoolManager) SumShares() int64 {
	var sum int64
	for _, rec := range pm.records {
		sum += rec.Shares
	}
	return sum
}

// AllRecords returns copies of every share record ordered by owner
func (pm *PoolManager) AllRecords() []ShareRecord {
	out := make([]ShareRecord, 0, len(pm.records))
	for _, rec := range pm.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Owner.String() < out[j].Owner.String()
	})
	return out
}

// Restore replaces the pool from a snapshot
func (pm *PoolManager) Restore(reserves PoolReserves, records []ShareRecord) {
	pm.reserves = reserves
	pm.records = make(map[uuid.UUID]*ShareRecord, len(records))
	for i := range records {
		rec := records[i]
		pm.records[rec.Owner] = &rec
	}
}
