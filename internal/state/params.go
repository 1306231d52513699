package state

// Protocol parameters. All amounts are integers in the smallest unit of
// their asset.
const (
	// PricePrecision is the fixed-point scale of a price (6 decimals). A
	// vault with no liability reports this value as its ratio.
	PricePrecision int64 = 1_000_000

	// MaxPrice is 1,000,000.000000 liability units per whole collateral unit.
	MaxPrice int64 = 1_000_000_000_000

	// CollateralScale converts collateral base units to whole units (8 decimals).
	CollateralScale int64 = 100_000_000

	MinDeposit     int64 = 100_000
	MaxMintPerCall int64 = 1_000_000_000_000

	// Collateralization ratios, in percent.
	MinCollateralRatio int64 = 150
	LiquidationRatio   int64 = 120 // reserved: no liquidation path consumes it

	TradingFeeBps int64 = 30 // reserved: no swap path consumes it
)
