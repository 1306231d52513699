// internal/event/pool.go
package event

type AddLiquidity struct {
	Header
	CollateralAmount int64 `json:"collateral_amount"`
	LiabilityAmount  int64 `json:"liability_amount"`
}

func (e *AddLiquidity) EventType() EventType {
	return EventTypeAddLiquidity
}

type RemoveLiquidity struct {
	Header
	Shares int64 `json:"shares"`
}

func (e *RemoveLiquidity) EventType() EventType {
	return EventTypeRemoveLiquidity
}
