// internal/event/vault.go
package event

type DepositCollateral struct {
	Header
	Amount int64 `json:"amount"`
}

func (e *DepositCollateral) EventType() EventType {
	return EventTypeDepositCollateral
}

type MintLiability struct {
	Header
	Amount int64 `json:"amount"`
}

func (e *MintLiability) EventType() EventType {
	return EventTypeMintLiability
}

type BurnLiability struct {
	Header
	Amount int64 `json:"amount"`
}

func (e *BurnLiability) EventType() EventType {
	return EventTypeBurnLiability
}
