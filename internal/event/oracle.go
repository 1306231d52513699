// internal/event/oracle.go
package event

// InitializePrice sets the collateral price exactly once
type InitializePrice struct {
	Header
	Price int64 `json:"price"` // 6 decimals
}

func (e *InitializePrice) EventType() EventType {
	return EventTypeInitializePrice
}

// UpdatePrice overwrites the collateral price
type UpdatePrice struct {
	Header
	Price int64 `json:"price"`
}

func (e *UpdatePrice) EventType() EventType {
	return EventTypeUpdatePrice
}
