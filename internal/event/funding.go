// internal/event/funding.go
package event

import "github.com/google/uuid"

// ExternalDeposit credits an account with assets arriving from outside the
// ledger. Only the owner may submit it.
type ExternalDeposit struct {
	Header
	Account uuid.UUID `json:"account"`
	Asset   string    `json:"asset"`
	Amount  int64     `json:"amount"`
}

func (e *ExternalDeposit) EventType() EventType {
	return EventTypeExternalDeposit
}

// ExternalWithdrawal debits an account for assets leaving the ledger. Only
// the owner may submit it.
type ExternalWithdrawal struct {
	Header
	Account uuid.UUID `json:"account"`
	Asset   string    `json:"asset"`
	Amount  int64     `json:"amount"`
}

func (e *ExternalWithdrawal) EventType() EventType {
	return EventTypeExternalWithdrawal
}

// Transfer moves an asset from the caller to another account
type Transfer struct {
	Header
	To     uuid.UUID `json:"to"`
	Asset  string    `json:"asset"`
	Amount int64     `json:"amount"`
}

func (e *Transfer) EventType() EventType {
	return EventTypeTransfer
}
