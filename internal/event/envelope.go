package event

import (
	"github.com/google/uuid"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitializePrice
	EventTypeUpdatePrice
	EventTypeExternalDeposit
	EventTypeExternalWithdrawal
	EventTypeTransfer
	EventTypeDepositCollateral
	EventTypeMintLiability
	EventTypeBurnLiability
	EventTypeAddLiquidity
	EventTypeRemoveLiquidity
)

// EventEnvelope wraps every applied command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Account the command acts for
	Caller uuid.UUID

	// Execution-environment height (NOT wall-clock)
	Height int64

	// Per-caller nonce for ordering validation
	SourceSequence int64

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// CallerID returns the trusted caller identity
	CallerID() uuid.UUID

	// SourceSequence returns the caller's nonce
	SourceSequence() int64

	// BlockHeight returns the execution-environment height
	BlockHeight() int64
}

// Header carries the fields every command shares
type Header struct {
	RequestID string    `json:"request_id"`
	Caller    uuid.UUID `json:"caller"`
	Nonce     int64     `json:"nonce"`
	Height    int64     `json:"height"`
}

func (h Header) IdempotencyKey() string { return h.RequestID }
func (h Header) CallerID() uuid.UUID    { return h.Caller }
func (h Header) SourceSequence() int64  { return h.Nonce }
func (h Header) BlockHeight() int64     { return h.Height }

func (et EventType) String() string {
	switch et {
	case EventTypeInitializePrice:
		return "InitializePrice"
	case EventTypeUpdatePrice:
		return "UpdatePrice"
	case EventTypeExternalDeposit:
		return "ExternalDeposit"
	case EventTypeExternalWithdrawal:
		return "ExternalWithdrawal"
	case EventTypeTransfer:
		return "Transfer"
	case EventTypeDepositCollateral:
		return "DepositCollateral"
	case EventTypeMintLiability:
		return "MintLiability"
	case EventTypeBurnLiability:
		return "BurnLiability"
	case EventTypeAddLiquidity:
		return "AddLiquidity"
	case EventTypeRemoveLiquidity:
		return "RemoveLiquidity"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String
func ParseEventType(s string) EventType {
	for et := EventTypeInitializePrice; et <= EventTypeRemoveLiquidity; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}

// AllEventTypes lists every known command type
func AllEventTypes() []EventType {
	out := make([]EventType, 0, int(EventTypeRemoveLiquidity))
	for et := EventTypeInitializePrice; et <= EventTypeRemoveLiquidity; et++ {
		out = append(out, et)
	}
	return out
}
