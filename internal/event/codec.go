package event

import (
	"encoding/json"
	"fmt"
)

// New returns a zero command for the type, or nil if unknown
func New(et EventType) Event {
	switch et {
	case EventTypeInitializePrice:
		return &InitializePrice{}
	case EventTypeUpdatePrice:
		return &UpdatePrice{}
	case EventTypeExternalDeposit:
		return &ExternalDeposit{}
	case EventTypeExternalWithdrawal:
		return &ExternalWithdrawal{}
	case EventTypeTransfer:
		return &Transfer{}
	case EventTypeDepositCollateral:
		return &DepositCollateral{}
	case EventTypeMintLiability:
		return &MintLiability{}
	case EventTypeBurnLiability:
		return &BurnLiability{}
	case EventTypeAddLiquidity:
		return &AddLiquidity{}
	case EventTypeRemoveLiquidity:
		return &RemoveLiquidity{}
	default:
		return nil
	}
}

// Encode serializes a command for the event log
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return data, nil
}

// Decode restores a command from the event log
func Decode(et EventType, payload []byte) (Event, error) {
	evt := New(et)
	if evt == nil {
		return nil, fmt.Errorf("decode: unknown event type %d", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
