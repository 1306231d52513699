package ingestion

import (
	"VaultLedger/internal/event"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrUnknownCommand = errors.New("unknown command type")
	ErrInvalidPayload = errors.New("invalid command payload")
)

// ParseCommand decodes a JSON command body of the given type. Field names
// are snake_case and unknown fields are rejected, so a producer typo fails
// here instead of silently zeroing an amount.
func ParseCommand(et event.EventType, data []byte) (event.Event, error) {
	evt := event.New(et)
	if evt == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, et)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(evt); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidPayload, et, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: parse %s: trailing data", ErrInvalidPayload, et)
	}

	if evt.IdempotencyKey() == "" {
		return nil, fmt.Errorf("%w: %s: request_id is required", ErrInvalidPayload, et)
	}
	if evt.CallerID() == uuid.Nil {
		return nil, fmt.Errorf("%w: %s: caller is required", ErrInvalidPayload, et)
	}
	if evt.SourceSequence() < 0 {
		return nil, fmt.Errorf("%w: %s: nonce must be non-negative", ErrInvalidPayload, et)
	}

	return evt, nil
}

// ParseRawEvent resolves the command type from the NATS subject and decodes
// the message body.
func ParseRawEvent(raw RawEvent, subjects []SubjectConfig) (event.Event, error) {
	et := ResolveEventType(raw.Subject, subjects)
	if et == event.EventTypeUnknown {
		return nil, fmt.Errorf("%w: subject %s", ErrUnknownCommand, raw.Subject)
	}
	return ParseCommand(et, raw.Data)
}
