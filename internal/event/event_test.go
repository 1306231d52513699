package event_test

import (
	"VaultLedger/internal/event"
	"testing"

	"github.com/google/uuid"
)

func TestParseEventType_RoundTrip(t *testing.T) {
	for _, et := range event.AllEventTypes() {
		if got := event.ParseEventType(et.String()); got != et {
			t.Errorf("%s: got %v", et, got)
		}
	}
	if event.ParseEventType("TradeFill") != event.EventTypeUnknown {
		t.Error("unknown name should map to EventTypeUnknown")
	}
}

func TestNew_TypeMatches(t *testing.T) {
	for _, et := range event.AllEventTypes() {
		evt := event.New(et)
		if evt == nil {
			t.Fatalf("%s: New returned nil", et)
		}
		if evt.EventType() != et {
			t.Errorf("%s: New returned %s", et, evt.EventType())
		}
	}
}

func TestDecode_ReadsHeaderAndPayload(t *testing.T) {
	caller := uuid.New()
	orig := &event.AddLiquidity{
		Header:           event.Header{RequestID: "req-9", Caller: caller, Nonce: 4, Height: 77},
		CollateralAmount: 50_000_000,
		LiabilityAmount:  2_500_000_000,
	}

	data, err := event.Encode(orig)
	if err != nil {
		t.Fatal(err)
	}

	evt, err := event.Decode(event.EventTypeAddLiquidity, data)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := evt.(*event.AddLiquidity)
	if !ok {
		t.Fatalf("got %T", evt)
	}
	if *got != *orig {
		t.Errorf("got %+v, want %+v", *got, *orig)
	}
	if got.IdempotencyKey() != "req-9" || got.CallerID() != caller || got.SourceSequence() != 4 || got.BlockHeight() != 77 {
		t.Error("header accessors mismatch")
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := event.Decode(event.EventTypeUnknown, []byte("{}")); err == nil {
		t.Error("expected error for unknown type")
	}
}
