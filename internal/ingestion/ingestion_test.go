package ingestion_test

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/errs"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func rawFromJSON(t *testing.T, subject string, v interface{}) (ingestion.RawEvent, *ackRecorder) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec := &ackRecorder{}
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() { rec.acks++ },
		NakFunc:   func() { rec.naks++ },
	}, rec
}

type ackRecorder struct {
	acks, naks int
}

// ============================================================================
// Test: Subjects
// ============================================================================

func TestSubjectToken(t *testing.T) {
	cases := map[event.EventType]string{
		event.EventTypeInitializePrice:    "initialize_price",
		event.EventTypeExternalWithdrawal: "external_withdrawal",
		event.EventTypeTransfer:           "transfer",
		event.EventTypeRemoveLiquidity:    "remove_liquidity",
	}
	for et, want := range cases {
		if got := ingestion.SubjectToken(et); got != want {
			t.Errorf("SubjectToken(%s): got %q, want %q", et, got, want)
		}
	}
}

func TestDefaultSubjects_CoverEveryCommand(t *testing.T) {
	subjects := ingestion.DefaultSubjects()
	if len(subjects) != len(event.AllEventTypes()) {
		t.Fatalf("subjects: got %d, want %d", len(subjects), len(event.AllEventTypes()))
	}

	seen := make(map[string]bool)
	for _, s := range subjects {
		if seen[s.ConsumerName] {
			t.Errorf("duplicate consumer name %s", s.ConsumerName)
		}
		seen[s.ConsumerName] = true
		if s.StreamName != ingestion.CommandStream {
			t.Errorf("%s: stream %s", s.Subject, s.StreamName)
		}
	}
}

func TestResolveEventType(t *testing.T) {
	subjects := ingestion.DefaultSubjects()

	cases := []struct {
		subject string
		want    event.EventType
	}{
		{"vault.commands.mint_liability.user-1", event.EventTypeMintLiability},
		{"vault.commands.transfer.a.b", event.EventTypeTransfer},
		{"vault.commands.update_price.oracle", event.EventTypeUpdatePrice},
		{"vault.commands.transfers.x", event.EventTypeUnknown},
		{"other.subject", event.EventTypeUnknown},
	}
	for _, tc := range cases {
		if got := ingestion.ResolveEventType(tc.subject, subjects); got != tc.want {
			t.Errorf("ResolveEventType(%s): got %s, want %s", tc.subject, got, tc.want)
		}
	}
}

// ============================================================================
// Test: Parser
// ============================================================================

func TestParseCommand_AddLiquidity(t *testing.T) {
	caller := uuid.New()
	data := []byte(fmt.Sprintf(`{
		"request_id": "r-1",
		"caller": %q,
		"nonce": 3,
		"height": 77,
		"collateral_amount": 50000000,
		"liability_amount": 2500000000
	}`, caller))

	evt, err := ingestion.ParseCommand(event.EventTypeAddLiquidity, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	add, ok := evt.(*event.AddLiquidity)
	if !ok {
		t.Fatalf("expected *event.AddLiquidity, got %T", evt)
	}
	if add.CollateralAmount != 50_000_000 {
		t.Errorf("collateral: got %d, want 50_000_000", add.CollateralAmount)
	}
	if add.LiabilityAmount != 2_500_000_000 {
		t.Errorf("liability: got %d, want 2_500_000_000", add.LiabilityAmount)
	}
	if add.Caller != caller || add.Nonce != 3 || add.Height != 77 || add.RequestID != "r-1" {
		t.Errorf("header: %+v", add.Header)
	}
}

func TestParseCommand_Rejects(t *testing.T) {
	caller := uuid.New().String()

	cases := []struct {
		name string
		et   event.EventType
		body string
	}{
		{"unknown field", event.EventTypeMintLiability, `{"request_id":"r","caller":"` + caller + `","amount":1,"amonut":2}`},
		{"missing request id", event.EventTypeMintLiability, `{"caller":"` + caller + `","amount":1}`},
		{"missing caller", event.EventTypeMintLiability, `{"request_id":"r","amount":1}`},
		{"bad caller", event.EventTypeMintLiability, `{"request_id":"r","caller":"nope","amount":1}`},
		{"negative nonce", event.EventTypeMintLiability, `{"request_id":"r","caller":"` + caller + `","nonce":-1,"amount":1}`},
		{"string amount", event.EventTypeBurnLiability, `{"request_id":"r","caller":"` + caller + `","amount":"1"}`},
		{"trailing data", event.EventTypeBurnLiability, `{"request_id":"r","caller":"` + caller + `","amount":1} {}`},
	}
	for _, tc := range cases {
		if _, err := ingestion.ParseCommand(tc.et, []byte(tc.body)); !errors.Is(err, ingestion.ErrInvalidPayload) {
			t.Errorf("%s: expected ErrInvalidPayload, got %v", tc.name, err)
		}
	}

	if _, err := ingestion.ParseCommand(event.EventTypeUnknown, []byte(`{}`)); !errors.Is(err, ingestion.ErrUnknownCommand) {
		t.Errorf("unknown type: expected ErrUnknownCommand, got %v", err)
	}
}

// ============================================================================
// Test: Publisher
// ============================================================================

func TestPublishableEvent(t *testing.T) {
	env := &event.EventEnvelope{
		Sequence:       9,
		IdempotencyKey: "k",
		EventType:      event.EventTypeBurnLiability,
		Caller:         uuid.New(),
		Payload:        []byte(`{"amount":5}`),
	}
	env.StateHash[0] = 0xab

	pe := ingestion.NewPublishableEvent(env)
	if pe.Subject() != "vault.ledger.events.burn_liability" {
		t.Errorf("subject: got %s", pe.Subject())
	}
	if pe.StateHash[:2] != "ab" || len(pe.StateHash) != 64 {
		t.Errorf("state hash: got %s", pe.StateHash)
	}

	data, err := json.Marshal(pe)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if string(decoded["payload"]) != `{"amount":5}` {
		t.Errorf("payload should be embedded verbatim, got %s", decoded["payload"])
	}
}

// ============================================================================
// Test: IngestService
// ============================================================================

type stubProcessor struct {
	err    error
	result core.Result
	got    []event.Event
}

func (s *stubProcessor) ProcessEvent(_ context.Context, evt event.Event) (core.Result, error) {
	s.got = append(s.got, evt)
	return s.result, s.err
}

func runOne(t *testing.T, proc *stubProcessor, raw ingestion.RawEvent) {
	t.Helper()
	svc := ingestion.NewIngestService(proc, observability.NewMetricsWith(prometheus.NewRegistry()), observability.NewNopLogger())

	ch := make(chan ingestion.RawEvent, 1)
	ch <- raw
	close(ch)
	svc.Run(context.Background(), ch)
}

func mintBody() map[string]interface{} {
	return map[string]interface{}{
		"request_id": "r-1",
		"caller":     uuid.New().String(),
		"nonce":      0,
		"amount":     100,
	}
}

func TestIngestService_AckPolicy(t *testing.T) {
	const subject = "vault.commands.mint_liability.x"

	cases := []struct {
		name      string
		procErr   error
		wantAcks  int
		wantNaks  int
		wantCalls int
	}{
		{"applied", nil, 1, 0, 1},
		{"business rejection", errs.New(errs.ErrInsufficientCollateral, "mint_liability", "ratio"), 1, 0, 1},
		{"stale nonce", core.ErrNonceOutOfOrder, 1, 0, 1},
		{"nonce gap", fmt.Errorf("%w: expected 0, got 4", core.ErrNonceGap), 0, 1, 1},
	}

	for _, tc := range cases {
		proc := &stubProcessor{err: tc.procErr}
		raw, rec := rawFromJSON(t, subject, mintBody())
		runOne(t, proc, raw)

		if rec.acks != tc.wantAcks || rec.naks != tc.wantNaks {
			t.Errorf("%s: acks=%d naks=%d, want %d/%d", tc.name, rec.acks, rec.naks, tc.wantAcks, tc.wantNaks)
		}
		if len(proc.got) != tc.wantCalls {
			t.Errorf("%s: core calls %d, want %d", tc.name, len(proc.got), tc.wantCalls)
		}
	}
}

func TestIngestService_DropsUndecodable(t *testing.T) {
	proc := &stubProcessor{}

	raw, rec := rawFromJSON(t, "vault.commands.unknown_thing.x", mintBody())
	runOne(t, proc, raw)
	if rec.acks != 1 || len(proc.got) != 0 {
		t.Errorf("unknown subject: acks=%d calls=%d", rec.acks, len(proc.got))
	}

	raw, rec = rawFromJSON(t, "vault.commands.mint_liability.x", map[string]string{"amount": "lots"})
	runOne(t, proc, raw)
	if rec.acks != 1 || len(proc.got) != 0 {
		t.Errorf("bad body: acks=%d calls=%d", rec.acks, len(proc.got))
	}
}

func TestIngestService_Submit(t *testing.T) {
	proc := &stubProcessor{result: core.Result{Sequence: 12}}
	svc := ingestion.NewIngestService(proc, nil, observability.NewNopLogger())

	body, _ := json.Marshal(mintBody())
	res, err := svc.Submit(context.Background(), event.EventTypeMintLiability, body)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Sequence != 12 {
		t.Errorf("sequence: got %d, want 12", res.Sequence)
	}
	if _, ok := proc.got[0].(*event.MintLiability); !ok {
		t.Errorf("core received %T", proc.got[0])
	}
}
