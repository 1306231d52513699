package core_test

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/state"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Test: NonceTracker
// ============================================================================

func TestNonceTracker_CheckDoesNotConsume(t *testing.T) {
	nt := core.NewNonceTracker()
	caller := uuid.New()

	if err := nt.Check(caller, 0, false); err != nil {
		t.Fatalf("first nonce: %v", err)
	}
	if err := nt.Check(caller, 0, false); err != nil {
		t.Fatalf("unconsumed nonce rejected on retry: %v", err)
	}

	nt.Consume(caller, 0)
	if got := nt.Next(caller); got != 1 {
		t.Errorf("next: got %d, want 1", got)
	}

	if err := nt.Check(caller, 3, false); !errors.Is(err, core.ErrNonceGap) {
		t.Errorf("expected ErrNonceGap, got %v", err)
	}
	if err := nt.Check(caller, 0, false); !errors.Is(err, core.ErrNonceOutOfOrder) {
		t.Errorf("expected ErrNonceOutOfOrder, got %v", err)
	}
	if err := nt.Check(caller, 0, true); err != nil {
		t.Errorf("stale duplicate should pass: %v", err)
	}
}

func TestNonceTracker_ExportRestore(t *testing.T) {
	nt := core.NewNonceTracker()
	a, b := uuid.New(), uuid.New()

	nt.Consume(a, 0)
	nt.Consume(a, 1)

	exported := nt.Export()
	exported[b] = 10

	if nt.Next(b) != 0 {
		t.Error("Export must return a copy")
	}

	restored := core.NewNonceTracker()
	restored.Restore(exported)
	if restored.Next(a) != 2 || restored.Next(b) != 10 {
		t.Errorf("restored: a=%d b=%d", restored.Next(a), restored.Next(b))
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

type fakeEventLog struct {
	keys  map[string]bool
	err   error
	calls int
}

func (f *fakeEventLog) IsDuplicate(_ context.Context, eventType, key string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.keys[eventType+"/"+key], nil
}

func TestIdempotency_Tiers(t *testing.T) {
	db := &fakeEventLog{keys: map[string]bool{"Transfer/old": true}}
	ic := core.NewIdempotencyChecker(8, db)
	ctx := context.Background()

	tier, err := ic.Lookup(ctx, "Transfer", "new")
	if err != nil || tier != core.TierNone {
		t.Fatalf("unseen key: tier %q err %v", tier, err)
	}

	tier, _ = ic.Lookup(ctx, "Transfer", "old")
	if tier != core.TierPostgres {
		t.Errorf("logged key: got tier %q, want %q", tier, core.TierPostgres)
	}

	// Promoted into the LRU: the database is not asked again.
	calls := db.calls
	tier, _ = ic.Lookup(ctx, "Transfer", "old")
	if tier != core.TierLRU {
		t.Errorf("promoted key: got tier %q, want %q", tier, core.TierLRU)
	}
	if db.calls != calls {
		t.Error("LRU hit should not query the event log")
	}

	ic.MarkProcessed("Transfer", "new")
	if tier, _ := ic.Lookup(ctx, "Transfer", "new"); tier != core.TierLRU {
		t.Errorf("marked key: got tier %q", tier)
	}

	// Keys are scoped by command type.
	if tier, _ := ic.Lookup(ctx, "MintLiability", "new"); tier != core.TierNone {
		t.Errorf("other command type: got tier %q", tier)
	}
}

func TestIdempotency_EventLogErrorTreatedAsUnseen(t *testing.T) {
	ic := core.NewIdempotencyChecker(8, &fakeEventLog{err: errors.New("connection refused")})

	tier, err := ic.Lookup(context.Background(), "Transfer", "k")
	if err == nil {
		t.Error("expected the lookup error to be reported")
	}
	if tier != core.TierNone {
		t.Errorf("tier: got %q, want none", tier)
	}
}

func TestIdempotencyLRU_Eviction(t *testing.T) {
	lru := core.NewIdempotencyLRU(3)
	lru.Load([]string{"a", "b", "c"})
	lru.Add("d")

	if lru.Contains("a") {
		t.Error("oldest key should be evicted")
	}
	if lru.Size() != 3 || lru.Evictions() != 1 {
		t.Errorf("size %d evictions %d", lru.Size(), lru.Evictions())
	}

	keys := lru.Keys()
	want := []string{"b", "c", "d"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys: got %v, want %v", keys, want)
		}
	}
}

// ============================================================================
// Test: Core with the event-log tier
// ============================================================================

func TestCore_DuplicateFromEventLog(t *testing.T) {
	owner := uuid.New()
	user := uuid.New()
	db := &fakeEventLog{keys: map[string]bool{"ExternalDeposit/logged": true}}

	c := core.NewDeterministicCore(0, nil, nil, state.StaticAuthority{Owner: owner},
		core.WithDBIdempotency(db), core.WithLRUCapacity(16))

	// The nonce is stale relative to a fresh core, which is fine for a
	// duplicate but would be rejected for a new command.
	res, err := c.ProcessEvent(context.Background(), &event.ExternalDeposit{
		Header:  event.Header{RequestID: "logged", Caller: owner, Nonce: 0, Height: 1},
		Account: user, Asset: "BTC", Amount: 10,
	})
	if err != nil || !res.Duplicate {
		t.Fatalf("expected duplicate, got %+v / %v", res, err)
	}
	if c.GetSequence() != 0 || c.GetBalance(user, 1) != 0 {
		t.Error("duplicate must not change state")
	}
}

// ============================================================================
// Test: HashChain
// ============================================================================

func TestHashChain(t *testing.T) {
	a := core.NewHashChain()
	b := core.NewHashChain()

	if a.Tip() != b.Tip() {
		t.Fatal("genesis hashes differ")
	}

	h1 := a.Next(0, []byte("x"))
	if a.Tip() != h1 {
		t.Error("Next must advance the tip")
	}
	if b.Next(0, []byte("y")) == h1 {
		t.Error("different digests produced the same hash")
	}

	e := core.NewHashChain()
	if e.Next(1, []byte("x")) == h1 {
		t.Error("different sequences produced the same hash")
	}

	c := core.NewHashChain()
	c.Reset(h1)
	d := core.NewHashChain()
	d.Next(0, []byte("x"))
	if c.Next(1, nil) != d.Next(1, nil) {
		t.Error("Reset should continue the chain")
	}
}
