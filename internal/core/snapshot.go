package core

import (
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/state"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64 // last applied sequence, -1 when nothing was applied
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Vaults          []state.Vault
	ShareRecords    []state.ShareRecord
	Pool            state.PoolReserves
	Oracle          state.OracleState
	Nonces          map[uuid.UUID]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.chain.Tip(),
		Balances:        c.balanceTracker.Snapshot(),
		Vaults:          c.vaults.AllVaults(),
		ShareRecords:    c.pool.AllRecords(),
		Pool:            c.pool.Reserves(),
		Oracle:          c.oracle.State(),
		Nonces:          c.nonces.Export(),
		IdempotencyKeys: c.idempotency.recent.Keys(),
	}
}

// RestoreFromSnapshot replaces the core's in-memory state with a snapshot
// and verifies every invariant on the result. Call before any command is
// processed.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence + 1
	c.chain.Reset(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	c.vaults.Restore(snap.Vaults)
	c.pool.Restore(snap.Pool, snap.ShareRecords)
	c.oracle.Restore(snap.Oracle)

	c.nonces.Restore(snap.Nonces)

	c.idempotency.recent.Load(snap.IdempotencyKeys)

	if err := c.verifyAll(); err != nil {
		return fmt.Errorf("snapshot at seq %d is inconsistent: %w", snap.Sequence, err)
	}
	return nil
}

// ReplayEnvelope re-applies a logged command without emitting it and checks
// the resulting state hash against the logged one.
func (c *DeterministicCore) ReplayEnvelope(ctx context.Context, env *event.EventEnvelope) error {
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if env.Sequence != c.sequence {
		return fmt.Errorf("replay seq %d: core expects %d", env.Sequence, c.sequence)
	}

	c.replaying = true
	defer func() { c.replaying = false }()

	if _, err := c.process(ctx, evt); err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	if got := c.chain.Tip(); got != env.StateHash {
		return fmt.Errorf("replay seq %d: state hash mismatch: logged %x, computed %x",
			env.Sequence, env.StateHash, got)
	}
	return nil
}
