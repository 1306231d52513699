package persistence

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/state"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// snapshotFormatVersion v1: JSON-encoded SnapshotData
const snapshotFormatVersion = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the stored form of core.SnapshotState. Accounts are keyed
// by path so the document stays readable in the database.
type SnapshotData struct {
	Sequence        int64               `json:"sequence"`
	StateHash       []byte              `json:"state_hash"`
	Balances        map[string]int64    `json:"balances"` // AccountPath -> balance
	Vaults          []VaultSnap         `json:"vaults"`
	ShareRecords    []ShareRecordSnap   `json:"share_records"`
	Pool            PoolSnap            `json:"pool"`
	Oracle          OracleSnap          `json:"oracle"`
	Nonces          map[uuid.UUID]int64 `json:"nonces"`           // caller -> next expected nonce
	IdempotencyKeys []string            `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time           `json:"created_at"`
}

type VaultSnap struct {
	Owner            uuid.UUID `json:"owner"`
	CollateralLocked int64     `json:"collateral_locked"`
	LiabilityMinted  int64     `json:"liability_minted"`
	LastUpdateHeight int64     `json:"last_update_height"`
}

type ShareRecordSnap struct {
	Owner              uuid.UUID `json:"owner"`
	Shares             int64     `json:"shares"`
	CollateralProvided int64     `json:"collateral_provided"`
	LiabilityProvided  int64     `json:"liability_provided"`
}

type PoolSnap struct {
	Collateral  int64 `json:"collateral"`
	Liability   int64 `json:"liability"`
	TotalShares int64 `json:"total_shares"`
}

type OracleSnap struct {
	Price            int64 `json:"price"`
	Initialized      bool  `json:"initialized"`
	LastUpdateHeight int64 `json:"last_update_height"`
}

// NewSnapshotData converts the core's in-memory snapshot for storage.
func NewSnapshotData(snap *core.SnapshotState, createdAt time.Time) *SnapshotData {
	stateHash := snap.StateHash
	data := &SnapshotData{
		Sequence:        snap.Sequence,
		StateHash:       stateHash[:],
		Balances:        make(map[string]int64, len(snap.Balances)),
		Vaults:          make([]VaultSnap, 0, len(snap.Vaults)),
		ShareRecords:    make([]ShareRecordSnap, 0, len(snap.ShareRecords)),
		Pool:            PoolSnap(snap.Pool),
		Oracle:          OracleSnap(snap.Oracle),
		Nonces:          snap.Nonces,
		IdempotencyKeys: snap.IdempotencyKeys,
		CreatedAt:       createdAt,
	}

	for key, balance := range snap.Balances {
		data.Balances[key.AccountPath()] = balance
	}
	for _, v := range snap.Vaults {
		data.Vaults = append(data.Vaults, VaultSnap(v))
	}
	for _, r := range snap.ShareRecords {
		data.ShareRecords = append(data.ShareRecords, ShareRecordSnap(r))
	}

	return data
}

// ToCoreState converts a stored snapshot back for core.RestoreFromSnapshot.
func (d *SnapshotData) ToCoreState() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash length %d", d.Sequence, len(d.StateHash))
	}

	snap := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(d.Balances)),
		Vaults:          make([]state.Vault, 0, len(d.Vaults)),
		ShareRecords:    make([]state.ShareRecord, 0, len(d.ShareRecords)),
		Pool:            state.PoolReserves(d.Pool),
		Oracle:          state.OracleState(d.Oracle),
		Nonces:          d.Nonces,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(snap.StateHash[:], d.StateHash)

	for path, balance := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", d.Sequence, err)
		}
		snap.Balances[key] = balance
	}
	for _, v := range d.Vaults {
		snap.Vaults = append(snap.Vaults, state.Vault(v))
	}
	for _, r := range d.ShareRecords {
		snap.ShareRecords = append(snap.ShareRecords, state.ShareRecord(r))
	}

	return snap, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}

	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		version int
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as usable for recovery. A snapshot is only
// verified once the events it covers are durable in the event log.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, caller, height,
		       source_sequence, payload, state_hash, prev_hash
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Caller, &e.Height,
			&e.SourceSequence, &e.Payload, &e.StateHash, &e.PrevHash,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, -1 when
// the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
