package persistence

import (
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	eventColumns   = 9
	journalColumns = 10

	// Postgres caps a statement at 65535 bind parameters.
	maxParams = 65535
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes events and journals to Postgres using multi-row INSERTs.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Caller         uuid.UUID
	Height         int64
	SourceSequence int64
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       int16
	Amount        int64
	JournalType   int16
	Height        int64
}

// NewEventRow flattens an envelope for the event log.
func NewEventRow(env *event.EventEnvelope) EventRow {
	stateHash := env.StateHash
	prevHash := env.PrevHash
	return EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller,
		Height:         env.Height,
		SourceSequence: env.SourceSequence,
		Payload:        env.Payload,
		StateHash:      stateHash[:],
		PrevHash:       prevHash[:],
	}
}

// Envelope restores the logged envelope for replay.
func (r EventRow) Envelope() (*event.EventEnvelope, error) {
	et := event.ParseEventType(r.EventType)
	if et == event.EventTypeUnknown {
		return nil, fmt.Errorf("seq %d: unknown event type %q", r.Sequence, r.EventType)
	}
	if len(r.StateHash) != 32 || len(r.PrevHash) != 32 {
		return nil, fmt.Errorf("seq %d: hash length %d/%d", r.Sequence, len(r.StateHash), len(r.PrevHash))
	}

	env := &event.EventEnvelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.IdempotencyKey,
		EventType:      et,
		Caller:         r.Caller,
		Height:         r.Height,
		SourceSequence: r.SourceSequence,
		Payload:        r.Payload,
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env, nil
}

// NewJournalRows flattens a batch; nil for commands that moved no balance.
func NewJournalRows(batch *ledger.Batch) []JournalRow {
	if batch.IsEmpty() {
		return nil
	}
	rows := make([]JournalRow, 0, len(batch.Journals))
	for _, j := range batch.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID,
			BatchID:       j.BatchID,
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       int16(j.AssetID),
			Amount:        j.Amount,
			JournalType:   int16(j.JournalType),
			Height:        j.Height,
		})
	}
	return rows
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// placeholders renders "($1, $2, ...), ($n+1, ...)" for rows×cols parameters.
func placeholders(rows, cols int) string {
	groups := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		params := make([]string, cols)
		for c := 0; c < cols; c++ {
			params[c] = fmt.Sprintf("$%d", i*cols+c+1)
		}
		groups = append(groups, "("+strings.Join(params, ", ")+")")
	}
	return strings.Join(groups, ", ")
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	for len(events) > maxParams/eventColumns {
		if err := w.WriteEventBatch(ctx, ex, events[:maxParams/eventColumns]); err != nil {
			return err
		}
		events = events[maxParams/eventColumns:]
	}
	if len(events) == 0 {
		return nil
	}

	args := make([]any, 0, len(events)*eventColumns)
	for _, e := range events {
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Caller, e.Height,
			e.SourceSequence, e.Payload, e.StateHash, e.PrevHash,
		)
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, caller, height, source_sequence, payload, state_hash, prev_hash)
		VALUES ` + placeholders(len(events), eventColumns) +
		` ON CONFLICT (sequence) DO NOTHING`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	for len(journals) > maxParams/journalColumns {
		if err := w.WriteJournalBatch(ctx, ex, journals[:maxParams/journalColumns]); err != nil {
			return err
		}
		journals = journals[maxParams/journalColumns:]
	}
	if len(journals) == 0 {
		return nil
	}

	args := make([]any, 0, len(journals)*journalColumns)
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Height,
		)
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, height)
		VALUES ` + placeholders(len(journals), journalColumns) +
		` ON CONFLICT (journal_id) DO NOTHING`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
