package persistence

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/observability"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// RecoveryInfo describes what Recover did.
type RecoveryInfo struct {
	SnapshotSequence int64 // -1 on a cold start
	Replayed         int64
	Sequence         int64 // last applied sequence after replay, -1 when empty
}

// Recover rebuilds c from the latest verified snapshot plus every logged
// event after it. Each replayed event's state hash is checked, so a
// divergence stops startup. c must be freshly constructed at sequence 0.
func Recover(
	ctx context.Context,
	c *core.DeterministicCore,
	snapMgr *SnapshotManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (RecoveryInfo, error) {
	start := time.Now()
	info := RecoveryInfo{SnapshotSequence: -1}

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return info, err
	}

	from := int64(0)
	if snap != nil {
		coreSnap, err := snap.ToCoreState()
		if err != nil {
			return info, fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
		}
		if err := c.RestoreFromSnapshot(coreSnap); err != nil {
			return info, err
		}
		info.SnapshotSequence = snap.Sequence
		from = snap.Sequence + 1
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, replaying from sequence 0")
	}

	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return info, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return info, err
			}
			if err := c.ReplayEnvelope(ctx, env); err != nil {
				return info, err
			}
			info.Replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	info.Sequence = c.GetSequence() - 1
	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(info.Replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int64("replayed", info.Replayed).
		Int64("sequence", info.Sequence).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return info, nil
}

// SnapshotSource is the part of the core a Snapshotter reads.
type SnapshotSource interface {
	CreateSnapshotState() *core.SnapshotState
	GetSequence() int64
}

// SnapshotStore persists snapshots. SnapshotManager is the Postgres one.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error)
	MarkVerified(ctx context.Context, sequence int64) error
}

// Snapshotter takes periodic snapshots. A snapshot is saved unverified and
// only marked verified once the persistence worker has flushed every event
// it covers, so recovery never starts from state the log cannot replay past.
type Snapshotter struct {
	source  SnapshotSource
	store   SnapshotStore
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu        sync.Mutex
	persisted int64
	pending   []int64
	lastTaken int64
}

func NewSnapshotter(source SnapshotSource, store SnapshotStore, persisted int64, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	return &Snapshotter{
		source:    source,
		store:     store,
		metrics:   metrics,
		logger:    logger,
		persisted: persisted,
		lastTaken: source.GetSequence() - 1,
	}
}

// ObserveFlushed records the highest durable sequence. It has the FlushHook
// signature so it can be attached to a PersistenceWorker.
func (s *Snapshotter) ObserveFlushed(events []EventRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if e.Sequence > s.persisted {
			s.persisted = e.Sequence
		}
	}
}

// TakeSnapshot captures and saves the core state, returning its sequence.
// A snapshot of an empty core is skipped and reports -1.
func (s *Snapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	start := time.Now()

	snap := s.source.CreateSnapshotState()
	if snap.Sequence < 0 {
		return -1, nil
	}

	data := NewSnapshotData(snap, time.Now().UTC())
	size, err := s.store.SaveSnapshot(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	s.mu.Lock()
	s.pending = append(s.pending, snap.Sequence)
	s.lastTaken = snap.Sequence
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
	}
	s.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", size).Msg("snapshot saved")

	if err := s.VerifyPending(ctx); err != nil {
		return snap.Sequence, err
	}
	return snap.Sequence, nil
}

// VerifyPending marks every saved snapshot at or below the durable
// sequence as verified.
func (s *Snapshotter) VerifyPending(ctx context.Context) error {
	s.mu.Lock()
	persisted := s.persisted
	var ready, waiting []int64
	for _, seq := range s.pending {
		if seq <= persisted {
			ready = append(ready, seq)
		} else {
			waiting = append(waiting, seq)
		}
	}
	s.pending = waiting
	s.mu.Unlock()

	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	for i, seq := range ready {
		if err := s.store.MarkVerified(ctx, seq); err != nil {
			s.mu.Lock()
			s.pending = append(s.pending, ready[i:]...)
			s.mu.Unlock()
			return fmt.Errorf("verify snapshot %d: %w", seq, err)
		}
		if s.metrics != nil {
			s.metrics.SnapshotLastSeq.Set(float64(seq))
		}
	}
	return nil
}

// Pending returns the sequences of snapshots not yet verified.
func (s *Snapshotter) Pending() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.pending...)
}

// Run checks every tick whether everyN sequences have been applied since
// the last snapshot, and verifies pending snapshots.
func (s *Snapshotter) Run(ctx context.Context, tick time.Duration, everyN int64) {
	if everyN <= 0 {
		everyN = 100_000
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.VerifyPending(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("snapshot verification failed")
			}

			s.mu.Lock()
			due := s.source.GetSequence()-1-s.lastTaken >= everyN
			s.mu.Unlock()
			if !due {
				continue
			}
			if _, err := s.TakeSnapshot(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}
