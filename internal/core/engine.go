package core

import (
	"VaultLedger/internal/errs"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/state"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fullCheckInterval is how often (in sequences) the O(accounts) invariant
// scan runs in addition to the per-command checks.
const fullCheckInterval = 1000

// ErrMalformedCommand rejects commands with a missing header field or an
// unknown asset before they reach any state.
var ErrMalformedCommand = errors.New("malformed command")

// DeterministicCore owns all ledger state and applies one command at a time
type DeterministicCore struct {
	mu sync.RWMutex

	sequence       int64
	chain          *HashChain
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator
	oracle         *state.PriceOracle
	vaults         *state.VaultManager
	pool           *state.PoolManager
	authority      state.Authority
	idempotency    *IdempotencyChecker
	nonces         *NonceTracker

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	replaying      bool
}

// CoreOutput is everything downstream workers need about one applied command
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte

	// Post-command values of every account the batch touched
	Balances map[ledger.AccountKey]int64

	// Post-command records; nil when the command did not touch them
	Vault       *state.Vault
	ShareRecord *state.ShareRecord

	Pool   state.PoolReserves
	Totals state.VaultTotals
	Oracle state.OracleState
}

// Result is returned to the submitter of a command
type Result struct {
	Sequence  int64
	Duplicate bool

	// AddLiquidity
	Shares int64

	// RemoveLiquidity
	CollateralReturned int64
	LiabilityReturned  int64
}

// Option configures a DeterministicCore
type Option func(*coreOptions)

type coreOptions struct {
	dbChecker   DBIdempotencyChecker
	lruCapacity int
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// WithDBIdempotency enables the Postgres dedup tier
func WithDBIdempotency(checker DBIdempotencyChecker) Option {
	return func(o *coreOptions) { o.dbChecker = checker }
}

func WithLRUCapacity(n int) Option {
	return func(o *coreOptions) { o.lruCapacity = n }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *coreOptions) { o.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *coreOptions) { o.logger = l }
}

// NewDeterministicCore builds an empty core. Either channel may be nil, in
// which case that output is not emitted.
func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	authority state.Authority,
	opts ...Option,
) *DeterministicCore {
	o := coreOptions{
		lruCapacity: 1_000_000,
		logger:      observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	balanceTracker := ledger.NewBalanceTracker()

	return &DeterministicCore{
		sequence:       startSequence,
		chain:          NewHashChain(),
		balanceTracker: balanceTracker,
		journalGen:     ledger.NewJournalGenerator(),
		validator:      ledger.NewInvariantValidator(balanceTracker),
		oracle:         state.NewPriceOracle(authority),
		vaults:         state.NewVaultManager(),
		pool:           state.NewPoolManager(),
		authority:      authority,
		idempotency:    NewIdempotencyChecker(o.lruCapacity, o.dbChecker),
		nonces:         NewNonceTracker(),
		metrics:        o.metrics,
		logger:         o.logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// commandPlan is a validated command: the balance movement plus the record
// mutation to run once the movement has been applied.
type commandPlan struct {
	batch  *ledger.Batch
	commit func()
	result Result

	vaultOwner *uuid.UUID
	shareOwner *uuid.UUID
}

// ProcessEvent is the main processing pipeline. Every check runs before any
// state is touched, so a rejected command leaves no trace.
func (c *DeterministicCore) ProcessEvent(ctx context.Context, evt event.Event) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(ctx, evt)
}

func (c *DeterministicCore) process(ctx context.Context, evt event.Event) (Result, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	if err := validateHeader(evt); err != nil {
		c.recordRejected(eventType, "malformed")
		return Result{}, err
	}

	payload, err := event.Encode(evt)
	if err != nil {
		c.recordRejected(eventType, "malformed")
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}

	// Step 1: Idempotency check (two-tier). Replayed commands are in the
	// event log by definition, so replay skips the lookup.
	isDuplicate := false
	if !c.replaying {
		tier, err := c.idempotency.Lookup(ctx, eventType, idempotencyKey)
		if err != nil {
			c.logger.Warn().Err(err).Str("command", eventType).Msg("event log idempotency lookup failed")
		}
		isDuplicate = tier != TierNone
		if isDuplicate && c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, string(tier)).Inc()
		}
	}

	// Step 2: Nonce validation
	caller := evt.CallerID()
	nonce := evt.SourceSequence()

	if err := c.nonces.Check(caller, nonce, isDuplicate); err != nil {
		if c.metrics != nil {
			if errors.Is(err, ErrNonceGap) {
				c.metrics.NonceGap.WithLabelValues(eventType).Inc()
			} else {
				c.metrics.NonceOutOfOrder.WithLabelValues(eventType).Inc()
			}
		}
		c.recordRejected(eventType, "nonce")
		return Result{}, err
	}

	if isDuplicate {
		c.recordRejected(eventType, "duplicate")
		return Result{Duplicate: true}, nil
	}

	// Step 3: Dispatch
	bc := ledger.BatchContext{
		EventRef: idempotencyKey,
		Sequence: c.sequence,
		Height:   evt.BlockHeight(),
	}

	plan, err := c.dispatchEvent(evt, bc)
	if err != nil {
		c.recordRejected(eventType, errs.Name(err))
		c.logger.Debug().Err(err).Str("command", eventType).Str("key", idempotencyKey).Msg("command rejected")
		return Result{}, err
	}

	// Step 4: Batch validation and funds check, then apply
	if !plan.batch.IsEmpty() {
		if err := c.validator.ValidateBatchBalance(plan.batch); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
		}

		if err := c.balanceTracker.CheckBatchFunds(plan.batch); err != nil {
			if _, ok := evt.(*event.RemoveLiquidity); ok {
				c.logger.Error().Err(err).
					Str("caller", evt.CallerID().String()).
					Msg("custody shortfall on liquidity removal: reserves and custody disagree")
			}
			c.recordRejected(eventType, errs.Name(err))
			return Result{}, err
		}

		if err := c.balanceTracker.ApplyBatch(plan.batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply after funds check: %v", err))
		}
	}

	if plan.commit != nil {
		plan.commit()
	}

	// Step 5: Post-checks
	if err := c.postCheckInvariants(plan.batch); err != nil {
		c.logger.Error().Err(err).Int64("sequence", c.sequence).Msg("invariant violated")
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: State hash chain
	prevHash := c.chain.Tip()
	stateDigest := c.computeStateDigest(evt, plan)
	stateHash := c.chain.Next(c.sequence, stateDigest)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Caller:         evt.CallerID(),
		Height:         evt.BlockHeight(),
		SourceSequence: nonce,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	// Step 7: Emit
	c.emit(c.buildOutput(envelope, plan, stateDigest))

	// Step 8: Consume nonce and mark processed
	c.nonces.Consume(caller, nonce)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	result := plan.result
	result.Sequence = c.sequence
	c.sequence++

	c.recordApplied(eventType, plan.batch, start)

	return result, nil
}

func validateHeader(evt event.Event) error {
	if evt.IdempotencyKey() == "" {
		return fmt.Errorf("%w: empty request id", ErrMalformedCommand)
	}
	if evt.CallerID() == uuid.Nil {
		return fmt.Errorf("%w: nil caller", ErrMalformedCommand)
	}
	if evt.SourceSequence() < 0 {
		return fmt.Errorf("%w: negative nonce", ErrMalformedCommand)
	}
	return nil
}

func (c *DeterministicCore) buildOutput(envelope *event.EventEnvelope, plan *commandPlan, digest []byte) CoreOutput {
	output := CoreOutput{
		Envelope:   envelope,
		Batch:      plan.batch,
		StateDelta: digest,
		Balances:   make(map[ledger.AccountKey]int64),
		Pool:       c.pool.Reserves(),
		Totals:     c.vaults.Totals(),
		Oracle:     c.oracle.State(),
	}

	for _, key := range touchedAccounts(plan.batch) {
		output.Balances[key] = c.balanceTracker.GetBalance(key)
	}

	if plan.vaultOwner != nil {
		if v := c.vaults.GetVault(*plan.vaultOwner); v != nil {
			cp := *v
			output.Vault = &cp
		}
	}
	if plan.shareOwner != nil {
		if rec := c.pool.GetShareRecord(*plan.shareOwner); rec != nil {
			cp := *rec
			output.ShareRecord = &cp
		}
	}

	return output
}

// emit sends to persistence (blocking: no applied command may be lost) and to
// projections (non-blocking: projections can be rebuilt from the event log).
func (c *DeterministicCore) emit(output CoreOutput) {
	if c.replaying {
		return
	}

	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
}

func (c *DeterministicCore) recordRejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreCommandsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *DeterministicCore) recordApplied(eventType string, batch *ledger.Batch, start time.Time) {
	if c.metrics == nil {
		return
	}

	c.metrics.CoreCommandsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CoreCommandDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.recent.Size()))

	if batch != nil {
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}

	reserves := c.pool.Reserves()
	totals := c.vaults.Totals()
	price, _ := c.oracle.Price()
	c.metrics.PoolCollateral.Set(float64(reserves.Collateral))
	c.metrics.PoolLiability.Set(float64(reserves.Liability))
	c.metrics.PoolTotalShares.Set(float64(reserves.TotalShares))
	c.metrics.TotalLiabilitySupply.Set(float64(totals.TotalLiabilitySupply))
	c.metrics.TotalCollateralLocked.Set(float64(totals.TotalCollateralLocked))
	c.metrics.OraclePrice.Set(float64(price))
}

// touchedAccounts returns the batch's accounts in AccountPath order
func touchedAccounts(batch *ledger.Batch) []ledger.AccountKey {
	if batch.IsEmpty() {
		return nil
	}

	seen := make(map[ledger.AccountKey]bool, len(batch.Journals)*2)
	accounts := make([]ledger.AccountKey, 0, len(batch.Journals)*2)
	for _, j := range batch.Journals {
		for _, key := range [2]ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if !seen[key] {
				seen[key] = true
				accounts = append(accounts, key)
			}
		}
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})
	return accounts
}

// computeStateDigest creates canonical bytes for the state hash: touched
// balances, the caller's nonce, and every record the command can change.
func (c *DeterministicCore) computeStateDigest(evt event.Event, plan *commandPlan) []byte {
	accounts := touchedAccounts(plan.batch)
	digest := make([]byte, 0, len(accounts)*64+160)

	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	caller := evt.CallerID()
	digest = append(digest, caller[:]...)
	digest = appendInt64LE(digest, evt.SourceSequence())

	oracle := c.oracle.State()
	digest = appendInt64LE(digest, oracle.Price)

	totals := c.vaults.Totals()
	digest = appendInt64LE(digest, totals.TotalCollateralLocked)
	digest = appendInt64LE(digest, totals.TotalLiabilitySupply)

	reserves := c.pool.Reserves()
	digest = appendInt64LE(digest, reserves.Collateral)
	digest = appendInt64LE(digest, reserves.Liability)
	digest = appendInt64LE(digest, reserves.TotalShares)

	if plan.vaultOwner != nil {
		if v := c.vaults.GetVault(*plan.vaultOwner); v != nil {
			digest = append(digest, v.Owner[:]...)
			digest = appendInt64LE(digest, v.CollateralLocked)
			digest = appendInt64LE(digest, v.LiabilityMinted)
			digest = appendInt64LE(digest, v.LastUpdateHeight)
		}
	}
	if plan.shareOwner != nil {
		if rec := c.pool.GetShareRecord(*plan.shareOwner); rec != nil {
			digest = append(digest, rec.Owner[:]...)
			digest = appendInt64LE(digest, rec.Shares)
			digest = appendInt64LE(digest, rec.CollateralProvided)
			digest = appendInt64LE(digest, rec.LiabilityProvided)
		}
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after a command is applied.
// The per-command checks are O(1) in the number of accounts; the full scan
// runs every fullCheckInterval sequences.
func (c *DeterministicCore) postCheckInvariants(batch *ledger.Batch) error {
	for _, key := range touchedAccounts(batch) {
		if key.IsBoundary() {
			continue
		}
		if err := c.balanceTracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}

	if err := c.checkCustodyAndIssuance(); err != nil {
		return err
	}

	if c.sequence > 0 && c.sequence%fullCheckInterval == 0 {
		if err := c.verifyAll(); err != nil {
			return fmt.Errorf("full check at seq %d: %w", c.sequence, err)
		}
	}

	return nil
}

func (c *DeterministicCore) checkCustodyAndIssuance() error {
	totals := c.vaults.Totals()
	reserves := c.pool.Reserves()

	if err := c.validator.ValidateCustody(totals.TotalCollateralLocked+reserves.Collateral, reserves.Liability); err != nil {
		return err
	}
	return c.validator.ValidateIssuance(totals.TotalLiabilitySupply)
}

// verifyAll runs every ledger and record invariant
func (c *DeterministicCore) verifyAll() error {
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	if err := c.validator.ValidateNoNegativeBalances(); err != nil {
		return err
	}
	if err := c.checkCustodyAndIssuance(); err != nil {
		return err
	}

	totals := c.vaults.Totals()
	if sum := c.vaults.SumLiability(); sum != totals.TotalLiabilitySupply {
		return fmt.Errorf("supply %d != sum of vault liability %d", totals.TotalLiabilitySupply, sum)
	}
	if sum := c.vaults.SumCollateral(); sum != totals.TotalCollateralLocked {
		return fmt.Errorf("locked collateral %d != sum of vault collateral %d", totals.TotalCollateralLocked, sum)
	}

	reserves := c.pool.Reserves()
	if sum := c.pool.SumShares(); sum != reserves.TotalShares {
		return fmt.Errorf("total shares %d != sum of records %d", reserves.TotalShares, sum)
	}

	return nil
}

// VerifyInvariants runs the full invariant scan on demand.
func (c *DeterministicCore) VerifyInvariants() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.verifyAll()
}
