package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// batchNamespace seeds deterministic batch IDs so a replay reproduces the
// exact journal identifiers that were persisted the first time.
var batchNamespace = uuid.MustParse("0b6f1d52-1c1e-4f0a-9d3e-6a1f2c7b8e90")

// BatchContext identifies the command a batch is generated for
type BatchContext struct {
	EventRef string
	Sequence int64
	Height   int64
}

// JournalGenerator creates balanced journal batches from commands
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

func (jg *JournalGenerator) newBatch(bc BatchContext, legs int) *Batch {
	batchID := uuid.NewSHA1(batchNamespace, []byte(fmt.Sprintf("%s:%d", bc.EventRef, bc.Sequence)))
	return &Batch{
		BatchID:  batchID,
		EventRef: bc.EventRef,
		Sequence: bc.Sequence,
		Height:   bc.Height,
		Journals: make([]Journal, 0, legs),
	}
}

// addLeg appends one journal moving amount from credit to debit. Zero amounts
// are skipped so callers can build optional legs unconditionally.
func (jg *JournalGenerator) addLeg(batch *Batch, debit, credit AccountKey, amount int64, jt JournalType) {
	if amount == 0 {
		return
	}
	leg := len(batch.Journals)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.NewSHA1(batch.BatchID, []byte(fmt.Sprintf("leg:%d", leg))),
		BatchID:       batch.BatchID,
		EventRef:      batch.EventRef,
		Sequence:      batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Height:        batch.Height,
	})
}

// GenerateTransfer moves an asset between two users.
// user(from):wallet → user(to):wallet
func (jg *JournalGenerator) GenerateTransfer(bc BatchContext, from, to uuid.UUID, assetID AssetID, amount int64) *Batch {
	batch := jg.newBatch(bc, 1)
	jg.addLeg(batch,
		NewUserAccountKey(to, assetID),
		NewUserAccountKey(from, assetID),
		amount, JournalTypeTransfer)
	return batch
}

// GenerateExternalDeposit brings an asset into the ledger.
// external:funding → user:wallet
func (jg *JournalGenerator) GenerateExternalDeposit(bc BatchContext, userID uuid.UUID, assetID AssetID, amount int64) *Batch {
	batch := jg.newBatch(bc, 1)
	jg.addLeg(batch,
		NewUserAccountKey(userID, assetID),
		NewExternalAccountKey(SubTypeExternalFunding, assetID),
		amount, JournalTypeExternalDeposit)
	return batch
}

// GenerateExternalWithdrawal sends an asset out of the ledger.
// user:wallet → external:funding
func (jg *JournalGenerator) GenerateExternalWithdrawal(bc BatchContext, userID uuid.UUID, assetID AssetID, amount int64) *Batch {
	batch := jg.newBatch(bc, 1)
	jg.addLeg(batch,
		NewExternalAccountKey(SubTypeExternalFunding, assetID),
		NewUserAccountKey(userID, assetID),
		amount, JournalTypeExternalWithdrawal)
	return batch
}

// GenerateCollateralLock moves collateral into custody for a vault.
// user:wallet:BTC → system:custody:BTC
func (jg *JournalGenerator) GenerateCollateralLock(bc BatchContext, userID uuid.UUID, amount int64) *Batch {
	batch := jg.newBatch(bc, 1)
	jg.addLeg(batch,
		NewCustodyAccountKey(AssetCollateral),
		NewUserAccountKey(userID, AssetCollateral),
		amount, JournalTypeCollateralLock)
	return batch
}

// GenerateMint issues new liability to a vault owner.
// external:issuance:USDV → user:wallet:USDV
func (jg *JournalGenerator) GenerateMint(bc BatchContext, userID uuid.UUID, amount int64) *Batch {
	batch := jg.newBatch(bc, 1)
	jg.addLeg(batch,
		NewUserAccountKey(userID, AssetLiability),
		NewExternalAccountKey(SubTypeExternalIssuance, AssetLiability),
		amount, JournalTypeLiabilityMint)
	return batch
}

// GenerateBurn retires liability held by a user.
// user:wallet:USDV → external:issuance:USDV
func (jg *JournalGenerator) GenerateBurn(bc BatchContext, userID uuid.UUID, amount int64) *Batch {
	batch := jg.newBatch(bc, 1)
	jg.addLeg(batch,
		NewExternalAccountKey(SubTypeExternalIssuance, AssetLiability),
		NewUserAccountKey(userID, AssetLiability),
		amount, JournalTypeLiabilityBurn)
	return batch
}

// GenerateLiquidityAdd moves both pool assets into custody.
func (jg *JournalGenerator) GenerateLiquidityAdd(bc BatchContext, userID uuid.UUID, collateral, liability int64) *Batch {
	batch := jg.newBatch(bc, 2)
	jg.addLeg(batch,
		NewCustodyAccountKey(AssetCollateral),
		NewUserAccountKey(userID, AssetCollateral),
		collateral, JournalTypeLiquidityAdd)
	jg.addLeg(batch,
		NewCustodyAccountKey(AssetLiability),
		NewUserAccountKey(userID, AssetLiability),
		liability, JournalTypeLiquidityAdd)
	return batch
}

// GenerateLiquidityRemove returns pool assets from custody. Either leg may be
// zero when the redeemed share rounds down; a batch with no legs is valid
// and carries no balance movement.
func (jg *JournalGenerator) GenerateLiquidityRemove(bc BatchContext, userID uuid.UUID, collateral, liability int64) *Batch {
	batch := jg.newBatch(bc, 2)
	jg.addLeg(batch,
		NewUserAccountKey(userID, AssetCollateral),
		NewCustodyAccountKey(AssetCollateral),
		collateral, JournalTypeLiquidityRemove)
	jg.addLeg(batch,
		NewUserAccountKey(userID, AssetLiability),
		NewCustodyAccountKey(AssetLiability),
		liability, JournalTypeLiquidityRemove)
	return batch
}
