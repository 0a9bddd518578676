package ledger

import (
	"context"
	"encoding/binary"
	"fmt"

	fpmath "PredictLedger/internal/math"

	"github.com/google/uuid"
)

// batchNamespace seeds deterministic batch and journal ids so that replicas
// replaying the same operations produce identical journals.
var batchNamespace = uuid.MustParse("6f1d7c52-3a0e-5b8e-9c41-2d7f0a9e4b13")

// JournalGenerator creates balanced journal batches for operations
type JournalGenerator struct {
	balanceTracker *BalanceTracker // pre-checks
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

// NewBatch opens an empty batch for one operation.
func (jg *JournalGenerator) NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.NewSHA1(batchNamespace, []byte(fmt.Sprintf("%s/%d", eventRef, sequence))),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

// add appends one journal moving amount from credit to debit. Zero amounts
// are dropped.
func (b *Batch) add(debit, credit AccountKey, amount int64, jt JournalType) {
	if amount == 0 {
		return
	}
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(len(b.Journals)))

	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.NewSHA1(b.BatchID, idx[:]),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateMint issues new tokens to a player.
// Moves funds: external:mint → player:tokens
func (jg *JournalGenerator) GenerateMint(batch *Batch, playerID uuid.UUID, amount int64, jt JournalType) error {
	if amount < 0 {
		return fmt.Errorf("mint of negative amount %d", amount)
	}
	batch.add(PlayerAccount(playerID), MintAccount(), amount, jt)
	return nil
}

// GenerateMarketCreation charges the creation cost to the treasury and
// rebates a share back to the creator. Returns the rebate.
// Pre-check: creator must cover the full cost.
func (jg *JournalGenerator) GenerateMarketCreation(
	ctx context.Context,
	batch *Batch,
	creator uuid.UUID,
	cost int64,
	rebateBps int64,
) (int64, error) {
	if err := jg.balanceTracker.ValidateSufficient(ctx, PlayerAccount(creator), cost); err != nil {
		return 0, fmt.Errorf("market creation pre-check failed: %w", err)
	}
	rebate, err := fpmath.ApplyBps(cost, rebateBps)
	if err != nil {
		return 0, err
	}

	batch.add(TreasuryAccount(), PlayerAccount(creator), cost, JournalTypeMarketCreationFee)
	batch.add(PlayerAccount(creator), TreasuryAccount(), rebate, JournalTypeCreatorRebate)
	return rebate, nil
}

// GenerateBuy moves a purchase into market escrow and splits the fee
// between the market creator and the platform. It returns what actually
// left the buyer: the gross, less the creator share when the buyer is the
// creator.
// Pre-check: buyer must cover the gross amount.
func (jg *JournalGenerator) GenerateBuy(
	ctx context.Context,
	batch *Batch,
	buyer, creator uuid.UUID,
	marketID uint64,
	quote fpmath.BuyQuote,
) (int64, error) {
	if err := jg.balanceTracker.ValidateSufficient(ctx, PlayerAccount(buyer), quote.Gross); err != nil {
		return 0, fmt.Errorf("buy pre-check failed: %w", err)
	}
	creatorFee, platformFee := fpmath.SplitFee(quote.Fee)

	cost := quote.Gross
	batch.add(MarketEscrowAccount(marketID), PlayerAccount(buyer), quote.Net, JournalTypeTradeStake)
	if buyer != creator {
		batch.add(PlayerAccount(creator), PlayerAccount(buyer), creatorFee, JournalTypeTradeFeeCreator)
	} else {
		cost -= creatorFee
	}
	batch.add(TreasuryAccount(), PlayerAccount(buyer), platformFee, JournalTypeTradeFeePlatform)
	return cost, nil
}

// GenerateSell pays a sale out of market escrow. The fee is carved from the
// gross proceeds and split like a buy fee. It returns what the seller
// received: the net, plus the creator share when the seller is the creator.
// Pre-check: escrow must cover the gross amount.
func (jg *JournalGenerator) GenerateSell(
	ctx context.Context,
	batch *Batch,
	seller, creator uuid.UUID,
	marketID uint64,
	quote fpmath.SellQuote,
) (int64, error) {
	escrow := MarketEscrowAccount(marketID)
	if err := jg.balanceTracker.ValidateSufficient(ctx, escrow, quote.Gross); err != nil {
		return 0, fmt.Errorf("sell pre-check failed: %w", err)
	}
	creatorFee, platformFee := fpmath.SplitFee(quote.Fee)

	proceeds := quote.Net
	if seller == creator {
		proceeds += creatorFee
	}
	batch.add(PlayerAccount(seller), escrow, quote.Net, JournalTypeSellProceeds)
	batch.add(PlayerAccount(creator), escrow, creatorFee, JournalTypeTradeFeeCreator)
	batch.add(TreasuryAccount(), escrow, platformFee, JournalTypeTradeFeePlatform)
	return proceeds, nil
}

// GeneratePayout pays settlement winnings from market escrow.
func (jg *JournalGenerator) GeneratePayout(
	ctx context.Context,
	batch *Batch,
	playerID uuid.UUID,
	marketID uint64,
	amount int64,
) error {
	escrow := MarketEscrowAccount(marketID)
	if err := jg.balanceTracker.ValidateSufficient(ctx, escrow, amount); err != nil {
		return fmt.Errorf("payout pre-check failed: %w", err)
	}
	batch.add(PlayerAccount(playerID), escrow, amount, JournalTypeWinningsPayout)
	return nil
}

// GenerateGuildContribution moves tokens from a member into the guild pool.
func (jg *JournalGenerator) GenerateGuildContribution(
	ctx context.Context,
	batch *Batch,
	playerID uuid.UUID,
	guildID uint64,
	amount int64,
) error {
	if err := jg.balanceTracker.ValidateSufficient(ctx, PlayerAccount(playerID), amount); err != nil {
		return fmt.Errorf("guild contribution pre-check failed: %w", err)
	}
	batch.add(GuildPoolAccount(guildID), PlayerAccount(playerID), amount, JournalTypeGuildContribution)
	return nil
}
