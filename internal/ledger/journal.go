package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeRegistrationGrant JournalType = iota
	JournalTypeDailyReward
	JournalTypeAchievementReward
	JournalTypeMarketCreationFee
	JournalTypeCreatorRebate
	JournalTypeTradeStake
	JournalTypeTradeFeeCreator
	JournalTypeTradeFeePlatform
	JournalTypeSellProceeds
	JournalTypeWinningsPayout
	JournalTypeGuildContribution
)

var journalTypeNames = map[JournalType]string{
	JournalTypeRegistrationGrant: "registration_grant",
	JournalTypeDailyReward:       "daily_reward",
	JournalTypeAchievementReward: "achievement_reward",
	JournalTypeMarketCreationFee: "market_creation_fee",
	JournalTypeCreatorRebate:     "creator_rebate",
	JournalTypeTradeStake:        "trade_stake",
	JournalTypeTradeFeeCreator:   "trade_fee_creator",
	JournalTypeTradeFeePlatform:  "trade_fee_platform",
	JournalTypeSellProceeds:      "sell_proceeds",
	JournalTypeWinningsPayout:    "winnings_payout",
	JournalTypeGuildContribution: "guild_contribution",
}

func (t JournalType) String() string {
	if name, ok := journalTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("JournalType(%d)", int32(t))
}

// IsMint reports whether the journal draws on the supply source.
func (j Journal) IsMint() bool {
	return j.CreditAccount == MintAccount()
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Derived from the batch, deterministic
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Request id of the source operation
	Sequence      int64       // Global operation sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Caller-supplied timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Empty reports whether the batch moves no funds (state-only operations).
func (b *Batch) Empty() bool {
	return b == nil || len(b.Journals) == 0
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from the credit account to the
// debit account, so Σ debits == Σ credits holds per entry.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}

// MintedAmount sums the journals that draw on the supply source.
func (b *Batch) MintedAmount() int64 {
	if b == nil {
		return 0
	}
	var total int64
	for _, j := range b.Journals {
		if j.IsMint() {
			total += j.Amount
		}
	}
	return total
}
