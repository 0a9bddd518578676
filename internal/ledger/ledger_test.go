package ledger_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/store"

	"github.com/google/uuid"
)

func newTracker() (*ledger.BalanceTracker, *store.Txn) {
	txn := store.NewTxn(store.NewMemoryStore())
	return ledger.NewBalanceTracker(txn), txn
}

func mustApply(t *testing.T, bt *ledger.BalanceTracker, b *ledger.Batch) {
	t.Helper()
	if err := bt.ApplyBatch(context.Background(), b); err != nil {
		t.Fatalf("apply batch: %v", err)
	}
}

func mustBalance(t *testing.T, bt *ledger.BalanceTracker, key ledger.AccountKey) int64 {
	t.Helper()
	v, err := bt.GetBalance(context.Background(), key)
	if err != nil {
		t.Fatalf("get balance %s: %v", key.AccountPath(), err)
	}
	return v
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_PlayerPath(t *testing.T) {
	playerID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	path := ledger.PlayerAccount(playerID).AccountPath()
	expected := "player:550e8400-e29b-41d4-a716-446655440000:tokens"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_NumericPaths(t *testing.T) {
	if got := ledger.MarketEscrowAccount(7).AccountPath(); got != "market:00000000000000000007:escrow" {
		t.Errorf("market path: got %q", got)
	}
	if got := ledger.GuildPoolAccount(12).AccountPath(); got != "guild:00000000000000000012:pool" {
		t.Errorf("guild path: got %q", got)
	}
	if got := ledger.TreasuryAccount().StorageKey(); got != "ledger/system:platform:treasury" {
		t.Errorf("treasury key: got %q", got)
	}
	if got := ledger.MintAccount().AccountPath(); got != "external:mint" {
		t.Errorf("mint path: got %q", got)
	}
}

func TestAccountKey_DistinctEntities(t *testing.T) {
	if ledger.MarketEscrowAccount(1) == ledger.MarketEscrowAccount(2) {
		t.Error("different markets must map to different accounts")
	}
	if ledger.MarketEscrowAccount(1) == ledger.GuildPoolAccount(1) {
		t.Error("market 1 and guild 1 must not collide")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt, _ := newTracker()
	if v := mustBalance(t, bt, ledger.PlayerAccount(uuid.New())); v != 0 {
		t.Errorf("initial balance should be 0, got %d", v)
	}
}

func TestBalanceTracker_MintIsZeroSum(t *testing.T) {
	bt, _ := newTracker()
	gen := ledger.NewJournalGenerator(bt)
	player := uuid.New()

	b := gen.NewBatch("req-1", 1, 1000)
	if err := gen.GenerateMint(b, player, fpmath.Tokens(1000), ledger.JournalTypeRegistrationGrant); err != nil {
		t.Fatal(err)
	}
	mustApply(t, bt, b)

	if v := mustBalance(t, bt, ledger.PlayerAccount(player)); v != fpmath.Tokens(1000) {
		t.Errorf("player balance: got %d", v)
	}
	if v := mustBalance(t, bt, ledger.MintAccount()); v != -fpmath.Tokens(1000) {
		t.Errorf("mint balance: got %d", v)
	}

	total, err := bt.ComputeGlobalBalance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("global balance should be 0, got %d", total)
	}
}

func TestBalanceTracker_RejectsNegative(t *testing.T) {
	bt, _ := newTracker()
	gen := ledger.NewJournalGenerator(bt)
	b := gen.NewBatch("req-1", 1, 0)
	// bypass pre-checks by building a payout directly from an empty escrow
	b.Journals = append(b.Journals, ledger.Journal{
		BatchID:       b.BatchID,
		DebitAccount:  ledger.PlayerAccount(uuid.New()),
		CreditAccount: ledger.MarketEscrowAccount(0),
		Amount:        5,
	})
	if err := bt.ApplyBatch(context.Background(), b); err == nil {
		t.Fatal("expected negative escrow to be rejected")
	}
}

func TestBalanceTracker_ReportsFirstNegativeInJournalOrder(t *testing.T) {
	player := uuid.New()
	for i := 0; i < 20; i++ {
		bt, _ := newTracker()
		gen := ledger.NewJournalGenerator(bt)
		b := gen.NewBatch("req-1", 1, 0)
		for _, escrow := range []uint64{7, 3, 9} {
			b.Journals = append(b.Journals, ledger.Journal{
				BatchID:       b.BatchID,
				DebitAccount:  ledger.PlayerAccount(player),
				CreditAccount: ledger.MarketEscrowAccount(escrow),
				Amount:        5,
			})
		}
		err := bt.ApplyBatch(context.Background(), b)
		if err == nil {
			t.Fatal("expected negative escrow to be rejected")
		}
		want := ledger.MarketEscrowAccount(7).AccountPath()
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("run %d: expected first violation %s, got %v", i, want, err)
		}
	}
}

func TestBatch_ValidateRejectsMalformed(t *testing.T) {
	id := uuid.New()
	cases := map[string]ledger.Batch{
		"empty": {BatchID: id},
		"zero amount": {BatchID: id, Journals: []ledger.Journal{{
			BatchID: id, DebitAccount: ledger.TreasuryAccount(), CreditAccount: ledger.MintAccount(),
		}}},
		"self transfer": {BatchID: id, Journals: []ledger.Journal{{
			BatchID: id, DebitAccount: ledger.TreasuryAccount(), CreditAccount: ledger.TreasuryAccount(), Amount: 1,
		}}},
		"foreign batch": {BatchID: id, Journals: []ledger.Journal{{
			BatchID: uuid.New(), DebitAccount: ledger.TreasuryAccount(), CreditAccount: ledger.MintAccount(), Amount: 1,
		}}},
	}
	for name, b := range cases {
		b := b
		if err := b.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestJournalGenerator_DeterministicIDs(t *testing.T) {
	bt, _ := newTracker()
	gen := ledger.NewJournalGenerator(bt)
	player := uuid.New()

	a := gen.NewBatch("req-9", 9, 0)
	_ = gen.GenerateMint(a, player, 10, ledger.JournalTypeDailyReward)
	b := gen.NewBatch("req-9", 9, 0)
	_ = gen.GenerateMint(b, player, 10, ledger.JournalTypeDailyReward)

	if a.BatchID != b.BatchID || a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("same operation must yield identical ids")
	}
}

func TestJournalGenerator_MarketCreation(t *testing.T) {
	ctx := context.Background()
	bt, _ := newTracker()
	gen := ledger.NewJournalGenerator(bt)
	creator := uuid.New()

	seed := gen.NewBatch("seed", 1, 0)
	_ = gen.GenerateMint(seed, creator, fpmath.Tokens(1000), ledger.JournalTypeRegistrationGrant)
	mustApply(t, bt, seed)

	b := gen.NewBatch("create", 2, 0)
	rebate, err := gen.GenerateMarketCreation(ctx, b, creator, fpmath.Tokens(100), 200)
	if err != nil {
		t.Fatal(err)
	}
	if rebate != fpmath.Tokens(2) {
		t.Errorf("rebate: got %d, want %d", rebate, fpmath.Tokens(2))
	}
	mustApply(t, bt, b)

	if v := mustBalance(t, bt, ledger.PlayerAccount(creator)); v != fpmath.Tokens(902) {
		t.Errorf("creator balance: got %d", v)
	}
	if v := mustBalance(t, bt, ledger.TreasuryAccount()); v != fpmath.Tokens(98) {
		t.Errorf("treasury balance: got %d", v)
	}
}

func TestJournalGenerator_MarketCreationInsufficient(t *testing.T) {
	bt, _ := newTracker()
	gen := ledger.NewJournalGenerator(bt)
	b := gen.NewBatch("create", 1, 0)
	_, err := gen.GenerateMarketCreation(context.Background(), b, uuid.New(), fpmath.Tokens(100), 200)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestJournalGenerator_BuyAndSell(t *testing.T) {
	ctx := context.Background()
	bt, _ := newTracker()
	gen := ledger.NewJournalGenerator(bt)
	buyer, creator := uuid.New(), uuid.New()

	seed := gen.NewBatch("seed", 1, 0)
	_ = gen.GenerateMint(seed, buyer, fpmath.Tokens(1000), ledger.JournalTypeRegistrationGrant)
	mustApply(t, bt, seed)

	buy := fpmath.BuyQuote{Gross: fpmath.Tokens(100), Fee: 500_000, Net: 99_500_000}
	b := gen.NewBatch("buy", 2, 0)
	cost, err := gen.GenerateBuy(ctx, b, buyer, creator, 0, buy)
	if err != nil {
		t.Fatal(err)
	}
	if cost != buy.Gross {
		t.Errorf("buyer cost: expected %d, got %d", buy.Gross, cost)
	}
	mustApply(t, bt, b)

	if v := mustBalance(t, bt, ledger.MarketEscrowAccount(0)); v != 99_500_000 {
		t.Errorf("escrow after buy: got %d", v)
	}
	if v := mustBalance(t, bt, ledger.PlayerAccount(creator)); v != 250_000 {
		t.Errorf("creator fee: got %d", v)
	}
	if v := mustBalance(t, bt, ledger.TreasuryAccount()); v != 250_000 {
		t.Errorf("platform fee: got %d", v)
	}

	sell := fpmath.SellQuote{Gross: 99_500_000, Fee: 497_500, Net: 99_002_500}
	s := gen.NewBatch("sell", 3, 0)
	proceeds, err := gen.GenerateSell(ctx, s, buyer, creator, 0, sell)
	if err != nil {
		t.Fatal(err)
	}
	if proceeds != sell.Net {
		t.Errorf("seller proceeds: expected %d, got %d", sell.Net, proceeds)
	}
	mustApply(t, bt, s)

	if v := mustBalance(t, bt, ledger.MarketEscrowAccount(0)); v != 0 {
		t.Errorf("escrow after sell: got %d", v)
	}

	validator := ledger.NewInvariantValidator(bt)
	if err := validator.ValidateConservation(ctx, fpmath.Tokens(1000)); err != nil {
		t.Fatalf("conservation: %v", err)
	}
}

func TestJournalGenerator_CreatorBuyingOwnMarket(t *testing.T) {
	ctx := context.Background()
	bt, _ := newTracker()
	gen := ledger.NewJournalGenerator(bt)
	creator := uuid.New()

	seed := gen.NewBatch("seed", 1, 0)
	_ = gen.GenerateMint(seed, creator, fpmath.Tokens(10), ledger.JournalTypeRegistrationGrant)
	mustApply(t, bt, seed)

	b := gen.NewBatch("buy", 2, 0)
	quote := fpmath.BuyQuote{Gross: fpmath.Tokens(10), Fee: 50_000, Net: 9_950_000}
	cost, err := gen.GenerateBuy(ctx, b, creator, creator, 3, quote)
	if err != nil {
		t.Fatal(err)
	}
	mustApply(t, bt, b)

	// creator share of the fee stays with the buyer
	if v := mustBalance(t, bt, ledger.PlayerAccount(creator)); v != 25_000 {
		t.Errorf("creator balance: got %d", v)
	}
	if cost != quote.Gross-25_000 {
		t.Errorf("creator cost: expected %d, got %d", quote.Gross-25_000, cost)
	}

	s := gen.NewBatch("sell", 3, 0)
	sell := fpmath.SellQuote{Gross: 9_950_000, Fee: 49_750, Net: 9_900_250}
	proceeds, err := gen.GenerateSell(ctx, s, creator, creator, 3, sell)
	if err != nil {
		t.Fatal(err)
	}
	mustApply(t, bt, s)
	creatorFee, _ := fpmath.SplitFee(sell.Fee)
	if proceeds != sell.Net+creatorFee {
		t.Errorf("creator proceeds: expected %d, got %d", sell.Net+creatorFee, proceeds)
	}
	if v := mustBalance(t, bt, ledger.PlayerAccount(creator)); v != 25_000+proceeds {
		t.Errorf("creator balance after sell: got %d", v)
	}
}

func TestJournalGenerator_PayoutExceedingEscrow(t *testing.T) {
	bt, _ := newTracker()
	gen := ledger.NewJournalGenerator(bt)
	b := gen.NewBatch("claim", 1, 0)
	err := gen.GeneratePayout(context.Background(), b, uuid.New(), 4, 1)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_DetectsSupplyDrift(t *testing.T) {
	ctx := context.Background()
	bt, _ := newTracker()
	gen := ledger.NewJournalGenerator(bt)
	player := uuid.New()

	b := gen.NewBatch("seed", 1, 0)
	_ = gen.GenerateMint(b, player, 500, ledger.JournalTypeRegistrationGrant)
	mustApply(t, bt, b)

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateGlobalBalance(ctx); err != nil {
		t.Fatalf("global balance: %v", err)
	}
	if err := v.ValidateConservation(ctx, 500); err != nil {
		t.Fatalf("conservation: %v", err)
	}
	if err := v.ValidateConservation(ctx, 499); err == nil {
		t.Fatal("expected supply drift to be detected")
	}
}
