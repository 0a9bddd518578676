package projection_test

import (
	"context"
	"testing"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/projection"
	"PredictLedger/internal/store"

	"github.com/google/uuid"
)

const t0 int64 = 1_700_000_000_000_000

var (
	alice = uuid.NewSHA1(uuid.NameSpaceOID, []byte("player/alice"))
	bob   = uuid.NewSHA1(uuid.NameSpaceOID, []byte("player/bob"))
)

type fixture struct {
	t       *testing.T
	core    *core.DeterministicCore
	persist chan core.CoreOutput
	seq     int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	persist := make(chan core.CoreOutput, 16)
	c := core.NewDeterministicCore(store.NewMemoryStore(), core.Outputs{Persist: persist}, core.Options{})
	if err := c.Bootstrap(context.Background(), event.DefaultGameConfig()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return &fixture{t: t, core: c, persist: persist}
}

// mustApply executes op and returns its folded projection update.
func (f *fixture) mustApply(caller uuid.UUID, op event.Operation) *projection.Update {
	f.t.Helper()
	f.seq++
	resp := f.core.Execute(context.Background(), event.Request{
		RequestID:   uuid.NewSHA1(uuid.NameSpaceURL, []byte{byte(f.seq)}),
		Sequence:    f.seq,
		Caller:      caller,
		TimestampUs: t0 + f.seq*1_000_000,
		Operation:   op,
	})
	if !resp.OK {
		f.t.Fatalf("%T rejected: %s: %s", op, resp.ErrorCode, resp.Error)
	}
	u, err := projection.Fold(<-f.persist)
	if err != nil {
		f.t.Fatalf("fold: %v", err)
	}
	return u
}

func balanceOf(u *projection.Update, path string) (int64, bool) {
	for _, b := range u.Balances {
		if b.AccountPath == path {
			return b.Delta, true
		}
	}
	return 0, false
}

// ===========================================================================
// Registration
// ===========================================================================

func TestFold_RegisterPlayer(t *testing.T) {
	f := newFixture(t)
	u := f.mustApply(alice, &event.RegisterPlayer{DisplayName: "alice"})

	if u.Sequence != 1 {
		t.Errorf("sequence: got %d, want 1", u.Sequence)
	}
	grant := event.DefaultGameConfig().InitialPlayerTokens
	if got, _ := balanceOf(u, ledger.PlayerAccount(alice).AccountPath()); got != grant {
		t.Errorf("player balance delta: got %d, want %d", got, grant)
	}
	if got, _ := balanceOf(u, ledger.MintAccount().AccountPath()); got != -grant {
		t.Errorf("mint delta: got %d, want %d", got, -grant)
	}
	if len(u.Players) != 1 || u.Players[0].DisplayName != "alice" {
		t.Fatalf("players: got %+v", u.Players)
	}
	if len(u.Markets) != 0 || len(u.Trades) != 0 {
		t.Errorf("unexpected rows: markets=%d trades=%d", len(u.Markets), len(u.Trades))
	}
}

// ===========================================================================
// Trading
// ===========================================================================

func TestFold_BuySharesProducesTradeAndMarketRows(t *testing.T) {
	f := newFixture(t)
	f.mustApply(alice, &event.RegisterPlayer{DisplayName: "alice"})
	f.mustApply(bob, &event.RegisterPlayer{DisplayName: "bob"})
	created := f.mustApply(alice, &event.CreateMarket{
		Title:            "Rain tomorrow?",
		OutcomeNames:     []string{"Yes", "No"},
		DurationSeconds:  86_400,
		ResolutionMethod: event.ResolutionCreatorDecides,
	})
	if len(created.Markets) != 1 || created.Markets[0].Status != "active" {
		t.Fatalf("market rows after create: %+v", created.Markets)
	}
	if created.Markets[0].ResolutionMethod != "creator_decides" || created.Markets[0].OutcomeCount != 2 {
		t.Errorf("market row: %+v", created.Markets[0])
	}

	stake := fpmath.Tokens(40)
	u := f.mustApply(bob, &event.BuyShares{Market: 0, OutcomeID: 1, Amount: stake})

	if len(u.Trades) != 1 {
		t.Fatalf("trades: got %d, want 1", len(u.Trades))
	}
	tr := u.Trades[0]
	if tr.PlayerID != bob || tr.MarketID != 0 || tr.OutcomeID != 1 || tr.Side != "buy" {
		t.Errorf("trade row: %+v", tr)
	}
	if tr.Sequence != u.Sequence {
		t.Errorf("trade sequence: got %d, want %d", tr.Sequence, u.Sequence)
	}
	// First trade also unlocks "First Steps" (50 tokens).
	want := -stake + fpmath.Tokens(50)
	if got, _ := balanceOf(u, ledger.PlayerAccount(bob).AccountPath()); got != want {
		t.Errorf("buyer delta: got %d, want %d", got, want)
	}
	if len(u.Markets) != 1 || u.Markets[0].ParticipantCount != 1 {
		t.Errorf("market after trade: %+v", u.Markets)
	}

	// Deltas net to zero across the batch.
	var sum int64
	for _, b := range u.Balances {
		sum += b.Delta
	}
	if sum != 0 {
		t.Errorf("balance deltas sum to %d, want 0", sum)
	}
}

func TestFold_BalancesSortedByPath(t *testing.T) {
	f := newFixture(t)
	f.mustApply(alice, &event.RegisterPlayer{DisplayName: "alice"})
	u := f.mustApply(alice, &event.CreateMarket{
		Title:            "Sorted?",
		OutcomeNames:     []string{"A", "B", "C"},
		DurationSeconds:  7_200,
		ResolutionMethod: event.ResolutionAutomated,
	})
	for i := 1; i < len(u.Balances); i++ {
		if u.Balances[i-1].AccountPath >= u.Balances[i].AccountPath {
			t.Fatalf("balances not sorted: %q before %q", u.Balances[i-1].AccountPath, u.Balances[i].AccountPath)
		}
	}
}

// ===========================================================================
// Malformed input
// ===========================================================================

func TestFold_RejectsMissingEnvelope(t *testing.T) {
	if _, err := projection.Fold(core.CoreOutput{}); err == nil {
		t.Fatal("expected error for output without envelope")
	}
}

func TestFold_RejectsUndecodablePlayer(t *testing.T) {
	out := core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 7},
		Writes:   []store.Write{{Key: "player/" + alice.String(), Value: []byte("{")}},
	}
	if _, err := projection.Fold(out); err == nil {
		t.Fatal("expected decode error")
	}
}
