package core_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/state"
	"PredictLedger/internal/store"

	"github.com/google/uuid"
)

// --- Test helpers ---

const (
	t0   int64 = 1_700_000_000_000_000
	hour int64 = 3600 * 1_000_000
	day        = 24 * hour
)

var (
	admin = playerID("admin")
	alice = playerID("alice")
	bob   = playerID("bob")
	carol = playerID("carol")
	dave  = playerID("dave")
)

func playerID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("player/"+name))
}

func tokens(n int64) int64 { return fpmath.Tokens(n) }

func testConfig() event.GameConfig {
	cfg := event.DefaultGameConfig()
	a := admin
	cfg.Admin = &a
	return cfg
}

// harness drives one core with a controllable clock and deterministic
// request ids.
type harness struct {
	t       *testing.T
	ctx     context.Context
	kv      store.Store
	core    *core.DeterministicCore
	persist chan core.CoreOutput
	proj    chan core.CoreOutput
	notify  chan core.CoreOutput
	nowUs   int64
	nextReq int

	// sequenced assigns upstream sequences 1, 2, 3... to every request.
	sequenced bool
	nextSeq   int64
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, store.NewMemoryStore(), 1024)
}

func newHarnessWith(t *testing.T, kv store.Store, projCap int) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		kv:      kv,
		persist: make(chan core.CoreOutput, 1024),
		proj:    make(chan core.CoreOutput, projCap),
		notify:  make(chan core.CoreOutput, 1024),
		nowUs:   t0,
	}
	h.core = core.NewDeterministicCore(kv, core.Outputs{
		Persist:    h.persist,
		Projection: h.proj,
		Notify:     h.notify,
	}, core.Options{})
	if err := h.core.Bootstrap(h.ctx, testConfig()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	return h
}

func (h *harness) request(caller uuid.UUID, op event.Operation) event.Request {
	h.nextReq++
	req := event.Request{
		RequestID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("request/%d", h.nextReq))),
		Caller:      caller,
		TimestampUs: h.nowUs,
		Operation:   op,
	}
	if h.sequenced {
		h.nextSeq++
		req.Sequence = h.nextSeq
	}
	return req
}

func (h *harness) exec(caller uuid.UUID, op event.Operation) event.Response {
	return h.core.Execute(h.ctx, h.request(caller, op))
}

func (h *harness) mustOK(caller uuid.UUID, op event.Operation) event.Response {
	h.t.Helper()
	resp := h.exec(caller, op)
	if !resp.OK {
		h.t.Fatalf("%s failed: %s: %s", op.OperationType(), resp.ErrorCode, resp.Error)
	}
	return resp
}

func (h *harness) mustReject(caller uuid.UUID, op event.Operation, code string) event.Response {
	h.t.Helper()
	resp := h.exec(caller, op)
	if resp.OK {
		h.t.Fatalf("%s: expected %s, got success", op.OperationType(), code)
	}
	if resp.ErrorCode != code {
		h.t.Fatalf("%s: expected %s, got %s (%s)", op.OperationType(), code, resp.ErrorCode, resp.Error)
	}
	return resp
}

func (h *harness) register(ids ...uuid.UUID) {
	h.t.Helper()
	for _, id := range ids {
		h.mustOK(id, &event.RegisterPlayer{DisplayName: id.String()[:8]})
	}
}

func (h *harness) createMarket(creator uuid.UUID, method event.ResolutionMethod, outcomes int) uint64 {
	h.t.Helper()
	names := make([]string, outcomes)
	for i := range names {
		names[i] = fmt.Sprintf("outcome-%d", i)
	}
	resp := h.mustOK(creator, &event.CreateMarket{
		Title:            "Will it rain tomorrow?",
		OutcomeNames:     names,
		DurationSeconds:  3600,
		ResolutionMethod: method,
	})
	var m state.Market
	decode(h.t, resp, &m)
	return m.ID
}

func (h *harness) buy(player uuid.UUID, market uint64, outcome uint32, amount int64) core.TradeResult {
	h.t.Helper()
	resp := h.mustOK(player, &event.BuyShares{Market: market, OutcomeID: outcome, Amount: amount})
	var tr core.TradeResult
	decode(h.t, resp, &tr)
	return tr
}

func (h *harness) advance(us int64) { h.nowUs += us }

func (h *harness) balance(key ledger.AccountKey) int64 {
	h.t.Helper()
	v, err := ledger.NewBalanceTracker(store.NewTxn(h.kv)).GetBalance(h.ctx, key)
	if err != nil {
		h.t.Fatalf("GetBalance(%s) failed: %v", key.AccountPath(), err)
	}
	return v
}

func (h *harness) market(id uint64) *state.Market {
	h.t.Helper()
	m, err := state.NewRepository(store.NewTxn(h.kv)).Market(h.ctx, id)
	if err != nil {
		h.t.Fatalf("Market(%d) failed: %v", id, err)
	}
	return m
}

func (h *harness) player(id uuid.UUID) *state.Player {
	h.t.Helper()
	p, err := state.NewRepository(store.NewTxn(h.kv)).Player(h.ctx, id)
	if err != nil {
		h.t.Fatalf("Player(%s) failed: %v", id, err)
	}
	return p
}

// checkConservation asserts supply == players + guilds + escrow + treasury
// and that the mint account mirrors it.
func (h *harness) checkConservation() {
	h.t.Helper()
	txn := store.NewTxn(h.kv)
	supply, err := state.NewRepository(txn).TotalSupply(h.ctx)
	if err != nil {
		h.t.Fatalf("TotalSupply failed: %v", err)
	}
	holdings, err := ledger.NewBalanceTracker(txn).ComputeHoldings(h.ctx)
	if err != nil {
		h.t.Fatalf("ComputeHoldings failed: %v", err)
	}
	if holdings.Circulating() != supply {
		h.t.Fatalf("conservation broken: supply %d, held %d (%+v)", supply, holdings.Circulating(), holdings)
	}
	if holdings.Mint != -supply {
		h.t.Fatalf("mint account %d does not mirror supply %d", holdings.Mint, supply)
	}
}

func decode(t *testing.T, resp event.Response, v any) {
	t.Helper()
	if err := json.Unmarshal(resp.Result, v); err != nil {
		t.Fatalf("decode result %s: %v", resp.Result, err)
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func notificationsOf(outputs []core.CoreOutput) []event.Notification {
	var out []event.Notification
	for _, o := range outputs {
		out = append(out, o.Notifications...)
	}
	return out
}

// failingStore fails every commit while fail is set.
type failingStore struct {
	store.Store
	fail bool
}

func (s *failingStore) Apply(ctx context.Context, writes []store.Write) error {
	if s.fail {
		return fmt.Errorf("%w: injected apply failure", store.ErrStorage)
	}
	return s.Store.Apply(ctx, writes)
}

// ============================================================================
// Test: Registration
// ============================================================================

func TestRegisterPlayer_MintsInitialGrant(t *testing.T) {
	h := newHarness(t)

	resp := h.mustOK(alice, &event.RegisterPlayer{DisplayName: "alice"})
	if resp.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", resp.Sequence)
	}
	if got := h.balance(ledger.PlayerAccount(alice)); got != tokens(1000) {
		t.Errorf("expected balance %d, got %d", tokens(1000), got)
	}

	outputs := drainOutputs(h.persist)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	batch := outputs[0].Batch
	if len(batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(batch.Journals))
	}
	j := batch.Journals[0]
	if !j.IsMint() || j.JournalType != ledger.JournalTypeRegistrationGrant {
		t.Errorf("expected registration mint, got %s", j.JournalType)
	}
	h.checkConservation()

	h.mustReject(alice, &event.RegisterPlayer{DisplayName: "again"}, "PlayerAlreadyExists")
	if got := h.core.GetSequence(); got != 1 {
		t.Errorf("rejection consumed a sequence: %d", got)
	}
	if n := len(drainOutputs(h.persist)); n != 0 {
		t.Errorf("rejection emitted %d outputs", n)
	}
}

func TestUpdateProfile_RenamesWithoutMinting(t *testing.T) {
	h := newHarness(t)
	h.mustReject(alice, &event.UpdateProfile{DisplayName: "ghost"}, "PlayerNotFound")
	h.register(alice)

	h.mustOK(alice, &event.UpdateProfile{DisplayName: "alice the bold"})
	if p := h.player(alice); p.DisplayName != "alice the bold" {
		t.Errorf("display name not updated: %q", p.DisplayName)
	}
	if got := h.balance(ledger.PlayerAccount(alice)); got != tokens(1000) {
		t.Errorf("rename changed balance: %d", got)
	}
	h.checkConservation()
}

// ============================================================================
// Test: Market Creation
// ============================================================================

func TestCreateMarket_ChargesCostAndRebates(t *testing.T) {
	h := newHarness(t)
	h.register(alice)
	drainOutputs(h.notify)

	id := h.createMarket(alice, event.ResolutionOracleVoting, 3)
	if id != 0 {
		t.Errorf("expected first market id 0, got %d", id)
	}
	if got := h.balance(ledger.PlayerAccount(alice)); got != tokens(902) {
		t.Errorf("creator balance: expected %d, got %d", tokens(902), got)
	}
	if got := h.balance(ledger.TreasuryAccount()); got != tokens(98) {
		t.Errorf("treasury: expected %d, got %d", tokens(98), got)
	}

	m := h.market(id)
	if m.Status != state.MarketActive || len(m.Outcomes) != 3 {
		t.Fatalf("unexpected market: status=%s outcomes=%d", m.Status, len(m.Outcomes))
	}
	for _, o := range m.Outcomes {
		if o.CurrentPrice != state.DefaultBasePrice {
			t.Errorf("outcome %d starts at %d", o.ID, o.CurrentPrice)
		}
	}
	if m.EndTimeUs != t0+hour {
		t.Errorf("end time: expected %d, got %d", t0+hour, m.EndTimeUs)
	}
	if p := h.player(alice); p.MarketsCreated != 1 {
		t.Errorf("expected 1 market created, got %d", p.MarketsCreated)
	}

	notes := notificationsOf(drainOutputs(h.notify))
	if len(notes) != 1 || notes[0].Type != event.NotificationMarketCreated {
		t.Fatalf("expected one MarketCreated notification, got %+v", notes)
	}
	if notes[0].DedupKey != "2:0" {
		t.Errorf("expected dedup key 2:0, got %s", notes[0].DedupKey)
	}
	h.checkConservation()
}

func TestCreateMarket_ValidationRejects(t *testing.T) {
	h := newHarness(t)
	h.register(alice)

	h.mustReject(alice, &event.CreateMarket{Title: "x", OutcomeNames: []string{"only"}, DurationSeconds: 3600},
		"InvalidOutcomeCount")
	h.mustReject(alice, &event.CreateMarket{Title: "x", OutcomeNames: make([]string, 11), DurationSeconds: 3600},
		"InvalidOutcomeCount")
	h.mustReject(alice, &event.CreateMarket{Title: "x", OutcomeNames: []string{"a", "b"}, DurationSeconds: 60},
		"DurationTooShort")
	h.mustReject(alice, &event.CreateMarket{Title: "x", OutcomeNames: []string{"a", "b"}, DurationSeconds: 3599},
		"DurationTooShort")
	h.mustReject(alice, &event.CreateMarket{Title: "x", OutcomeNames: []string{"a", "b"}, DurationSeconds: 3600,
		ResolutionMethod: event.ResolutionMethod(7)}, "InvalidResolutionMethod")
	h.mustReject(bob, &event.CreateMarket{Title: "x", OutcomeNames: []string{"a", "b"}, DurationSeconds: 3600},
		"PlayerNotFound")

	if got := h.balance(ledger.PlayerAccount(alice)); got != tokens(1000) {
		t.Errorf("rejections moved funds: balance %d", got)
	}
}

func TestCreateMarket_AcceptsExactLimits(t *testing.T) {
	h := newHarness(t)
	h.register(alice)

	// Duration exactly at min_market_duration_seconds.
	var m state.Market
	decode(t, h.mustOK(alice, &event.CreateMarket{
		Title:           "fence",
		OutcomeNames:    []string{"a", "b"},
		DurationSeconds: 3600,
	}), &m)
	if m.EndTimeUs != t0+3600*1_000_000 {
		t.Errorf("end time: expected %d, got %d", t0+3600*1_000_000, m.EndTimeUs)
	}

	// Exactly max_outcomes_per_market outcomes.
	names := make([]string, 10)
	for i := range names {
		names[i] = fmt.Sprintf("outcome-%d", i)
	}
	decode(t, h.mustOK(alice, &event.CreateMarket{
		Title:           "many",
		OutcomeNames:    names,
		DurationSeconds: 3600,
	}), &m)
	if len(m.Outcomes) != 10 {
		t.Errorf("expected 10 outcomes, got %d", len(m.Outcomes))
	}
	h.checkConservation()
}

// ============================================================================
// Test: Trading
// ============================================================================

func TestBuyShares_MovesStakeAndFees(t *testing.T) {
	h := newHarness(t)
	h.register(alice, bob)
	id := h.createMarket(alice, event.ResolutionOracleVoting, 2)

	tr := h.buy(bob, id, 0, tokens(100))
	if tr.Price != 1_000_000 || tr.Shares != 99_500_000 {
		t.Errorf("expected 99.5 shares at 1.0, got %d at %d", tr.Shares, tr.Price)
	}
	if tr.Fee != 500_000 || tr.Net != 99_500_000 {
		t.Errorf("expected fee 0.5 net 99.5, got fee %d net %d", tr.Fee, tr.Net)
	}

	// bob: 1000 - 100 + 50 (First Steps)
	if got := h.balance(ledger.PlayerAccount(bob)); got != 950_000_000 {
		t.Errorf("buyer balance: expected 950000000, got %d", got)
	}
	if got := h.balance(ledger.PlayerAccount(alice)); got != 902_250_000 {
		t.Errorf("creator balance: expected 902250000, got %d", got)
	}
	if got := h.balance(ledger.TreasuryAccount()); got != 98_250_000 {
		t.Errorf("treasury: expected 98250000, got %d", got)
	}
	if got := h.balance(ledger.MarketEscrowAccount(id)); got != 99_500_000 {
		t.Errorf("escrow: expected 99500000, got %d", got)
	}

	m := h.market(id)
	if m.TotalLiquidity != 99_500_000 || m.Outcomes[0].TotalShares != 99_500_000 {
		t.Errorf("market state: liquidity=%d shares=%d", m.TotalLiquidity, m.Outcomes[0].TotalShares)
	}
	if m.ParticipantCount != 1 {
		t.Errorf("expected 1 participant, got %d", m.ParticipantCount)
	}

	p := h.player(bob)
	if p.MarketsParticipated != 1 || !p.HasAchievement(1) {
		t.Errorf("expected first participation and First Steps, got %+v", p)
	}
	if p.Level != 2 || p.XP != 10 {
		t.Errorf("expected level 2 with 10 xp, got level %d xp %d", p.Level, p.XP)
	}

	// A second buy in the same market does not count as new participation.
	h.buy(bob, id, 1, tokens(10))
	if p := h.player(bob); p.MarketsParticipated != 1 {
		t.Errorf("participation counted twice: %d", p.MarketsParticipated)
	}
	h.checkConservation()
}

func TestSellShares_ReturnsProceeds(t *testing.T) {
	h := newHarness(t)
	h.register(alice, bob)
	id := h.createMarket(alice, event.ResolutionOracleVoting, 2)
	h.buy(bob, id, 0, tokens(100))

	resp := h.mustOK(bob, &event.SellShares{Market: id, OutcomeID: 0, Shares: 99_500_000})
	var tr core.TradeResult
	decode(t, resp, &tr)
	if tr.Price != 1_000_000 || tr.Gross != 99_500_000 || tr.Fee != 497_500 || tr.Net != 99_002_500 {
		t.Errorf("unexpected sale: %+v", tr)
	}

	if got := h.balance(ledger.PlayerAccount(bob)); got != 1_049_002_500 {
		t.Errorf("seller balance: expected 1049002500, got %d", got)
	}
	if got := h.balance(ledger.MarketEscrowAccount(id)); got != 0 {
		t.Errorf("escrow should be empty, got %d", got)
	}
	if got := h.balance(ledger.PlayerAccount(alice)); got != 902_498_750 {
		t.Errorf("creator balance: expected 902498750, got %d", got)
	}
	if got := h.balance(ledger.TreasuryAccount()); got != 98_498_750 {
		t.Errorf("treasury: expected 98498750, got %d", got)
	}

	h.mustReject(bob, &event.SellShares{Market: id, OutcomeID: 0, Shares: 1}, "InsufficientShares")
	h.mustReject(alice, &event.SellShares{Market: id, OutcomeID: 0, Shares: 1}, "NoPosition")
	h.checkConservation()
}

func TestRejectedTrade_LeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.register(alice, bob)
	id := h.createMarket(alice, event.ResolutionAutomated, 2)
	drainOutputs(h.persist)

	before, err := h.kv.Get(h.ctx, state.MarketKey(id))
	if err != nil {
		t.Fatalf("Get market failed: %v", err)
	}
	seq, hash := h.core.GetSequence(), h.core.GetStateHash()

	h.mustReject(bob, &event.BuyShares{Market: id, OutcomeID: 0, Amount: tokens(2000)}, "InsufficientBalance")
	h.mustReject(bob, &event.BuyShares{Market: id, OutcomeID: 5, Amount: tokens(1)}, "InvalidOutcome")
	h.mustReject(bob, &event.BuyShares{Market: 42, OutcomeID: 0, Amount: tokens(1)}, "MarketNotFound")
	h.mustReject(bob, &event.BuyShares{Market: id, OutcomeID: 0, Amount: 0}, "InvalidAmount")
	h.mustReject(bob, &event.SellShares{Market: id, OutcomeID: 0, Shares: 0}, "InvalidAmount")

	after, err := h.kv.Get(h.ctx, state.MarketKey(id))
	if err != nil {
		t.Fatalf("Get market failed: %v", err)
	}
	if string(before) != string(after) {
		t.Error("rejected trades changed the market record")
	}
	if h.core.GetSequence() != seq || h.core.GetStateHash() != hash {
		t.Error("rejected trades advanced the chain")
	}
	if n := len(drainOutputs(h.persist)); n != 0 {
		t.Errorf("rejected trades emitted %d outputs", n)
	}
	if got := h.balance(ledger.PlayerAccount(bob)); got != tokens(1000) {
		t.Errorf("rejected trades moved funds: %d", got)
	}

	h.advance(hour)
	h.mustReject(bob, &event.BuyShares{Market: id, OutcomeID: 0, Amount: tokens(1)}, "MarketEnded")
}

func TestSlippageBounds_AreInclusive(t *testing.T) {
	h := newHarness(t)
	h.register(alice, bob, carol)
	id := h.createMarket(alice, event.ResolutionOracleVoting, 2)
	h.buy(bob, id, 0, tokens(100))

	// Outcome 0 holds all liquidity, so it is priced at exactly 1.0.
	h.mustReject(carol, &event.BuyShares{Market: id, OutcomeID: 0, Amount: tokens(10), MaxPricePerShare: 999_999},
		"SlippageExceeded")
	h.mustReject(bob, &event.SellShares{Market: id, OutcomeID: 0, Shares: tokens(10), MinPricePerShare: 1_000_001},
		"SlippageExceeded")

	h.mustOK(bob, &event.SellShares{Market: id, OutcomeID: 0, Shares: tokens(10), MinPricePerShare: 1_000_000})
	h.mustOK(carol, &event.BuyShares{Market: id, OutcomeID: 0, Amount: tokens(10), MaxPricePerShare: 1_000_000})
	h.checkConservation()
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestDuplicateRequest_ReturnsStoredResponse(t *testing.T) {
	h := newHarness(t)

	req := h.request(alice, &event.RegisterPlayer{DisplayName: "alice"})
	first := h.core.Execute(h.ctx, req)
	if !first.OK {
		t.Fatalf("first execution failed: %s", first.Error)
	}
	second := h.core.Execute(h.ctx, req)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("duplicate response differs:\n%+v\n%+v", first, second)
	}
	if h.core.GetSequence() != 1 {
		t.Errorf("duplicate consumed a sequence: %d", h.core.GetSequence())
	}
	if n := len(drainOutputs(h.persist)); n != 1 {
		t.Errorf("expected 1 output, got %d", n)
	}
	if got := h.balance(ledger.PlayerAccount(alice)); got != tokens(1000) {
		t.Errorf("duplicate minted twice: %d", got)
	}

	// Rejections are answered the same way on redelivery.
	dup := h.request(alice, &event.RegisterPlayer{DisplayName: "again"})
	r1 := h.core.Execute(h.ctx, dup)
	r2 := h.core.Execute(h.ctx, dup)
	if r1.OK || !reflect.DeepEqual(r1, r2) {
		t.Errorf("rejection not replayed: %+v vs %+v", r1, r2)
	}

	// A fresh core over the same store answers from the stored response.
	restarted := core.NewDeterministicCore(h.kv, core.Outputs{}, core.Options{})
	if err := restarted.Bootstrap(h.ctx, testConfig()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	third := restarted.Execute(h.ctx, req)
	if !reflect.DeepEqual(first, third) {
		t.Errorf("restarted core answered differently: %+v", third)
	}
	if restarted.GetSequence() != 1 {
		t.Errorf("restarted core sequence: expected 1, got %d", restarted.GetSequence())
	}
}

// ============================================================================
// Test: Sequence Validation
// ============================================================================

func TestSequenceValidation_GapAndOutOfOrder(t *testing.T) {
	h := newHarness(t)
	at := func(seq int64, caller uuid.UUID, op event.Operation) event.Request {
		req := h.request(caller, op)
		req.Sequence = seq
		return req
	}

	req1 := at(1, alice, &event.RegisterPlayer{DisplayName: "alice"})
	if resp := h.core.Execute(h.ctx, req1); !resp.OK {
		t.Fatalf("seq 1 failed: %s", resp.Error)
	}

	req3 := at(3, carol, &event.RegisterPlayer{DisplayName: "carol"})
	if resp := h.core.Execute(h.ctx, req3); resp.ErrorCode != core.CodeSequenceGap {
		t.Fatalf("expected SequenceGap, got %+v", resp)
	}

	// The gap was not recorded: filling it lets seq 3 through.
	if resp := h.core.Execute(h.ctx, at(2, bob, &event.RegisterPlayer{DisplayName: "bob"})); !resp.OK {
		t.Fatalf("seq 2 failed: %s", resp.Error)
	}
	if resp := h.core.Execute(h.ctx, req3); !resp.OK {
		t.Fatalf("seq 3 retry failed: %s", resp.Error)
	}

	if resp := h.core.Execute(h.ctx, at(2, dave, &event.RegisterPlayer{DisplayName: "dave"})); resp.ErrorCode != core.CodeOutOfOrder {
		t.Fatalf("expected OutOfOrder, got %+v", resp)
	}

	// Redelivery of an old request is a duplicate, not out of order.
	if resp := h.core.Execute(h.ctx, req1); !resp.OK || resp.Sequence != 1 {
		t.Fatalf("redelivered seq 1: %+v", resp)
	}

	// A rejection still consumes its upstream sequence.
	h.core.Execute(h.ctx, at(4, alice, &event.RegisterPlayer{DisplayName: "again"}))
	if resp := h.core.Execute(h.ctx, at(5, dave, &event.RegisterPlayer{DisplayName: "dave"})); !resp.OK {
		t.Fatalf("seq 5 after rejected seq 4: %+v", resp)
	}
	if h.core.GetSequence() != 4 {
		t.Errorf("expected core sequence 4, got %d", h.core.GetSequence())
	}
}

// ============================================================================
// Test: State Hash Chain
// ============================================================================

// openScenario registers players, opens an automated market and trades.
func openScenario(h *harness) uint64 {
	h.register(alice, bob, carol)
	id := h.createMarket(alice, event.ResolutionAutomated, 2)
	h.buy(bob, id, 0, tokens(100))
	h.buy(carol, id, 1, tokens(40))
	h.mustReject(alice, &event.SellShares{Market: id, OutcomeID: 0, Shares: 1}, "NoPosition")
	return id
}

// settleScenario sells, resolves and claims on the market from openScenario.
func settleScenario(h *harness, id uint64) {
	h.mustOK(bob, &event.SellShares{Market: id, OutcomeID: 0, Shares: tokens(10)})
	h.mustOK(alice, &event.CreateGuild{Name: "forecasters"})
	h.mustOK(bob, &event.JoinGuild{GuildID: 1})
	h.advance(2 * hour)
	h.mustOK(carol, &event.TriggerResolution{Market: id})
	h.mustOK(bob, &event.ClaimWinnings{Market: id})
}

func TestStateHashChain_Deterministic(t *testing.T) {
	run := func() ([]core.CoreOutput, [32]byte, [32]byte) {
		h := newHarness(t)
		genesis := h.core.GetStateHash()
		settleScenario(h, openScenario(h))
		return drainOutputs(h.persist), genesis, h.core.GetStateHash()
	}

	out1, genesis1, tip1 := run()
	out2, genesis2, tip2 := run()

	if genesis1 != genesis2 || tip1 != tip2 {
		t.Fatalf("chain differs: genesis %x/%x tip %x/%x", genesis1, genesis2, tip1, tip2)
	}
	if len(out1) != len(out2) {
		t.Fatalf("different number of outputs: %d vs %d", len(out1), len(out2))
	}

	prev := genesis1
	seen := map[[32]byte]bool{}
	for i := range out1 {
		e1, e2 := out1[i].Envelope, out2[i].Envelope
		if e1.StateHash != e2.StateHash {
			t.Errorf("hash %d differs: %x vs %x", i, e1.StateHash, e2.StateHash)
		}
		if e1.PrevHash != prev {
			t.Errorf("envelope %d does not link to its predecessor", e1.Sequence)
		}
		if seen[e1.StateHash] {
			t.Errorf("envelope %d repeats a state hash", e1.Sequence)
		}
		if e1.Sequence != int64(i+1) {
			t.Errorf("envelope %d has sequence %d", i, e1.Sequence)
		}
		seen[e1.StateHash] = true
		prev = e1.StateHash

		for k := range out1[i].Batch.Journals {
			if out1[i].Batch.Journals[k].JournalID != out2[i].Batch.Journals[k].JournalID {
				t.Errorf("journal ids differ at sequence %d", e1.Sequence)
			}
		}
	}
}

func TestEnvelope_HasCorrectFields(t *testing.T) {
	h := newHarness(t)
	h.register(alice)
	h.advance(5)
	req := h.request(alice, &event.CreateMarket{
		Title:           "Rain?",
		OutcomeNames:    []string{"yes", "no"},
		DurationSeconds: 7200,
	})
	h.core.Execute(h.ctx, req)

	outputs := drainOutputs(h.persist)
	env := outputs[len(outputs)-1].Envelope
	if env.Sequence != 2 || env.IdempotencyKey != req.IdempotencyKey() {
		t.Errorf("unexpected envelope identity: %+v", env)
	}
	if env.OperationType != event.OperationTypeCreateMarket || env.Caller != alice {
		t.Errorf("unexpected operation or caller: %s %s", env.OperationType, env.Caller)
	}
	if env.TimestampUs != t0+5 {
		t.Errorf("expected input timestamp %d, got %d", t0+5, env.TimestampUs)
	}
	decoded, err := event.DecodeRequest(env.Payload)
	if err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if decoded.RequestID != req.RequestID {
		t.Errorf("payload request id %s", decoded.RequestID)
	}
	var resp event.Response
	if err := json.Unmarshal(env.Response, &resp); err != nil || !resp.OK {
		t.Errorf("envelope response: %v %+v", err, resp)
	}
}

// ============================================================================
// Test: Resolution and Settlement
// ============================================================================

func TestTriggerResolution_AutomatedAndIdempotent(t *testing.T) {
	h := newHarness(t)
	h.register(alice, bob, carol)
	id := h.createMarket(alice, event.ResolutionAutomated, 2)
	h.buy(bob, id, 1, tokens(100))
	h.buy(carol, id, 0, tokens(50))

	h.mustReject(carol, &event.TriggerResolution{Market: id}, "MarketNotEnded")
	h.advance(hour)
	drainOutputs(h.notify)

	var res state.ResolutionResult
	decode(t, h.mustOK(carol, &event.TriggerResolution{Market: id}), &res)
	if res.Winner == nil || *res.Winner != 1 || res.Status != state.MarketResolved {
		t.Fatalf("expected outcome 1 resolved, got %+v", res)
	}
	resolved := 0
	for _, n := range notificationsOf(drainOutputs(h.notify)) {
		if n.Type == event.NotificationMarketResolved {
			resolved++
		}
	}
	if resolved != 1 {
		t.Errorf("expected one MarketResolved, got %d", resolved)
	}

	decode(t, h.mustOK(carol, &event.TriggerResolution{Market: id}), &res)
	if !res.AlreadyResolved {
		t.Error("second trigger should report already resolved")
	}
	if n := len(drainOutputs(h.notify)); n != 0 {
		t.Errorf("second trigger notified %d times", n)
	}
	h.mustReject(bob, &event.BuyShares{Market: id, OutcomeID: 1, Amount: tokens(1)}, "MarketNotActive")

	var claim state.Claim
	decode(t, h.mustOK(bob, &event.ClaimWinnings{Market: id}), &claim)
	if claim.Payout != 149_250_000 || claim.Profit != 49_250_000 {
		t.Errorf("unexpected claim: %+v", claim)
	}
	h.mustReject(bob, &event.ClaimWinnings{Market: id}, "NoWinnings")
	h.mustReject(carol, &event.ClaimWinnings{Market: id}, "NoWinnings")

	if got := h.balance(ledger.MarketEscrowAccount(id)); got != 0 {
		t.Errorf("escrow should be drained, got %d", got)
	}
	if p := h.player(bob); p.MarketsWon != 1 || p.WinStreak != 1 || p.TotalProfit != 49_250_000 {
		t.Errorf("winner stats: %+v", p)
	}
	if p := h.player(carol); p.TotalProfit != -tokens(50) || p.WinStreak != 0 || len(p.ActiveMarkets) != 0 {
		t.Errorf("loser stats: %+v", p)
	}
	h.checkConservation()
}

func TestClaimWinnings_LastClaimantGetsRemainder(t *testing.T) {
	h := newHarness(t)
	h.register(alice, bob, carol, dave)
	id := h.createMarket(alice, event.ResolutionAutomated, 2)
	h.buy(bob, id, 0, tokens(100))
	h.buy(carol, id, 0, tokens(30))
	h.buy(dave, id, 1, tokens(10))

	h.mustReject(bob, &event.ClaimWinnings{Market: id}, "NotResolved")
	h.advance(hour)
	h.mustOK(alice, &event.TriggerResolution{Market: id})

	m := h.market(id)
	if m.PayoutPool != 139_300_000 || m.RemainingWinningShares != 129_350_000 {
		t.Fatalf("settlement pool: %d over %d shares", m.PayoutPool, m.RemainingWinningShares)
	}

	var first, last state.Claim
	decode(t, h.mustOK(bob, &event.ClaimWinnings{Market: id}), &first)
	decode(t, h.mustOK(carol, &event.ClaimWinnings{Market: id}), &last)
	if first.Payout != 107_153_846 {
		t.Errorf("proportional payout: expected 107153846, got %d", first.Payout)
	}
	if last.Payout != 32_146_154 {
		t.Errorf("last claimant: expected remainder 32146154, got %d", last.Payout)
	}
	h.mustReject(dave, &event.ClaimWinnings{Market: id}, "NoWinnings")

	if got := h.balance(ledger.MarketEscrowAccount(id)); got != 0 {
		t.Errorf("escrow should be drained, got %d", got)
	}
	h.checkConservation()
}

func TestCreatorTradingOwnMarket_ProfitMatchesBalance(t *testing.T) {
	h := newHarness(t)
	h.register(alice, bob)
	id := h.createMarket(alice, event.ResolutionAutomated, 2)
	before := h.balance(ledger.PlayerAccount(alice))

	// fee 500_000: the creator half stays with alice, so she pays 99.75.
	h.buy(alice, id, 0, tokens(100))
	if got := h.market(id).Positions[alice].TotalInvested; got != 99_750_000 {
		t.Errorf("invested: expected 99750000, got %d", got)
	}
	if got := h.player(alice).TotalSpent - tokens(100); got != 99_750_000 {
		t.Errorf("spent on trade: expected 99750000, got %d", got)
	}

	h.advance(hour)
	h.mustOK(bob, &event.TriggerResolution{Market: id})
	var claim state.Claim
	decode(t, h.mustOK(alice, &event.ClaimWinnings{Market: id}), &claim)

	// First Steps unlocked on the buy mints 50.
	delta := h.balance(ledger.PlayerAccount(alice)) - before - tokens(50)
	if claim.Profit != delta || delta != -250_000 {
		t.Errorf("realized profit %d, balance moved %d, expected -250000", claim.Profit, delta)
	}
	h.checkConservation()
}

func TestOracleVoting_TieGoesToLowestOutcome(t *testing.T) {
	h := newHarness(t)
	h.register(alice, bob, carol)
	id := h.createMarket(alice, event.ResolutionOracleVoting, 3)
	h.buy(bob, id, 0, tokens(20))
	h.buy(carol, id, 1, tokens(20))

	h.mustReject(bob, &event.VoteOnOutcome{Market: id, OutcomeID: 1}, "MarketNotReadyForVoting")

	h.advance(hour)
	var res state.ResolutionResult
	decode(t, h.mustOK(alice, &event.TriggerResolution{Market: id}), &res)
	if !res.Pending || res.Status != state.MarketClosed {
		t.Fatalf("expected pending closed market, got %+v", res)
	}

	h.mustOK(bob, &event.VoteOnOutcome{Market: id, OutcomeID: 1})
	h.mustOK(carol, &event.VoteOnOutcome{Market: id, OutcomeID: 0})
	h.mustReject(bob, &event.VoteOnOutcome{Market: id, OutcomeID: 0}, "AlreadyVoted")
	h.mustReject(alice, &event.VoteOnOutcome{Market: id, OutcomeID: 9}, "InvalidOutcome")

	decode(t, h.mustOK(alice, &event.TriggerResolution{Market: id}), &res)
	if !res.Pending {
		t.Fatal("trigger inside the voting window must stay pending")
	}

	h.advance(day)
	h.mustReject(alice, &event.VoteOnOutcome{Market: id, OutcomeID: 2}, "MarketNotReadyForVoting")
	decode(t, h.mustOK(alice, &event.TriggerResolution{Market: id}), &res)
	if res.Winner == nil || *res.Winner != 0 {
		t.Fatalf("equal weights must resolve to outcome 0, got %+v", res)
	}
	h.mustOK(carol, &event.ClaimWinnings{Market: id})
	h.checkConservation()
}

func TestOracleVoting_NoVotesIsNotReady(t *testing.T) {
	h := newHarness(t)
	h.register(alice, bob)
	id := h.createMarket(alice, event.ResolutionOracleVoting, 2)
	h.buy(bob, id, 0, tokens(20))

	h.advance(hour)
	h.mustOK(alice, &event.TriggerResolution{Market: id})
	h.advance(day)
	h.mustReject(alice, &event.TriggerResolution{Market: id}, "OracleNotReady")

	if m := h.market(id); m.Status != state.MarketClosed {
		t.Errorf("market should stay closed, got %s", m.Status)
	}
}

func TestCreatorDecides_OnlyCreatorAfterEnd(t *testing.T) {
	h := newHarness(t)
	h.register(alice, bob)
	id := h.createMarket(alice, event.ResolutionCreatorDecides, 2)
	oracle := h.createMarket(alice, event.ResolutionOracleVoting, 2)
	h.buy(bob, id, 0, tokens(100))

	h.mustReject(bob, &event.ResolveMarket{Market: id, OutcomeID: 0}, "Unauthorized")
	h.mustReject(alice, &event.ResolveMarket{Market: id, OutcomeID: 0}, "MarketNotEnded")

	h.advance(hour)
	var res state.ResolutionResult
	decode(t, h.mustOK(bob, &event.TriggerResolution{Market: id}), &res)
	if !res.Pending {
		t.Fatalf("trigger should leave the creator to decide, got %+v", res)
	}
	h.mustReject(alice, &event.ResolveMarket{Market: oracle, OutcomeID: 0}, "InvalidResolutionMethod")
	h.mustReject(alice, &event.ResolveMarket{Market: id, OutcomeID: 4}, "InvalidOutcome")

	decode(t, h.mustOK(alice, &event.ResolveMarket{Market: id, OutcomeID: 0}), &res)
	if res.Winner == nil || *res.Winner != 0 {
		t.Fatalf("expected outcome 0, got %+v", res)
	}

	var claim state.Claim
	decode(t, h.mustOK(bob, &event.ClaimWinnings{Market: id}), &claim)
	if claim.Payout != 99_500_000 {
		t.Errorf("sole winner takes the pool: got %d", claim.Payout)
	}
	h.checkConservation()
}

// ============================================================================
// Test: Peripheral Operations
// ============================================================================

func TestClaimDailyReward_Cooldown(t *testing.T) {
	h := newHarness(t)
	h.register(alice)

	h.mustReject(alice, &event.ClaimDailyReward{}, "DailyRewardAlreadyClaimed")
	h.advance(day)

	var res core.DailyRewardResult
	decode(t, h.mustOK(alice, &event.ClaimDailyReward{}), &res)
	if res.Amount != tokens(50) || res.NextClaimUs != h.nowUs+day {
		t.Errorf("unexpected reward: %+v", res)
	}
	if got := h.balance(ledger.PlayerAccount(alice)); got != tokens(1050) {
		t.Errorf("expected balance %d, got %d", tokens(1050), got)
	}

	h.advance(day - 1)
	h.mustReject(alice, &event.ClaimDailyReward{}, "DailyRewardAlreadyClaimed")
	h.checkConservation()
}

func TestGuild_Lifecycle(t *testing.T) {
	h := newHarness(t)
	h.register(alice, bob, carol)

	var g state.Guild
	decode(t, h.mustOK(alice, &event.CreateGuild{Name: "forecasters"}), &g)
	if g.ID != 1 || len(g.Members) != 1 {
		t.Fatalf("unexpected guild: %+v", g)
	}
	h.mustReject(alice, &event.CreateGuild{Name: "second"}, "AlreadyInGuild")
	h.mustReject(bob, &event.JoinGuild{GuildID: 99}, "GuildNotFound")
	h.mustOK(bob, &event.JoinGuild{GuildID: 1})
	h.mustReject(bob, &event.JoinGuild{GuildID: 1}, "AlreadyInGuild")

	h.mustReject(bob, &event.ContributeToGuild{Amount: 0}, "InvalidAmount")
	h.mustReject(carol, &event.ContributeToGuild{Amount: tokens(1)}, "NotGuildMember")
	h.mustReject(bob, &event.ContributeToGuild{Amount: tokens(5000)}, "InsufficientBalance")
	h.mustOK(bob, &event.ContributeToGuild{Amount: tokens(25)})

	if got := h.balance(ledger.GuildPoolAccount(1)); got != tokens(25) {
		t.Errorf("guild pool: expected %d, got %d", tokens(25), got)
	}
	// 1000 + 150 (Guild Leader) - 25
	if got := h.balance(ledger.PlayerAccount(bob)); got != tokens(1125) {
		t.Errorf("member balance: expected %d, got %d", tokens(1125), got)
	}

	h.mustOK(bob, &event.LeaveGuild{})
	h.mustReject(bob, &event.LeaveGuild{}, "NotGuildMember")
	if p := h.player(bob); p.GuildID != nil {
		t.Errorf("bob still in guild %d", *p.GuildID)
	}
	// Contributions stay in the pool.
	if got := h.balance(ledger.GuildPoolAccount(1)); got != tokens(25) {
		t.Errorf("pool changed on leave: %d", got)
	}
	h.checkConservation()
}

func TestUpdateGameConfig_AdminOnly(t *testing.T) {
	h := newHarness(t)
	h.register(bob)

	cfg := testConfig()
	cfg.DailyLoginReward = tokens(75)
	h.mustReject(bob, &event.UpdateGameConfig{Config: cfg}, "NotAdmin")

	bad := cfg
	bad.TradingFeeBps = 10_000
	h.mustReject(admin, &event.UpdateGameConfig{Config: bad}, "InvalidConfig")

	// A voting window that would wrap past int64 is refused up front.
	bad = cfg
	bad.OracleVotingDurationSeconds = 10_000_000_000_000
	h.mustReject(admin, &event.UpdateGameConfig{Config: bad}, "InvalidConfig")

	h.mustOK(admin, &event.UpdateGameConfig{Config: cfg})
	h.advance(day)
	var res core.DailyRewardResult
	decode(t, h.mustOK(bob, &event.ClaimDailyReward{}), &res)
	if res.Amount != tokens(75) {
		t.Errorf("updated reward not applied: %d", res.Amount)
	}
}

// ============================================================================
// Test: Randomized Conservation
// ============================================================================

func TestRandomOperations_PreserveConservation(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(42))
	players := []uuid.UUID{alice, bob, carol, dave}
	h.register(players...)
	methods := []event.ResolutionMethod{
		event.ResolutionOracleVoting,
		event.ResolutionAutomated,
		event.ResolutionCreatorDecides,
	}

	var markets uint64
	applied := 0
	for i := 0; i < 600; i++ {
		caller := players[rng.Intn(len(players))]
		market := uint64(rng.Int63n(int64(markets) + 1))
		outcome := uint32(rng.Intn(3))

		var op event.Operation
		switch rng.Intn(10) {
		case 0:
			op = &event.CreateMarket{
				Title:            fmt.Sprintf("market %d", i),
				OutcomeNames:     []string{"yes", "no", "maybe"},
				DurationSeconds:  3600 + rng.Int63n(7200),
				ResolutionMethod: methods[rng.Intn(len(methods))],
			}
		case 1, 2, 3:
			op = &event.BuyShares{Market: market, OutcomeID: outcome, Amount: 1 + rng.Int63n(tokens(150))}
		case 4:
			shares := 1 + rng.Int63n(tokens(10))
			if market < markets {
				if pos := h.market(market).Positions[caller]; pos != nil && pos.Shares(outcome) > 0 {
					shares = 1 + rng.Int63n(pos.Shares(outcome))
				}
			}
			op = &event.SellShares{Market: market, OutcomeID: outcome, Shares: shares}
		case 5:
			op = &event.TriggerResolution{Market: market}
		case 6:
			op = &event.VoteOnOutcome{Market: market, OutcomeID: outcome}
		case 7:
			op = &event.ResolveMarket{Market: market, OutcomeID: outcome}
		case 8:
			op = &event.ClaimWinnings{Market: market}
		default:
			switch rng.Intn(4) {
			case 0:
				op = &event.ClaimDailyReward{}
			case 1:
				op = &event.CreateGuild{Name: fmt.Sprintf("guild %d", i)}
			case 2:
				op = &event.JoinGuild{GuildID: 1 + uint64(rng.Intn(3))}
			default:
				op = &event.ContributeToGuild{Amount: 1 + rng.Int63n(tokens(20))}
			}
		}

		resp := h.exec(caller, op)
		switch resp.ErrorCode {
		case core.CodeInternal, core.CodeStorage, core.CodeArithmeticOverflow, core.CodeInvalidRequest:
			t.Fatalf("step %d %s: unexpected failure %s: %s", i, op.OperationType(), resp.ErrorCode, resp.Error)
		}
		if resp.OK {
			applied++
			if op.OperationType() == event.OperationTypeCreateMarket {
				markets++
			}
		}
		h.checkConservation()
		h.advance(rng.Int63n(20 * 60 * 1_000_000))
	}

	if applied == 0 || markets == 0 {
		t.Fatalf("random walk applied %d operations over %d markets", applied, markets)
	}
	if got := h.core.GetSequence(); got != int64(applied+len(players)) {
		t.Errorf("sequence %d does not count applied operations %d", got, applied+len(players))
	}
}

// ============================================================================
// Test: Failure Handling
// ============================================================================

func TestStorageFailure_IsNotRecorded(t *testing.T) {
	fs := &failingStore{Store: store.NewMemoryStore()}
	h := newHarnessWith(t, fs, 16)
	h.register(alice)
	hash := h.core.GetStateHash()

	fs.fail = true
	req := h.request(bob, &event.RegisterPlayer{DisplayName: "bob"})
	resp := h.core.Execute(h.ctx, req)
	if resp.ErrorCode != core.CodeStorage {
		t.Fatalf("expected Storage, got %+v", resp)
	}
	if h.core.GetSequence() != 1 || h.core.GetStateHash() != hash {
		t.Fatal("failed commit advanced the chain")
	}

	fs.fail = false
	resp = h.core.Execute(h.ctx, req)
	if !resp.OK || resp.Sequence != 2 {
		t.Fatalf("redelivery after storage failure: %+v", resp)
	}
	h.checkConservation()
}

func TestExecute_BeforeBootstrapFails(t *testing.T) {
	c := core.NewDeterministicCore(store.NewMemoryStore(), core.Outputs{}, core.Options{})
	resp := c.Execute(context.Background(), event.Request{
		RequestID: uuid.New(),
		Caller:    alice,
		Operation: &event.RegisterPlayer{DisplayName: "alice"},
	})
	if resp.OK || resp.ErrorCode != core.CodeInternal {
		t.Fatalf("expected Internal before bootstrap, got %+v", resp)
	}
}

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	h := newHarnessWith(t, store.NewMemoryStore(), 1)

	h.register(alice, bob, carol, dave, admin)

	// All 5 succeed; projection drops are silent.
	if n := len(drainOutputs(h.persist)); n != 5 {
		t.Errorf("expected 5 persist outputs, got %d", n)
	}
	if n := len(drainOutputs(h.proj)); n != 1 {
		t.Errorf("expected 1 projection output, got %d", n)
	}
}

// ============================================================================
// Test: Snapshot and Replay
// ============================================================================

func TestSnapshotRestore_ReplaysToSameHash(t *testing.T) {
	h := newHarness(t)
	h.sequenced = true

	id := openScenario(h)
	snap, err := h.core.CreateSnapshotState(h.ctx)
	if err != nil {
		t.Fatalf("CreateSnapshotState failed: %v", err)
	}
	settleScenario(h, id)
	logged := drainOutputs(h.persist)

	restored := core.NewDeterministicCore(store.NewMemoryStore(), core.Outputs{}, core.Options{})
	if err := restored.RestoreFromSnapshot(h.ctx, snap); err != nil {
		t.Fatalf("RestoreFromSnapshot failed: %v", err)
	}
	if restored.GetSequence() != snap.Sequence {
		t.Fatalf("restored at %d, snapshot at %d", restored.GetSequence(), snap.Sequence)
	}
	for _, o := range logged {
		if err := restored.Replay(h.ctx, o.Envelope); err != nil {
			t.Fatalf("Replay %d failed: %v", o.Envelope.Sequence, err)
		}
	}
	if restored.GetStateHash() != h.core.GetStateHash() {
		t.Errorf("restored tip %x, live tip %x", restored.GetStateHash(), h.core.GetStateHash())
	}

	// A cold start replays the whole log from genesis.
	cold := core.NewDeterministicCore(store.NewMemoryStore(), core.Outputs{}, core.Options{})
	if err := cold.Bootstrap(h.ctx, testConfig()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	for _, o := range logged {
		if err := cold.Replay(h.ctx, o.Envelope); err != nil {
			t.Fatalf("cold Replay %d failed: %v", o.Envelope.Sequence, err)
		}
	}
	if cold.GetStateHash() != h.core.GetStateHash() || cold.GetSequence() != h.core.GetSequence() {
		t.Errorf("cold replay ended at %d/%x, live at %d/%x",
			cold.GetSequence(), cold.GetStateHash(), h.core.GetSequence(), h.core.GetStateHash())
	}
}

// loggedChecker reports every request as already in the operation log.
type loggedChecker struct {
	responses map[string][]byte
	lookups   int
}

func (l *loggedChecker) LookupResponse(_ context.Context, key string) ([]byte, bool, error) {
	l.lookups++
	resp, ok := l.responses[key]
	return resp, ok, nil
}

func TestReplay_IgnoresOperationLogTier(t *testing.T) {
	h := newHarness(t)
	h.sequenced = true
	id := openScenario(h)
	settleScenario(h, id)
	logged := drainOutputs(h.persist)

	checker := &loggedChecker{responses: make(map[string][]byte)}
	for _, o := range logged {
		checker.responses[o.Envelope.IdempotencyKey] = o.Envelope.Response
	}

	c := core.NewDeterministicCore(store.NewMemoryStore(), core.Outputs{}, core.Options{DBChecker: checker})
	if err := c.Bootstrap(h.ctx, testConfig()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	for _, o := range logged {
		if err := c.Replay(h.ctx, o.Envelope); err != nil {
			t.Fatalf("Replay %d failed: %v", o.Envelope.Sequence, err)
		}
	}
	if c.GetStateHash() != h.core.GetStateHash() {
		t.Errorf("replayed tip %x, live tip %x", c.GetStateHash(), h.core.GetStateHash())
	}
	if checker.lookups != 0 {
		t.Errorf("replay consulted the operation log %d times", checker.lookups)
	}

	// A resubmission after replay gets the stored response.
	req, err := event.DecodeRequest(logged[0].Envelope.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp := c.Execute(h.ctx, req)
	if !resp.OK || resp.Sequence != logged[0].Envelope.Sequence {
		t.Errorf("duplicate after replay: %+v", resp)
	}
}

func TestReplay_DivergencePanics(t *testing.T) {
	h := newHarness(t)
	h.register(alice)
	env := *drainOutputs(h.persist)[0].Envelope
	env.StateHash[0] ^= 0xff

	c := core.NewDeterministicCore(store.NewMemoryStore(), core.Outputs{}, core.Options{})
	if err := c.Bootstrap(h.ctx, testConfig()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on diverged replay")
		}
		if msg := fmt.Sprint(r); !strings.HasPrefix(msg, "FATAL:") {
			t.Errorf("unexpected panic: %s", msg)
		}
	}()
	_ = c.Replay(h.ctx, &env)
}
