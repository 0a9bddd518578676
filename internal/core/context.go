package core

import (
	"context"

	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/state"
	"PredictLedger/internal/store"

	"github.com/google/uuid"
)

// opContext is the per-operation view of state. Every reader and writer is
// bound to the same staged txn.
type opContext struct {
	ctx   context.Context
	req   event.Request
	seq   int64
	nowUs int64
	cfg   event.GameConfig

	repo      *state.Repository
	balances  *ledger.BalanceTracker
	journals  *ledger.JournalGenerator
	validator *ledger.InvariantValidator
	resolver  *state.Resolver

	batch         *ledger.Batch
	catalog       []state.Achievement
	notifications []event.Notification
}

func newOpContext(ctx context.Context, req event.Request, seq int64, txn *store.Txn) *opContext {
	repo := state.NewRepository(txn)
	balances := ledger.NewBalanceTracker(txn)
	journals := ledger.NewJournalGenerator(balances)

	return &opContext{
		ctx:       ctx,
		req:       req,
		seq:       seq,
		nowUs:     req.TimestampUs,
		repo:      repo,
		balances:  balances,
		journals:  journals,
		validator: ledger.NewInvariantValidator(balances),
		resolver:  state.NewResolver(repo),
		batch:     journals.NewBatch(req.IdempotencyKey(), seq, req.TimestampUs),
	}
}

func (oc *opContext) caller() (*state.Player, error) {
	return oc.repo.Player(oc.ctx, oc.req.Caller)
}

func (oc *opContext) balance(player uuid.UUID) (int64, error) {
	return oc.balances.GetBalance(oc.ctx, ledger.PlayerAccount(player))
}

// requireBalance rejects when the player holds less than amount.
func (oc *opContext) requireBalance(player uuid.UUID, amount int64) error {
	have, err := oc.balance(player)
	if err != nil {
		return err
	}
	if have < amount {
		return state.ErrInsufficientBalance
	}
	return nil
}

func (oc *opContext) notify(t event.NotificationType, data any) {
	oc.notifications = append(oc.notifications, event.Notification{
		DedupKey: event.DedupKey(oc.seq, len(oc.notifications)),
		Sequence: oc.seq,
		Type:     t,
		Data:     data,
	})
}

// mint issues new tokens to p and counts them as earned.
func (oc *opContext) mint(p *state.Player, amount int64, jt ledger.JournalType) error {
	if amount == 0 {
		return nil
	}
	if err := oc.journals.GenerateMint(oc.batch, p.ID, amount, jt); err != nil {
		return err
	}
	return addEarned(p, amount)
}

// awardAchievements unlocks what p now qualifies for and mints the rewards.
func (oc *opContext) awardAchievements(p *state.Player) error {
	if oc.catalog == nil {
		catalog, err := oc.repo.Achievements(oc.ctx)
		if err != nil {
			return err
		}
		oc.catalog = catalog
	}
	for _, a := range state.EvaluateAchievements(p, oc.catalog) {
		if err := oc.mint(p, a.RewardTokens, ledger.JournalTypeAchievementReward); err != nil {
			return err
		}
		oc.notify(event.NotificationAchievementUnlocked, event.AchievementUnlocked{
			PlayerID:      p.ID,
			AchievementID: a.ID,
		})
	}
	return nil
}

func addEarned(p *state.Player, amount int64) error {
	v, err := fpmath.CheckedAdd(p.TotalEarned, amount)
	if err != nil {
		return err
	}
	p.TotalEarned = v
	return nil
}

func addSpent(p *state.Player, amount int64) error {
	v, err := fpmath.CheckedAdd(p.TotalSpent, amount)
	if err != nil {
		return err
	}
	p.TotalSpent = v
	return nil
}

func addProfit(p *state.Player, delta int64) error {
	v, err := fpmath.CheckedAdd(p.TotalProfit, delta)
	if err != nil {
		return err
	}
	p.TotalProfit = v
	return nil
}
