package core

import (
	"fmt"

	"PredictLedger/internal/event"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/state"
)

// TradeResult is returned by BuyShares and SellShares.
type TradeResult struct {
	MarketID  uint64          `json:"market_id"`
	OutcomeID uint32          `json:"outcome_id"`
	Side      event.TradeSide `json:"side"`
	Shares    int64           `json:"shares"`
	Price     int64           `json:"price"`
	Gross     int64           `json:"gross"`
	Fee       int64           `json:"fee"`
	Net       int64           `json:"net"`
}

func (c *DeterministicCore) handleCreateMarket(oc *opContext, op *event.CreateMarket) (any, error) {
	// All checks run before any mutation.
	p, err := oc.caller()
	if err != nil {
		return nil, err
	}
	n := len(op.OutcomeNames)
	if n < 2 || n > int(oc.cfg.MaxOutcomesPerMarket) {
		return nil, state.ErrInvalidOutcomeCount
	}
	if op.DurationSeconds < oc.cfg.MinMarketDurationSeconds {
		return nil, state.ErrDurationTooShort
	}
	durationUs, err := fpmath.MulDiv(op.DurationSeconds, 1_000_000, 1, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	if _, err := fpmath.CheckedAdd(oc.nowUs, durationUs); err != nil {
		return nil, err
	}
	switch op.ResolutionMethod {
	case event.ResolutionOracleVoting, event.ResolutionAutomated, event.ResolutionCreatorDecides:
	default:
		return nil, state.ErrInvalidResolutionMethod
	}
	if err := oc.requireBalance(p.ID, oc.cfg.MarketCreationCost); err != nil {
		return nil, err
	}

	id, err := oc.repo.NextMarketID(oc.ctx)
	if err != nil {
		return nil, err
	}
	m := state.NewMarket(id, p.ID, op, oc.nowUs)

	rebate, err := oc.journals.GenerateMarketCreation(oc.ctx, oc.batch, p.ID, oc.cfg.MarketCreationCost, oc.cfg.CreatorRebateBps)
	if err != nil {
		return nil, err
	}
	if err := addSpent(p, oc.cfg.MarketCreationCost); err != nil {
		return nil, err
	}
	if err := addEarned(p, rebate); err != nil {
		return nil, err
	}
	p.MarketsCreated++

	if err := oc.awardAchievements(p); err != nil {
		return nil, err
	}
	if err := oc.repo.PutMarket(m); err != nil {
		return nil, err
	}
	if err := oc.repo.PutPlayer(p); err != nil {
		return nil, err
	}
	oc.notify(event.NotificationMarketCreated, event.MarketCreated{MarketID: m.ID, Creator: m.Creator})
	return m, nil
}

func (c *DeterministicCore) handleBuyShares(oc *opContext, op *event.BuyShares) (any, error) {
	p, err := oc.caller()
	if err != nil {
		return nil, err
	}
	m, err := oc.repo.Market(oc.ctx, op.Market)
	if err != nil {
		return nil, err
	}
	if err := m.CheckTradable(oc.nowUs); err != nil {
		return nil, err
	}
	if _, err := m.Outcome(op.OutcomeID); err != nil {
		return nil, err
	}
	if op.Amount <= 0 {
		return nil, state.ErrInvalidAmount
	}
	if err := oc.requireBalance(p.ID, op.Amount); err != nil {
		return nil, err
	}

	q, err := m.QuoteBuy(op.OutcomeID, op.Amount, oc.cfg.TradingFeeBps)
	if err != nil {
		return nil, err
	}
	if op.MaxPricePerShare > 0 && q.Price > op.MaxPricePerShare {
		return nil, state.ErrSlippageExceeded
	}
	if q.Shares == 0 {
		return nil, fmt.Errorf("%w: %d buys no shares at price %d", state.ErrInvalidAmount, op.Amount, q.Price)
	}

	cost, err := oc.journals.GenerateBuy(oc.ctx, oc.batch, p.ID, m.Creator, m.ID, q)
	if err != nil {
		return nil, err
	}
	if _, err := m.ApplyBuy(p.ID, op.OutcomeID, q, cost, oc.nowUs); err != nil {
		return nil, err
	}
	if err := addSpent(p, cost); err != nil {
		return nil, err
	}
	p.JoinMarket(m.ID)
	p.AddExperience(state.TradeXP)

	if err := oc.awardAchievements(p); err != nil {
		return nil, err
	}
	if err := oc.repo.PutMarket(m); err != nil {
		return nil, err
	}
	if err := oc.repo.PutPlayer(p); err != nil {
		return nil, err
	}

	oc.notify(event.NotificationTradeExecuted, event.TradeExecuted{
		PlayerID:  p.ID,
		MarketID:  m.ID,
		OutcomeID: op.OutcomeID,
		Side:      event.TradeSideBuy,
		Shares:    q.Shares,
		Price:     q.Price,
		Amount:    q.Gross,
	})
	return TradeResult{
		MarketID:  m.ID,
		OutcomeID: op.OutcomeID,
		Side:      event.TradeSideBuy,
		Shares:    q.Shares,
		Price:     q.Price,
		Gross:     q.Gross,
		Fee:       q.Fee,
		Net:       q.Net,
	}, nil
}

func (c *DeterministicCore) handleSellShares(oc *opContext, op *event.SellShares) (any, error) {
	p, err := oc.caller()
	if err != nil {
		return nil, err
	}
	m, err := oc.repo.Market(oc.ctx, op.Market)
	if err != nil {
		return nil, err
	}
	if err := m.CheckTradable(oc.nowUs); err != nil {
		return nil, err
	}
	if _, err := m.Outcome(op.OutcomeID); err != nil {
		return nil, err
	}
	if op.Shares <= 0 {
		return nil, state.ErrInvalidAmount
	}
	pos, ok := m.Positions[p.ID]
	if !ok {
		return nil, state.ErrNoPosition
	}
	if pos.Shares(op.OutcomeID) < op.Shares {
		return nil, state.ErrInsufficientShares
	}

	q, err := m.QuoteSell(op.OutcomeID, op.Shares, oc.cfg.TradingFeeBps)
	if err != nil {
		return nil, err
	}
	if q.Price < op.MinPricePerShare {
		return nil, state.ErrSlippageExceeded
	}

	proceeds, err := oc.journals.GenerateSell(oc.ctx, oc.batch, p.ID, m.Creator, m.ID, q)
	if err != nil {
		return nil, err
	}
	if err := m.ApplySell(p.ID, op.OutcomeID, q, proceeds); err != nil {
		return nil, err
	}
	if err := addEarned(p, proceeds); err != nil {
		return nil, err
	}
	p.AddExperience(state.TradeXP)

	if err := oc.awardAchievements(p); err != nil {
		return nil, err
	}
	if err := oc.repo.PutMarket(m); err != nil {
		return nil, err
	}
	if err := oc.repo.PutPlayer(p); err != nil {
		return nil, err
	}

	oc.notify(event.NotificationTradeExecuted, event.TradeExecuted{
		PlayerID:  p.ID,
		MarketID:  m.ID,
		OutcomeID: op.OutcomeID,
		Side:      event.TradeSideSell,
		Shares:    q.Shares,
		Price:     q.Price,
		Amount:    q.Gross,
	})
	return TradeResult{
		MarketID:  m.ID,
		OutcomeID: op.OutcomeID,
		Side:      event.TradeSideSell,
		Shares:    q.Shares,
		Price:     q.Price,
		Gross:     q.Gross,
		Fee:       q.Fee,
		Net:       q.Net,
	}, nil
}

func (c *DeterministicCore) handleVoteOnOutcome(oc *opContext, op *event.VoteOnOutcome) (any, error) {
	p, err := oc.caller()
	if err != nil {
		return nil, err
	}
	m, err := oc.repo.Market(oc.ctx, op.Market)
	if err != nil {
		return nil, err
	}
	return oc.resolver.Vote(oc.ctx, m, p, op.OutcomeID, oc.nowUs)
}

func (c *DeterministicCore) handleTriggerResolution(oc *opContext, op *event.TriggerResolution) (any, error) {
	m, err := oc.repo.Market(oc.ctx, op.Market)
	if err != nil {
		return nil, err
	}
	res, err := oc.resolver.Trigger(oc.ctx, m, oc.nowUs, oc.cfg.OracleVotingDurationSeconds)
	if err != nil {
		return nil, err
	}
	if res.AlreadyResolved {
		return res, nil
	}
	if err := oc.repo.PutMarket(m); err != nil {
		return nil, err
	}
	if !res.Pending {
		if err := c.settleResolution(oc, m); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *DeterministicCore) handleResolveMarket(oc *opContext, op *event.ResolveMarket) (any, error) {
	m, err := oc.repo.Market(oc.ctx, op.Market)
	if err != nil {
		return nil, err
	}
	res, err := oc.resolver.ResolveByCreator(m, oc.req.Caller, op.OutcomeID, oc.nowUs)
	if err != nil {
		return nil, err
	}
	if res.AlreadyResolved {
		return res, nil
	}
	if err := oc.repo.PutMarket(m); err != nil {
		return nil, err
	}
	return res, c.settleResolution(oc, m)
}

// settleResolution updates every position holder once a winner is set:
// wins and streaks, realized losses, achievements. Winners realize profit
// when they claim.
func (c *DeterministicCore) settleResolution(oc *opContext, m *state.Market) error {
	oc.notify(event.NotificationMarketResolved, event.MarketResolved{
		MarketID:       m.ID,
		WinningOutcome: *m.WinningOutcome,
		Method:         m.ResolutionMethod,
	})

	for _, r := range state.ParticipantResults(m) {
		p, err := oc.repo.Player(oc.ctx, r.PlayerID)
		if err != nil {
			return err
		}
		p.LeaveMarket(m.ID)
		if len(m.Positions[r.PlayerID].SharesByOutcome) > 0 {
			p.RecordResult(r.Won)
			if !r.Won {
				if err := addProfit(p, -r.Invested); err != nil {
					return err
				}
			}
		}
		if err := oc.awardAchievements(p); err != nil {
			return err
		}
		if err := oc.repo.PutPlayer(p); err != nil {
			return err
		}
	}
	return nil
}

func (c *DeterministicCore) handleClaimWinnings(oc *opContext, op *event.ClaimWinnings) (any, error) {
	p, err := oc.caller()
	if err != nil {
		return nil, err
	}
	m, err := oc.repo.Market(oc.ctx, op.Market)
	if err != nil {
		return nil, err
	}
	claim, err := state.ComputeClaim(m, p.ID)
	if err != nil {
		return nil, err
	}

	if err := oc.journals.GeneratePayout(oc.ctx, oc.batch, p.ID, m.ID, claim.Payout); err != nil {
		return nil, err
	}
	state.ApplyClaim(m, claim)
	if err := addEarned(p, claim.Payout); err != nil {
		return nil, err
	}
	if err := addProfit(p, claim.Profit); err != nil {
		return nil, err
	}

	if p.GuildID != nil {
		g, err := oc.repo.Guild(oc.ctx, *p.GuildID)
		if err != nil {
			return nil, err
		}
		profit, err := fpmath.CheckedAdd(g.TotalProfit, claim.Profit)
		if err != nil {
			return nil, err
		}
		g.TotalProfit = profit
		if err := oc.repo.PutGuild(g); err != nil {
			return nil, err
		}
	}

	if err := oc.awardAchievements(p); err != nil {
		return nil, err
	}
	if err := oc.repo.PutMarket(m); err != nil {
		return nil, err
	}
	if err := oc.repo.PutPlayer(p); err != nil {
		return nil, err
	}
	return claim, nil
}
