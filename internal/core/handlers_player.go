package core

import (
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/state"
)

// DailyRewardResult is returned by ClaimDailyReward.
type DailyRewardResult struct {
	Amount      int64 `json:"amount"`
	NextClaimUs int64 `json:"next_claim_us"`
}

func (c *DeterministicCore) handleRegisterPlayer(oc *opContext, op *event.RegisterPlayer) (any, error) {
	exists, err := oc.repo.PlayerExists(oc.ctx, oc.req.Caller)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, state.ErrPlayerAlreadyExists
	}

	p := state.NewPlayer(oc.req.Caller, op.DisplayName, oc.nowUs)
	if err := oc.mint(p, oc.cfg.InitialPlayerTokens, ledger.JournalTypeRegistrationGrant); err != nil {
		return nil, err
	}
	return p, oc.repo.PutPlayer(p)
}

func (c *DeterministicCore) handleUpdateProfile(oc *opContext, op *event.UpdateProfile) (any, error) {
	p, err := oc.caller()
	if err != nil {
		return nil, err
	}
	p.DisplayName = op.DisplayName
	return p, oc.repo.PutPlayer(p)
}

func (c *DeterministicCore) handleClaimDailyReward(oc *opContext, _ *event.ClaimDailyReward) (any, error) {
	p, err := oc.caller()
	if err != nil {
		return nil, err
	}
	if !p.CanClaimDailyReward(oc.nowUs) {
		return nil, state.ErrDailyRewardAlreadyClaimed
	}

	p.LastLoginUs = oc.nowUs
	if err := oc.mint(p, oc.cfg.DailyLoginReward, ledger.JournalTypeDailyReward); err != nil {
		return nil, err
	}
	if err := oc.repo.PutPlayer(p); err != nil {
		return nil, err
	}
	return DailyRewardResult{
		Amount:      oc.cfg.DailyLoginReward,
		NextClaimUs: oc.nowUs + state.DailyRewardInterval.Microseconds(),
	}, nil
}

func (c *DeterministicCore) handleUpdateGameConfig(oc *opContext, op *event.UpdateGameConfig) (any, error) {
	if err := state.CheckAdmin(oc.cfg, oc.req.Caller); err != nil {
		return nil, err
	}
	if err := state.ValidateGameConfig(op.Config); err != nil {
		return nil, err
	}
	return op.Config, oc.repo.PutConfig(op.Config)
}
