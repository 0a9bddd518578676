package core

import (
	"PredictLedger/internal/event"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/state"
)

func (c *DeterministicCore) handleCreateGuild(oc *opContext, op *event.CreateGuild) (any, error) {
	p, err := oc.caller()
	if err != nil {
		return nil, err
	}
	if p.GuildID != nil {
		return nil, state.ErrAlreadyInGuild
	}

	id, err := oc.repo.NextGuildID(oc.ctx)
	if err != nil {
		return nil, err
	}
	g := state.NewGuild(id, op.Name, p.ID, oc.nowUs)
	p.GuildID = &g.ID

	if err := oc.awardAchievements(p); err != nil {
		return nil, err
	}
	if err := oc.repo.PutGuild(g); err != nil {
		return nil, err
	}
	if err := oc.repo.PutPlayer(p); err != nil {
		return nil, err
	}
	oc.notify(event.NotificationGuildCreated, event.GuildCreated{GuildID: g.ID, Name: g.Name})
	return g, nil
}

func (c *DeterministicCore) handleJoinGuild(oc *opContext, op *event.JoinGuild) (any, error) {
	p, err := oc.caller()
	if err != nil {
		return nil, err
	}
	if p.GuildID != nil {
		return nil, state.ErrAlreadyInGuild
	}
	g, err := oc.repo.Guild(oc.ctx, op.GuildID)
	if err != nil {
		return nil, err
	}
	if err := g.Join(p); err != nil {
		return nil, err
	}

	if err := oc.awardAchievements(p); err != nil {
		return nil, err
	}
	if err := oc.repo.PutGuild(g); err != nil {
		return nil, err
	}
	return g, oc.repo.PutPlayer(p)
}

func (c *DeterministicCore) handleLeaveGuild(oc *opContext, _ *event.LeaveGuild) (any, error) {
	p, err := oc.caller()
	if err != nil {
		return nil, err
	}
	if p.GuildID == nil {
		return nil, state.ErrNotGuildMember
	}
	g, err := oc.repo.Guild(oc.ctx, *p.GuildID)
	if err != nil {
		return nil, err
	}
	g.Leave(p)

	if err := oc.repo.PutGuild(g); err != nil {
		return nil, err
	}
	return g, oc.repo.PutPlayer(p)
}

func (c *DeterministicCore) handleContributeToGuild(oc *opContext, op *event.ContributeToGuild) (any, error) {
	if op.Amount <= 0 {
		return nil, state.ErrInvalidAmount
	}
	p, err := oc.caller()
	if err != nil {
		return nil, err
	}
	if p.GuildID == nil {
		return nil, state.ErrNotGuildMember
	}
	g, err := oc.repo.Guild(oc.ctx, *p.GuildID)
	if err != nil {
		return nil, err
	}
	if err := oc.requireBalance(p.ID, op.Amount); err != nil {
		return nil, err
	}

	if err := oc.journals.GenerateGuildContribution(oc.ctx, oc.batch, p.ID, g.ID, op.Amount); err != nil {
		return nil, err
	}
	contributed, err := fpmath.CheckedAdd(g.Contributions, op.Amount)
	if err != nil {
		return nil, err
	}
	g.Contributions = contributed
	if err := addSpent(p, op.Amount); err != nil {
		return nil, err
	}

	if err := oc.repo.PutGuild(g); err != nil {
		return nil, err
	}
	return g, oc.repo.PutPlayer(p)
}
