package state

import (
	fpmath "PredictLedger/internal/math"
)

// RequirementKind selects which player statistic an achievement checks.
type RequirementKind string

const (
	RequireParticipate RequirementKind = "participate_in_markets"
	RequireCreate      RequirementKind = "create_markets"
	RequireWin         RequirementKind = "win_markets"
	RequireWinStreak   RequirementKind = "win_streak"
	RequireProfit      RequirementKind = "total_profit"
	RequireJoinGuild   RequirementKind = "join_guild"
	RequireLevel       RequirementKind = "reach_level"
)

type Requirement struct {
	Kind      RequirementKind `json:"kind"`
	Threshold int64           `json:"threshold,omitempty"`
}

type Achievement struct {
	ID           uint32      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	RewardTokens int64       `json:"reward_tokens"`
	RewardXP     uint64      `json:"reward_xp"`
	Requirement  Requirement `json:"requirement"`
}

// AchievementCatalog is the fixed set seeded at genesis.
func AchievementCatalog() []Achievement {
	return []Achievement{
		{ID: 1, Name: "First Steps", Description: "Participate in your first market",
			RewardTokens: fpmath.Tokens(50), RewardXP: 100, Requirement: Requirement{RequireParticipate, 1}},
		{ID: 2, Name: "Market Maker", Description: "Create 5 markets",
			RewardTokens: fpmath.Tokens(200), RewardXP: 500, Requirement: Requirement{RequireCreate, 5}},
		{ID: 3, Name: "Prediction Master", Description: "Win 10 markets",
			RewardTokens: fpmath.Tokens(500), RewardXP: 1000, Requirement: Requirement{RequireWin, 10}},
		{ID: 4, Name: "Hot Streak", Description: "Win 5 markets in a row",
			RewardTokens: fpmath.Tokens(300), RewardXP: 750, Requirement: Requirement{RequireWinStreak, 5}},
		{ID: 5, Name: "Big Spender", Description: "Earn 1000 tokens of profit",
			RewardTokens: fpmath.Tokens(1000), RewardXP: 2000, Requirement: Requirement{RequireProfit, fpmath.Tokens(1000)}},
		{ID: 6, Name: "Guild Leader", Description: "Join a guild",
			RewardTokens: fpmath.Tokens(150), RewardXP: 300, Requirement: Requirement{RequireJoinGuild, 0}},
		{ID: 7, Name: "Rising Star", Description: "Reach level 10",
			RewardTokens: fpmath.Tokens(400), RewardXP: 1000, Requirement: Requirement{RequireLevel, 10}},
	}
}

// Met reports whether p satisfies the requirement.
func (r Requirement) Met(p *Player) bool {
	switch r.Kind {
	case RequireParticipate:
		return int64(p.MarketsParticipated) >= r.Threshold
	case RequireCreate:
		return int64(p.MarketsCreated) >= r.Threshold
	case RequireWin:
		return int64(p.MarketsWon) >= r.Threshold
	case RequireWinStreak:
		return int64(p.WinStreak) >= r.Threshold
	case RequireProfit:
		return p.TotalProfit >= r.Threshold
	case RequireJoinGuild:
		return p.GuildID != nil
	case RequireLevel:
		return int64(p.Level) >= r.Threshold
	}
	return false
}

// EvaluateAchievements awards every catalog entry p newly satisfies, in id
// order, adding reward xp as it goes so later entries see the new level.
// The returned entries' RewardTokens must be minted by the caller.
func EvaluateAchievements(p *Player, catalog []Achievement) []Achievement {
	var unlocked []Achievement
	for _, a := range catalog {
		if p.HasAchievement(a.ID) || !a.Requirement.Met(p) {
			continue
		}
		p.Achievements = append(p.Achievements, a.ID)
		p.AddExperience(a.RewardXP)
		unlocked = append(unlocked, a)
	}
	return unlocked
}
