package state

import (
	"time"

	"github.com/google/uuid"
)

const (
	// InitialReputation is the oracle vote weight of a new player.
	InitialReputation uint64 = 100

	// TradeXP is awarded for every buy or sell.
	TradeXP uint64 = 10

	// DailyRewardInterval is the cooldown between daily reward claims.
	DailyRewardInterval = 24 * time.Hour
)

// Player is the per-identity profile and progression record. The token
// balance itself lives in the ledger.
type Player struct {
	ID                  uuid.UUID `json:"id"`
	DisplayName         string    `json:"display_name"`
	RegisteredAtUs      int64     `json:"registered_at_us"`
	LastLoginUs         int64     `json:"last_login_us"`
	TotalEarned         int64     `json:"total_earned"`
	TotalSpent          int64     `json:"total_spent"`
	Level               uint32    `json:"level"`
	XP                  uint64    `json:"xp"`
	Reputation          uint64    `json:"reputation"`
	MarketsParticipated uint32    `json:"markets_participated"`
	MarketsCreated      uint32    `json:"markets_created"`
	MarketsWon          uint32    `json:"markets_won"`
	TotalProfit         int64     `json:"total_profit"`
	WinStreak           uint32    `json:"win_streak"`
	BestWinStreak       uint32    `json:"best_win_streak"`
	GuildID             *uint64   `json:"guild_id,omitempty"`
	Achievements        []uint32  `json:"achievements"`
	ActiveMarkets       []uint64  `json:"active_markets"`
}

func NewPlayer(id uuid.UUID, displayName string, nowUs int64) *Player {
	return &Player{
		ID:             id,
		DisplayName:    displayName,
		RegisteredAtUs: nowUs,
		LastLoginUs:    nowUs,
		Level:          1,
		Reputation:     InitialReputation,
		Achievements:   []uint32{},
		ActiveMarkets:  []uint64{},
	}
}

// AddExperience adds xp and levels up while xp >= level×100. Returns true if
// the level changed.
func (p *Player) AddExperience(xp uint64) bool {
	p.XP += xp
	old := p.Level
	for p.XP >= uint64(p.Level)*100 {
		p.XP -= uint64(p.Level) * 100
		p.Level++
	}
	return p.Level != old
}

// CanClaimDailyReward reports whether a full interval passed since the last
// login.
func (p *Player) CanClaimDailyReward(nowUs int64) bool {
	return nowUs-p.LastLoginUs >= DailyRewardInterval.Microseconds()
}

func (p *Player) HasAchievement(id uint32) bool {
	for _, a := range p.Achievements {
		if a == id {
			return true
		}
	}
	return false
}

// JoinMarket records participation. Returns true on first entry.
func (p *Player) JoinMarket(marketID uint64) bool {
	for _, m := range p.ActiveMarkets {
		if m == marketID {
			return false
		}
	}
	p.ActiveMarkets = append(p.ActiveMarkets, marketID)
	p.MarketsParticipated++
	return true
}

// RecordResult updates wins and streaks once a market the player took part
// in resolves.
func (p *Player) RecordResult(won bool) {
	if !won {
		p.WinStreak = 0
		return
	}
	p.MarketsWon++
	p.WinStreak++
	if p.WinStreak > p.BestWinStreak {
		p.BestWinStreak = p.WinStreak
	}
}

// LeaveMarket drops a resolved market from the active list.
func (p *Player) LeaveMarket(marketID uint64) {
	kept := p.ActiveMarkets[:0]
	for _, m := range p.ActiveMarkets {
		if m != marketID {
			kept = append(kept, m)
		}
	}
	p.ActiveMarkets = kept
}
