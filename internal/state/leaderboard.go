package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

const (
	TopTradersLimit = 50
	TopGuildsLimit  = 20
)

type TraderEntry struct {
	Rank        int       `json:"rank"`
	PlayerID    uuid.UUID `json:"player_id"`
	DisplayName string    `json:"display_name"`
	TotalProfit int64     `json:"total_profit"`
	MarketsWon  uint32    `json:"markets_won"`
	WinRateBps  int64     `json:"win_rate_bps"`
	Level       uint32    `json:"level"`
}

type GuildEntry struct {
	Rank        int    `json:"rank"`
	GuildID     uint64 `json:"guild_id"`
	Name        string `json:"name"`
	Pool        int64  `json:"pool"`
	MemberCount int    `json:"member_count"`
	TotalProfit int64  `json:"total_profit"`
}

type Leaderboard struct {
	TopTraders []TraderEntry `json:"top_traders"`
	TopGuilds  []GuildEntry  `json:"top_guilds"`
}

// RankTraders orders players by profit, wins and level (all descending),
// then by id, and keeps the top limit.
func RankTraders(players []*Player, limit int) []TraderEntry {
	sorted := append([]*Player(nil), players...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.TotalProfit != b.TotalProfit {
			return a.TotalProfit > b.TotalProfit
		}
		if a.MarketsWon != b.MarketsWon {
			return a.MarketsWon > b.MarketsWon
		}
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	out := make([]TraderEntry, len(sorted))
	for i, p := range sorted {
		var winRate int64
		if p.MarketsParticipated > 0 {
			winRate = int64(p.MarketsWon) * 10_000 / int64(p.MarketsParticipated)
		}
		out[i] = TraderEntry{
			Rank:        i + 1,
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
			TotalProfit: p.TotalProfit,
			MarketsWon:  p.MarketsWon,
			WinRateBps:  winRate,
			Level:       p.Level,
		}
	}
	return out
}

// RankGuilds orders guilds by pool, then member count (descending), then id.
// pools maps guild id to its ledger pool balance.
func RankGuilds(guilds []*Guild, pools map[uint64]int64, limit int) []GuildEntry {
	sorted := append([]*Guild(nil), guilds...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if pools[a.ID] != pools[b.ID] {
			return pools[a.ID] > pools[b.ID]
		}
		if len(a.Members) != len(b.Members) {
			return len(a.Members) > len(b.Members)
		}
		return a.ID < b.ID
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	out := make([]GuildEntry, len(sorted))
	for i, g := range sorted {
		out[i] = GuildEntry{
			Rank:        i + 1,
			GuildID:     g.ID,
			Name:        g.Name,
			Pool:        pools[g.ID],
			MemberCount: len(g.Members),
			TotalProfit: g.TotalProfit,
		}
	}
	return out
}
