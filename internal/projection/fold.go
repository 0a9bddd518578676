package projection

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/state"

	"github.com/google/uuid"
)

// BalanceDelta is the net movement of one account within an operation.
// Debits increase a balance, credits decrease it.
type BalanceDelta struct {
	AccountPath string
	Delta       int64
}

// PlayerRow is the leaderboard view of a player record.
type PlayerRow struct {
	PlayerID            uuid.UUID
	DisplayName         string
	Level               uint32
	XP                  uint64
	TotalProfit         int64
	MarketsWon          uint32
	MarketsParticipated uint32
	MarketsCreated      uint32
	GuildID             *uint64
}

// MarketRow is the listing view of a market record.
type MarketRow struct {
	MarketID         uint64
	Creator          uuid.UUID
	Title            string
	Status           string
	ResolutionMethod string
	OutcomeCount     int
	TotalLiquidity   int64
	ParticipantCount uint32
	EndTimeUs        int64
	WinningOutcome   *uint32
}

// TradeRow is one executed trade, keyed by (sequence, notification index).
type TradeRow struct {
	Sequence  int64
	Index     int
	PlayerID  uuid.UUID
	MarketID  uint64
	OutcomeID uint32
	Side      string
	Shares    int64
	Price     int64
	Amount    int64
}

// Update is everything one core output changes in the projection tables.
type Update struct {
	Sequence int64
	Balances []BalanceDelta
	Players  []PlayerRow
	Markets  []MarketRow
	Trades   []TradeRow
}

// Fold derives the projection update for one applied operation from its
// journal batch, its store writes and its notifications.
func Fold(output core.CoreOutput) (*Update, error) {
	if output.Envelope == nil {
		return nil, fmt.Errorf("projection: output without envelope")
	}
	u := &Update{Sequence: output.Envelope.Sequence}

	if output.Batch != nil {
		net := make(map[string]int64)
		for _, j := range output.Batch.Journals {
			net[j.DebitAccount.AccountPath()] += j.Amount
			net[j.CreditAccount.AccountPath()] -= j.Amount
		}
		paths := make([]string, 0, len(net))
		for p := range net {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			if net[p] != 0 {
				u.Balances = append(u.Balances, BalanceDelta{AccountPath: p, Delta: net[p]})
			}
		}
	}

	for _, w := range output.Writes {
		if w.Delete {
			continue
		}
		switch {
		case strings.HasPrefix(w.Key, state.PrefixPlayer):
			var p state.Player
			if err := json.Unmarshal(w.Value, &p); err != nil {
				return nil, fmt.Errorf("decode %s: %w", w.Key, err)
			}
			u.Players = append(u.Players, newPlayerRow(&p))
		case strings.HasPrefix(w.Key, state.PrefixMarket):
			var m state.Market
			if err := json.Unmarshal(w.Value, &m); err != nil {
				return nil, fmt.Errorf("decode %s: %w", w.Key, err)
			}
			u.Markets = append(u.Markets, newMarketRow(&m))
		}
	}

	for i, n := range output.Notifications {
		if n.Type != event.NotificationTradeExecuted {
			continue
		}
		trade, ok := n.Data.(event.TradeExecuted)
		if !ok {
			return nil, fmt.Errorf("notification %s: unexpected data %T", n.DedupKey, n.Data)
		}
		u.Trades = append(u.Trades, TradeRow{
			Sequence:  u.Sequence,
			Index:     i,
			PlayerID:  trade.PlayerID,
			MarketID:  trade.MarketID,
			OutcomeID: trade.OutcomeID,
			Side:      string(trade.Side),
			Shares:    trade.Shares,
			Price:     trade.Price,
			Amount:    trade.Amount,
		})
	}
	return u, nil
}

func newPlayerRow(p *state.Player) PlayerRow {
	return PlayerRow{
		PlayerID:            p.ID,
		DisplayName:         p.DisplayName,
		Level:               p.Level,
		XP:                  p.XP,
		TotalProfit:         p.TotalProfit,
		MarketsWon:          p.MarketsWon,
		MarketsParticipated: p.MarketsParticipated,
		MarketsCreated:      p.MarketsCreated,
		GuildID:             p.GuildID,
	}
}

func newMarketRow(m *state.Market) MarketRow {
	return MarketRow{
		MarketID:         m.ID,
		Creator:          m.Creator,
		Title:            m.Title,
		Status:           m.Status.String(),
		ResolutionMethod: m.ResolutionMethod.String(),
		OutcomeCount:     len(m.Outcomes),
		TotalLiquidity:   m.TotalLiquidity,
		ParticipantCount: m.ParticipantCount,
		EndTimeUs:        m.EndTimeUs,
		WinningOutcome:   m.WinningOutcome,
	}
}
