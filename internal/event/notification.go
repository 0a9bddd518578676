package event

import (
	"fmt"

	"github.com/google/uuid"
)

// NotificationType discriminator for outbound notifications
type NotificationType string

const (
	NotificationMarketCreated       NotificationType = "MarketCreated"
	NotificationTradeExecuted       NotificationType = "TradeExecuted"
	NotificationMarketResolved      NotificationType = "MarketResolved"
	NotificationAchievementUnlocked NotificationType = "AchievementUnlocked"
	NotificationGuildCreated        NotificationType = "GuildCreated"
)

// Notification is a fire-and-forget message to external collaborators.
// Delivery is at-least-once; consumers drop duplicates by DedupKey.
type Notification struct {
	DedupKey string           `json:"dedup_key"`
	Sequence int64            `json:"sequence"`
	Type     NotificationType `json:"type"`
	Data     any              `json:"data"`
}

// DedupKey is stable across redelivery and replay of the same operation.
func DedupKey(sequence int64, index int) string {
	return fmt.Sprintf("%d:%d", sequence, index)
}

type MarketCreated struct {
	MarketID uint64    `json:"market_id"`
	Creator  uuid.UUID `json:"creator"`
}

type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

type TradeExecuted struct {
	PlayerID  uuid.UUID `json:"player_id"`
	MarketID  uint64    `json:"market_id"`
	OutcomeID uint32    `json:"outcome_id"`
	Side      TradeSide `json:"side"`
	Shares    int64     `json:"shares"`
	Price     int64     `json:"price"`
	Amount    int64     `json:"amount"`
}

type MarketResolved struct {
	MarketID       uint64           `json:"market_id"`
	WinningOutcome uint32           `json:"winning_outcome"`
	Method         ResolutionMethod `json:"resolution_method"`
}

type AchievementUnlocked struct {
	PlayerID      uuid.UUID `json:"player_id"`
	AchievementID uint32    `json:"achievement_id"`
}

type GuildCreated struct {
	GuildID uint64 `json:"guild_id"`
	Name    string `json:"name"`
}
