package query

import (
	"PredictLedger/internal/event"
	"PredictLedger/internal/state"

	"github.com/google/uuid"
)

// PlayerResponse is a player record with its token balance.
type PlayerResponse struct {
	Player       *state.Player `json:"player"`
	Balance      int64         `json:"balance"`
	AsOfSequence int64         `json:"as_of_sequence"`
}

// MarketResponse is a market without its per-player positions.
type MarketResponse struct {
	ID               uint64                 `json:"id"`
	Creator          uuid.UUID              `json:"creator"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	Outcomes         []state.Outcome        `json:"outcomes"`
	Status           state.MarketStatus     `json:"status"`
	ResolutionMethod event.ResolutionMethod `json:"resolution_method"`
	CreatedAtUs      int64                  `json:"created_at_us"`
	EndTimeUs        int64                  `json:"end_time_us"`
	TotalLiquidity   int64                  `json:"total_liquidity"`
	Escrow           int64                  `json:"escrow"`
	ParticipantCount uint32                 `json:"participant_count"`
	WinningOutcome   *uint32                `json:"winning_outcome,omitempty"`
	AsOfSequence     int64                  `json:"as_of_sequence"`
}

// PositionResponse is one player's holdings in one market.
type PositionResponse struct {
	PlayerID        uuid.UUID        `json:"player_id"`
	MarketID        uint64           `json:"market_id"`
	SharesByOutcome map[uint32]int64 `json:"shares_by_outcome"`
	TotalInvested   int64            `json:"total_invested"`
	Claimed         bool             `json:"claimed"`
	AsOfSequence    int64            `json:"as_of_sequence"`
}

// LeaderboardResponse ranks traders and guilds.
type LeaderboardResponse struct {
	state.Leaderboard
	AsOfSequence int64 `json:"as_of_sequence"`
}

// MarketSummary is a row of the market listing projection.
type MarketSummary struct {
	MarketID         uint64  `json:"market_id"`
	Creator          string  `json:"creator"`
	Title            string  `json:"title"`
	Status           string  `json:"status"`
	ResolutionMethod string  `json:"resolution_method"`
	OutcomeCount     int     `json:"outcome_count"`
	TotalLiquidity   int64   `json:"total_liquidity"`
	ParticipantCount int64   `json:"participant_count"`
	EndTimeUs        int64   `json:"end_time_us"`
	WinningOutcome   *uint32 `json:"winning_outcome,omitempty"`
}

// TradeEntry is a row of the trade history projection.
type TradeEntry struct {
	Sequence  int64  `json:"sequence"`
	PlayerID  string `json:"player_id"`
	MarketID  uint64 `json:"market_id"`
	OutcomeID uint32 `json:"outcome_id"`
	Side      string `json:"side"`
	Shares    int64  `json:"shares"`
	Price     int64  `json:"price"`
	Amount    int64  `json:"amount"`
}

// JournalHistoryEntry is a journal row touching a player's account.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	TimestampUs   int64  `json:"timestamp_us"`
}

// Page wraps a listing with the projection watermark it was read at.
type Page[T any] struct {
	Items        []T   `json:"items"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy         bool    `json:"is_healthy"`
	Sequence          int64   `json:"sequence"`
	HashChainBreaks   []int64 `json:"hash_chain_breaks,omitempty"`
	BalanceError      string  `json:"balance_error,omitempty"`
	ConservationError string  `json:"conservation_error,omitempty"`
	ProjectionDrift   int64   `json:"projection_drift,omitempty"`
}
