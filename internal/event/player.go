package event

import (
	"github.com/google/uuid"
)

type RegisterPlayer struct {
	DisplayName string `json:"display_name" validate:"required,max=64"`
}

func (*RegisterPlayer) OperationType() OperationType { return OperationTypeRegisterPlayer }
func (*RegisterPlayer) MarketID() *uint64            { return nil }

type UpdateProfile struct {
	DisplayName string `json:"display_name" validate:"required,max=64"`
}

func (*UpdateProfile) OperationType() OperationType { return OperationTypeUpdateProfile }
func (*UpdateProfile) MarketID() *uint64            { return nil }

type ClaimDailyReward struct{}

func (*ClaimDailyReward) OperationType() OperationType { return OperationTypeClaimDailyReward }
func (*ClaimDailyReward) MarketID() *uint64            { return nil }

type CreateGuild struct {
	Name string `json:"name" validate:"required,max=64"`
}

func (*CreateGuild) OperationType() OperationType { return OperationTypeCreateGuild }
func (*CreateGuild) MarketID() *uint64            { return nil }

type JoinGuild struct {
	GuildID uint64 `json:"guild_id" validate:"gt=0"`
}

func (*JoinGuild) OperationType() OperationType { return OperationTypeJoinGuild }
func (*JoinGuild) MarketID() *uint64            { return nil }

type LeaveGuild struct{}

func (*LeaveGuild) OperationType() OperationType { return OperationTypeLeaveGuild }
func (*LeaveGuild) MarketID() *uint64            { return nil }

type ContributeToGuild struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

func (*ContributeToGuild) OperationType() OperationType { return OperationTypeContributeToGuild }
func (*ContributeToGuild) MarketID() *uint64            { return nil }

// GameConfig is the economy configuration. It is seeded at genesis and
// replaced only through UpdateGameConfig.
type GameConfig struct {
	InitialPlayerTokens         int64      `json:"initial_player_tokens" yaml:"initial_player_tokens" toml:"initial_player_tokens" validate:"gte=0"`
	DailyLoginReward            int64      `json:"daily_login_reward" yaml:"daily_login_reward" toml:"daily_login_reward" validate:"gte=0"`
	MarketCreationCost          int64      `json:"market_creation_cost" yaml:"market_creation_cost" toml:"market_creation_cost" validate:"gte=0"`
	MaxOutcomesPerMarket        uint32     `json:"max_outcomes_per_market" yaml:"max_outcomes_per_market" toml:"max_outcomes_per_market" validate:"gte=2,lte=64"`
	MinMarketDurationSeconds    int64      `json:"min_market_duration_seconds" yaml:"min_market_duration_seconds" toml:"min_market_duration_seconds" validate:"gt=0"`
	OracleVotingDurationSeconds int64      `json:"oracle_voting_duration_seconds" yaml:"oracle_voting_duration_seconds" toml:"oracle_voting_duration_seconds" validate:"gt=0"`
	TradingFeeBps               int64      `json:"trading_fee_bps" yaml:"trading_fee_bps" toml:"trading_fee_bps" validate:"gte=0,lt=10000"`
	CreatorRebateBps            int64      `json:"creator_rebate_bps" yaml:"creator_rebate_bps" toml:"creator_rebate_bps" validate:"gte=0,lte=10000"`
	Admin                       *uuid.UUID `json:"admin,omitempty" yaml:"admin,omitempty" toml:"admin,omitempty"`
}

// DefaultGameConfig returns the genesis economy (amounts in fixed point).
func DefaultGameConfig() GameConfig {
	const token = 1_000_000
	return GameConfig{
		InitialPlayerTokens:         1000 * token,
		DailyLoginReward:            50 * token,
		MarketCreationCost:          100 * token,
		MaxOutcomesPerMarket:        10,
		MinMarketDurationSeconds:    3600,
		OracleVotingDurationSeconds: 86400,
		TradingFeeBps:               50,
		CreatorRebateBps:            200,
	}
}

type UpdateGameConfig struct {
	Config GameConfig `json:"config"`
}

func (*UpdateGameConfig) OperationType() OperationType { return OperationTypeUpdateGameConfig }
func (*UpdateGameConfig) MarketID() *uint64            { return nil }
