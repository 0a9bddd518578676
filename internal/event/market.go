package event

import (
	"fmt"
)

// ResolutionMethod selects how a closed market picks its winner
type ResolutionMethod uint8

const (
	ResolutionOracleVoting ResolutionMethod = iota
	ResolutionAutomated
	ResolutionCreatorDecides
)

func (m ResolutionMethod) String() string {
	switch m {
	case ResolutionOracleVoting:
		return "oracle_voting"
	case ResolutionAutomated:
		return "automated"
	case ResolutionCreatorDecides:
		return "creator_decides"
	default:
		return fmt.Sprintf("ResolutionMethod(%d)", uint8(m))
	}
}

func (m ResolutionMethod) MarshalText() ([]byte, error) {
	switch m {
	case ResolutionOracleVoting, ResolutionAutomated, ResolutionCreatorDecides:
		return []byte(m.String()), nil
	}
	return nil, fmt.Errorf("unknown resolution method %d", uint8(m))
}

func (m *ResolutionMethod) UnmarshalText(b []byte) error {
	switch string(b) {
	case "oracle_voting":
		*m = ResolutionOracleVoting
	case "automated":
		*m = ResolutionAutomated
	case "creator_decides":
		*m = ResolutionCreatorDecides
	default:
		return fmt.Errorf("unknown resolution method %q", string(b))
	}
	return nil
}

// CreateMarket opens a new market funded by the caller.
type CreateMarket struct {
	Title            string           `json:"title" validate:"required,max=200"`
	Description      string           `json:"description" validate:"max=2000"`
	OutcomeNames     []string         `json:"outcome_names" validate:"required,dive,required,max=100"`
	DurationSeconds  int64            `json:"duration_seconds" validate:"gt=0"`
	ResolutionMethod ResolutionMethod `json:"resolution_method"`
}

func (*CreateMarket) OperationType() OperationType { return OperationTypeCreateMarket }
func (*CreateMarket) MarketID() *uint64            { return nil }

// BuyShares stakes Amount tokens on an outcome. MaxPricePerShare bounds the
// curve execution price; 0 disables the bound.
type BuyShares struct {
	Market           uint64 `json:"market_id"`
	OutcomeID        uint32 `json:"outcome_id"`
	Amount           int64  `json:"amount" validate:"gt=0"`
	MaxPricePerShare int64  `json:"max_price_per_share" validate:"gte=0"`
}

func (*BuyShares) OperationType() OperationType { return OperationTypeBuyShares }
func (b *BuyShares) MarketID() *uint64          { return &b.Market }

// SellShares returns shares to the curve. MinPricePerShare bounds the curve
// execution price; 0 disables the bound.
type SellShares struct {
	Market           uint64 `json:"market_id"`
	OutcomeID        uint32 `json:"outcome_id"`
	Shares           int64  `json:"shares" validate:"gt=0"`
	MinPricePerShare int64  `json:"min_price_per_share" validate:"gte=0"`
}

func (*SellShares) OperationType() OperationType { return OperationTypeSellShares }
func (s *SellShares) MarketID() *uint64          { return &s.Market }

type VoteOnOutcome struct {
	Market    uint64 `json:"market_id"`
	OutcomeID uint32 `json:"outcome_id"`
}

func (*VoteOnOutcome) OperationType() OperationType { return OperationTypeVoteOnOutcome }
func (v *VoteOnOutcome) MarketID() *uint64          { return &v.Market }

type TriggerResolution struct {
	Market uint64 `json:"market_id"`
}

func (*TriggerResolution) OperationType() OperationType { return OperationTypeTriggerResolution }
func (t *TriggerResolution) MarketID() *uint64          { return &t.Market }

// ResolveMarket is the creator's verdict for CreatorDecides markets.
type ResolveMarket struct {
	Market    uint64 `json:"market_id"`
	OutcomeID uint32 `json:"outcome_id"`
}

func (*ResolveMarket) OperationType() OperationType { return OperationTypeResolveMarket }
func (r *ResolveMarket) MarketID() *uint64          { return &r.Market }

type ClaimWinnings struct {
	Market uint64 `json:"market_id"`
}

func (*ClaimWinnings) OperationType() OperationType { return OperationTypeClaimWinnings }
func (c *ClaimWinnings) MarketID() *uint64          { return &c.Market }
