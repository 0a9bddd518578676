package state

import (
	"fmt"
	"math/big"

	fpmath "PredictLedger/internal/math"

	"github.com/google/uuid"
)

// Claim is a computed payout for one position.
type Claim struct {
	PlayerID uuid.UUID `json:"player_id"`
	MarketID uint64    `json:"market_id"`
	Shares   int64     `json:"shares"`
	Payout   int64     `json:"payout"`
	Profit   int64     `json:"profit"`
}

// ComputeClaim prices a claim without mutating the market:
//
//	payout = floor(shares × remaining_pool / remaining_winning_shares)
//
// The last claimant holds all remaining shares and receives the exact
// remainder, so payouts sum to the pool frozen at resolution.
func ComputeClaim(m *Market, player uuid.UUID) (Claim, error) {
	if m.Status != MarketResolved || m.WinningOutcome == nil {
		return Claim{}, ErrNotResolved
	}
	pos, ok := m.Positions[player]
	if !ok {
		return Claim{}, ErrNoPosition
	}
	shares := pos.Shares(*m.WinningOutcome)
	if shares <= 0 || pos.Claimed {
		return Claim{}, ErrNoWinnings
	}
	if m.RemainingWinningShares < shares {
		return Claim{}, fmt.Errorf("market %d: position holds %d winning shares, only %d outstanding",
			m.ID, shares, m.RemainingWinningShares)
	}

	var payout int64
	if shares == m.RemainingWinningShares {
		payout = m.RemainingPool
	} else {
		num := fpmath.MultiplyInt128(shares, m.RemainingPool)
		p, err := fpmath.DivideBig(num, big.NewInt(m.RemainingWinningShares), fpmath.RoundDown)
		if err != nil {
			return Claim{}, err
		}
		payout = p
	}

	return Claim{
		PlayerID: player,
		MarketID: m.ID,
		Shares:   shares,
		Payout:   payout,
		Profit:   payout - pos.TotalInvested,
	}, nil
}

// ApplyClaim zeroes the winning shares and draws down the pool.
func ApplyClaim(m *Market, c Claim) {
	pos := m.Positions[c.PlayerID]
	delete(pos.SharesByOutcome, *m.WinningOutcome)
	pos.Claimed = true
	m.RemainingPool -= c.Payout
	m.RemainingWinningShares -= c.Shares
}
