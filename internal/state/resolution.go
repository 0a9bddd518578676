package state

import (
	"context"

	"PredictLedger/internal/event"

	"github.com/google/uuid"
)

// ResolutionResult reports what a resolution attempt did.
type ResolutionResult struct {
	MarketID uint64       `json:"market_id"`
	Status   MarketStatus `json:"status"`
	Winner   *uint32      `json:"winning_outcome,omitempty"`

	// Pending means the market is Closed and waits on votes or the creator.
	Pending bool `json:"pending"`

	// AlreadyResolved means nothing changed; no notification or payout follows.
	AlreadyResolved bool `json:"already_resolved"`
}

// Resolver closes markets and dispatches on the resolution method.
type Resolver struct {
	repo *Repository
}

func NewResolver(repo *Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Trigger closes an ended market and tries to pick its winner. Mutations are
// made on m and on the oracle record; the caller persists m.
func (r *Resolver) Trigger(ctx context.Context, m *Market, nowUs, votingDurationSeconds int64) (ResolutionResult, error) {
	res := ResolutionResult{MarketID: m.ID}
	if nowUs < m.EndTimeUs {
		return res, ErrMarketNotEnded
	}
	if m.Status == MarketResolved {
		res.Status, res.Winner, res.AlreadyResolved = m.Status, m.WinningOutcome, true
		return res, nil
	}
	m.Close(nowUs)

	var (
		winner  uint32
		pending bool
		err     error
	)
	switch m.ResolutionMethod {
	case event.ResolutionOracleVoting:
		winner, pending, err = r.oracleWinner(ctx, m, nowUs, votingDurationSeconds)
	case event.ResolutionAutomated:
		winner = AutomatedWinner(m)
	case event.ResolutionCreatorDecides:
		pending = true
	default:
		err = ErrInvalidResolutionMethod
	}
	if err != nil {
		return res, err
	}
	if pending {
		res.Status, res.Pending = m.Status, true
		return res, nil
	}

	if err := m.Resolve(winner, nowUs); err != nil {
		return res, err
	}
	res.Status, res.Winner = m.Status, m.WinningOutcome
	return res, nil
}

// oracleWinner opens the voting window on first use, stays pending while it
// is open and tallies once it has elapsed.
func (r *Resolver) oracleWinner(ctx context.Context, m *Market, nowUs, durationSeconds int64) (uint32, bool, error) {
	o, err := r.repo.Oracle(ctx, m.ID)
	if err != nil {
		return 0, false, err
	}
	if o == nil {
		o, err = NewOracleVoting(m.ID, *m.ClosedAtUs, durationSeconds)
		if err != nil {
			return 0, false, err
		}
		if err := r.repo.PutOracle(o); err != nil {
			return 0, false, err
		}
	}
	if nowUs < o.EndUs {
		return 0, true, nil
	}

	winner, err := o.Tally(len(m.Outcomes))
	if err != nil {
		return 0, false, err
	}
	o.Resolved = true
	if err := r.repo.PutOracle(o); err != nil {
		return 0, false, err
	}
	return winner, false, nil
}

// AutomatedWinner picks the outcome with the greatest total_shares; ties and
// an empty market go to the lowest id.
func AutomatedWinner(m *Market) uint32 {
	var (
		winner uint32
		best   int64
	)
	for i, o := range m.Outcomes {
		if o.TotalShares > best {
			winner, best = uint32(i), o.TotalShares
		}
	}
	return winner
}

// Vote records a weighted oracle vote.
func (r *Resolver) Vote(ctx context.Context, m *Market, voter *Player, outcomeID uint32, nowUs int64) (*OracleVoting, error) {
	if m.Status != MarketClosed {
		return nil, ErrMarketNotReadyForVoting
	}
	if m.ResolutionMethod != event.ResolutionOracleVoting {
		return nil, ErrInvalidResolutionMethod
	}
	o, err := r.repo.Oracle(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if o == nil || !o.Open(nowUs) {
		return nil, ErrMarketNotReadyForVoting
	}
	if _, err := m.Outcome(outcomeID); err != nil {
		return nil, err
	}
	if err := o.Cast(voter.ID, outcomeID, voter.Reputation); err != nil {
		return nil, err
	}
	return o, r.repo.PutOracle(o)
}

// ResolveByCreator applies the creator's verdict on a CreatorDecides market.
func (r *Resolver) ResolveByCreator(m *Market, caller uuid.UUID, outcomeID uint32, nowUs int64) (ResolutionResult, error) {
	res := ResolutionResult{MarketID: m.ID}
	if caller != m.Creator {
		return res, ErrUnauthorized
	}
	if m.ResolutionMethod != event.ResolutionCreatorDecides {
		return res, ErrInvalidResolutionMethod
	}
	if nowUs < m.EndTimeUs {
		return res, ErrMarketNotEnded
	}
	if _, err := m.Outcome(outcomeID); err != nil {
		return res, err
	}
	if m.Status == MarketResolved {
		res.Status, res.Winner, res.AlreadyResolved = m.Status, m.WinningOutcome, true
		return res, nil
	}

	m.Close(nowUs)
	if err := m.Resolve(outcomeID, nowUs); err != nil {
		return res, err
	}
	res.Status, res.Winner = m.Status, m.WinningOutcome
	return res, nil
}

// ParticipantResult is one position holder's outcome once a market resolves.
type ParticipantResult struct {
	PlayerID uuid.UUID
	Won      bool
	Invested int64
}

// ParticipantResults lists position holders in id order.
func ParticipantResults(m *Market) []ParticipantResult {
	if m.WinningOutcome == nil {
		return nil
	}
	ids := m.PlayerIDs()
	out := make([]ParticipantResult, 0, len(ids))
	for _, id := range ids {
		pos := m.Positions[id]
		out = append(out, ParticipantResult{
			PlayerID: id,
			Won:      pos.Shares(*m.WinningOutcome) > 0,
			Invested: pos.TotalInvested,
		})
	}
	return out
}
