package state

import (
	"bytes"
	"fmt"
	"sort"

	"PredictLedger/internal/event"
	fpmath "PredictLedger/internal/math"

	"github.com/google/uuid"
)

// MarketStatus only moves forward: Active -> Closed -> Resolved.
type MarketStatus uint8

const (
	MarketActive MarketStatus = iota
	MarketClosed
	MarketResolved
)

func (s MarketStatus) String() string {
	switch s {
	case MarketActive:
		return "active"
	case MarketClosed:
		return "closed"
	case MarketResolved:
		return "resolved"
	default:
		return fmt.Sprintf("MarketStatus(%d)", uint8(s))
	}
}

func (s MarketStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MarketStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = MarketActive
	case "closed":
		*s = MarketClosed
	case "resolved":
		*s = MarketResolved
	default:
		return fmt.Errorf("unknown market status %q", string(b))
	}
	return nil
}

// DefaultBasePrice is one token per share.
const DefaultBasePrice = fpmath.Scale

type Outcome struct {
	ID           uint32 `json:"id"`
	Name         string `json:"name"`
	TotalShares  int64  `json:"total_shares"`
	CurrentPrice int64  `json:"current_price"`
}

// Position is one player's holdings in one market. Zero share entries are
// removed; a fully paid position is kept.
type Position struct {
	SharesByOutcome map[uint32]int64 `json:"shares_by_outcome"`
	TotalInvested   int64            `json:"total_invested"`
	EntryTimeUs     int64            `json:"entry_time_us"`
	Claimed         bool             `json:"claimed"`
}

func (p *Position) Shares(outcome uint32) int64 {
	return p.SharesByOutcome[outcome]
}

type Market struct {
	ID               uint64                  `json:"id"`
	Creator          uuid.UUID               `json:"creator"`
	Title            string                  `json:"title"`
	Description      string                  `json:"description"`
	Outcomes         []Outcome               `json:"outcomes"`
	CreatedAtUs      int64                   `json:"created_at_us"`
	EndTimeUs        int64                   `json:"end_time_us"`
	ClosedAtUs       *int64                  `json:"closed_at_us,omitempty"`
	ResolutionTimeUs *int64                  `json:"resolution_time_us,omitempty"`
	Status           MarketStatus            `json:"status"`
	TotalLiquidity   int64                   `json:"total_liquidity"`
	BasePrice        int64                   `json:"base_price"`
	Smoothing        fpmath.Smoothing        `json:"smoothing"`
	RoundingRule     uint32                  `json:"rounding_rule"`
	Positions        map[uuid.UUID]*Position `json:"positions"`
	ParticipantCount uint32                  `json:"participant_count"`
	WinningOutcome   *uint32                 `json:"winning_outcome,omitempty"`
	ResolutionMethod event.ResolutionMethod  `json:"resolution_method"`

	// Settlement bookkeeping, frozen at resolution.
	PayoutPool             int64 `json:"payout_pool"`
	RemainingPool          int64 `json:"remaining_pool"`
	RemainingWinningShares int64 `json:"remaining_winning_shares"`
}

// NewMarket builds an Active market with every outcome seeded at the base
// price.
func NewMarket(
	id uint64,
	creator uuid.UUID,
	op *event.CreateMarket,
	nowUs int64,
) *Market {
	outcomes := make([]Outcome, len(op.OutcomeNames))
	for i, name := range op.OutcomeNames {
		outcomes[i] = Outcome{ID: uint32(i), Name: name, CurrentPrice: DefaultBasePrice}
	}
	return &Market{
		ID:               id,
		Creator:          creator,
		Title:            op.Title,
		Description:      op.Description,
		Outcomes:         outcomes,
		CreatedAtUs:      nowUs,
		EndTimeUs:        nowUs + op.DurationSeconds*1_000_000,
		Status:           MarketActive,
		BasePrice:        DefaultBasePrice,
		Smoothing:        fpmath.DefaultSmoothing,
		RoundingRule:     fpmath.RoundingRuleV1,
		Positions:        map[uuid.UUID]*Position{},
		ResolutionMethod: op.ResolutionMethod,
	}
}

func (m *Market) curve() (fpmath.Curve, error) {
	return fpmath.NewCurve(m.BasePrice, m.Smoothing)
}

// Outcome returns the outcome with the given id or ErrInvalidOutcome.
func (m *Market) Outcome(id uint32) (*Outcome, error) {
	if int(id) >= len(m.Outcomes) {
		return nil, ErrInvalidOutcome
	}
	return &m.Outcomes[id], nil
}

// Ended reports whether trading time is over.
func (m *Market) Ended(nowUs int64) bool {
	return nowUs >= m.EndTimeUs
}

// CheckTradable enforces Active and not ended.
func (m *Market) CheckTradable(nowUs int64) error {
	if m.Status != MarketActive {
		return ErrMarketNotActive
	}
	if m.Ended(nowUs) {
		return ErrMarketEnded
	}
	return nil
}

// QuoteBuy prices a purchase against the current curve.
func (m *Market) QuoteBuy(outcomeID uint32, amount, feeBps int64) (fpmath.BuyQuote, error) {
	o, err := m.Outcome(outcomeID)
	if err != nil {
		return fpmath.BuyQuote{}, err
	}
	c, err := m.curve()
	if err != nil {
		return fpmath.BuyQuote{}, err
	}
	return c.QuoteBuy(o.TotalShares, m.TotalLiquidity, amount, feeBps)
}

// QuoteSell prices a sale against the current curve, capped at liquidity.
func (m *Market) QuoteSell(outcomeID uint32, shares, feeBps int64) (fpmath.SellQuote, error) {
	o, err := m.Outcome(outcomeID)
	if err != nil {
		return fpmath.SellQuote{}, err
	}
	c, err := m.curve()
	if err != nil {
		return fpmath.SellQuote{}, err
	}
	return c.QuoteSell(o.TotalShares, m.TotalLiquidity, shares, m.TotalLiquidity, feeBps)
}

// ApplyBuy credits liquidity and shares and upserts the buyer's position.
// cost is what the buyer paid and is added to the position's investment.
// Returns true if this is the player's first position in the market.
func (m *Market) ApplyBuy(player uuid.UUID, outcomeID uint32, q fpmath.BuyQuote, cost, nowUs int64) (bool, error) {
	o, err := m.Outcome(outcomeID)
	if err != nil {
		return false, err
	}
	liquidity, err := fpmath.CheckedAdd(m.TotalLiquidity, q.Net)
	if err != nil {
		return false, err
	}
	shares, err := fpmath.CheckedAdd(o.TotalShares, q.Shares)
	if err != nil {
		return false, err
	}

	pos, ok := m.Positions[player]
	if !ok {
		pos = &Position{SharesByOutcome: map[uint32]int64{}, EntryTimeUs: nowUs}
	}
	held, err := fpmath.CheckedAdd(pos.SharesByOutcome[outcomeID], q.Shares)
	if err != nil {
		return false, err
	}
	invested, err := fpmath.CheckedAdd(pos.TotalInvested, cost)
	if err != nil {
		return false, err
	}

	m.TotalLiquidity = liquidity
	o.TotalShares = shares
	pos.SharesByOutcome[outcomeID] = held
	pos.TotalInvested = invested
	if !ok {
		if m.Positions == nil {
			m.Positions = map[uuid.UUID]*Position{}
		}
		m.Positions[player] = pos
		m.ParticipantCount++
	}
	return !ok, m.refreshPrices()
}

// ApplySell removes shares and liquidity and takes proceeds off the
// position's investment. Ownership must already be checked.
func (m *Market) ApplySell(player uuid.UUID, outcomeID uint32, q fpmath.SellQuote, proceeds int64) error {
	o, err := m.Outcome(outcomeID)
	if err != nil {
		return err
	}
	pos, ok := m.Positions[player]
	if !ok {
		return ErrNoPosition
	}
	held := pos.SharesByOutcome[outcomeID]
	if held < q.Shares {
		return ErrInsufficientShares
	}

	m.TotalLiquidity -= q.Gross
	o.TotalShares -= q.Shares
	if held == q.Shares {
		delete(pos.SharesByOutcome, outcomeID)
	} else {
		pos.SharesByOutcome[outcomeID] = held - q.Shares
	}
	pos.TotalInvested -= proceeds
	if pos.TotalInvested < 0 {
		pos.TotalInvested = 0
	}
	return m.refreshPrices()
}

// refreshPrices recomputes every outcome's displayed price. Liquidity is
// shared, so one trade moves all of them.
func (m *Market) refreshPrices() error {
	c, err := m.curve()
	if err != nil {
		return err
	}
	for i := range m.Outcomes {
		p, err := c.Price(m.Outcomes[i].TotalShares, m.TotalLiquidity, fpmath.RoundDown)
		if err != nil {
			return err
		}
		m.Outcomes[i].CurrentPrice = p
	}
	return nil
}

// Close moves Active -> Closed. No-op otherwise.
func (m *Market) Close(nowUs int64) {
	if m.Status != MarketActive {
		return
	}
	m.Status = MarketClosed
	t := nowUs
	m.ClosedAtUs = &t
}

// Resolve moves Closed -> Resolved and freezes the settlement pool.
func (m *Market) Resolve(winner uint32, nowUs int64) error {
	if m.Status != MarketClosed {
		return fmt.Errorf("resolve market %d in status %s", m.ID, m.Status)
	}
	if _, err := m.Outcome(winner); err != nil {
		return err
	}
	w := winner
	t := nowUs
	m.Status = MarketResolved
	m.WinningOutcome = &w
	m.ResolutionTimeUs = &t
	m.PayoutPool = m.TotalLiquidity
	m.RemainingPool = m.TotalLiquidity

	var winning int64
	for _, id := range m.PlayerIDs() {
		s, err := fpmath.CheckedAdd(winning, m.Positions[id].Shares(winner))
		if err != nil {
			return err
		}
		winning = s
	}
	m.RemainingWinningShares = winning
	return nil
}

// PlayerIDs returns position holders in byte order of their ids.
func (m *Market) PlayerIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.Positions))
	for id := range m.Positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}
