package state

import (
	fpmath "PredictLedger/internal/math"

	"github.com/google/uuid"
)

type WeightedVotes struct {
	TotalWeight uint64 `json:"total_weight"`
	VoterCount  uint32 `json:"voter_count"`
}

// OracleVoting is the vote record of one OracleVoting market. The window
// [StartUs, EndUs) opens when the market closes.
type OracleVoting struct {
	MarketID uint64                   `json:"market_id"`
	StartUs  int64                    `json:"start_us"`
	EndUs    int64                    `json:"end_us"`
	Votes    map[uint32]WeightedVotes `json:"votes"`
	Voters   []uuid.UUID              `json:"voters"`
	Resolved bool                     `json:"resolved"`
}

// NewOracleVoting opens a window of durationSeconds at startUs. A window
// end past int64 is fpmath.ErrOverflow.
func NewOracleVoting(marketID uint64, startUs, durationSeconds int64) (*OracleVoting, error) {
	durationUs, err := fpmath.MulDiv(durationSeconds, 1_000_000, 1, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	endUs, err := fpmath.CheckedAdd(startUs, durationUs)
	if err != nil {
		return nil, err
	}
	return &OracleVoting{
		MarketID: marketID,
		StartUs:  startUs,
		EndUs:    endUs,
		Votes:    map[uint32]WeightedVotes{},
		Voters:   []uuid.UUID{},
	}, nil
}

// Open reports whether votes are accepted at nowUs.
func (o *OracleVoting) Open(nowUs int64) bool {
	return nowUs >= o.StartUs && nowUs < o.EndUs
}

func (o *OracleVoting) HasVoted(voter uuid.UUID) bool {
	for _, v := range o.Voters {
		if v == voter {
			return true
		}
	}
	return false
}

// Cast records one vote. The caller checks the window and outcome range.
func (o *OracleVoting) Cast(voter uuid.UUID, outcome uint32, weight uint64) error {
	if o.HasVoted(voter) {
		return ErrAlreadyVoted
	}
	if o.Votes == nil {
		o.Votes = map[uint32]WeightedVotes{}
	}
	wv := o.Votes[outcome]
	wv.TotalWeight += weight
	wv.VoterCount++
	o.Votes[outcome] = wv
	o.Voters = append(o.Voters, voter)
	return nil
}

// Tally picks the outcome with strictly greatest weight, scanning ids in
// ascending order so ties keep the lowest id.
func (o *OracleVoting) Tally(outcomeCount int) (uint32, error) {
	if len(o.Voters) == 0 {
		return 0, ErrOracleNotReady
	}
	var (
		leader uint32
		best   uint64
		found  bool
	)
	for id := 0; id < outcomeCount; id++ {
		wv, ok := o.Votes[uint32(id)]
		if !ok {
			continue
		}
		if !found || wv.TotalWeight > best {
			leader, best, found = uint32(id), wv.TotalWeight, true
		}
	}
	if !found {
		return 0, ErrOracleNotReady
	}
	return leader, nil
}
