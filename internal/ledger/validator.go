package ledger

import (
	"context"
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies the batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance(ctx context.Context) error {
	total, err := v.tracker.ComputeGlobalBalance(ctx)
	if err != nil {
		return err
	}
	if total != 0 {
		return fmt.Errorf("global balance is non-zero: %d", total)
	}
	return nil
}

// ValidateConservation verifies that recorded total supply equals everything
// held by players, guild pools, market escrow and the platform treasury, and
// that the supply source mirrors it.
func (v *InvariantValidator) ValidateConservation(ctx context.Context, totalSupply int64) error {
	h, err := v.tracker.ComputeHoldings(ctx)
	if err != nil {
		return err
	}
	if h.Circulating() != totalSupply {
		return fmt.Errorf("conservation violated: total_supply=%d, held=%d (players=%d guilds=%d markets=%d treasury=%d)",
			totalSupply, h.Circulating(), h.Players, h.Guilds, h.Markets, h.Treasury)
	}
	if h.Mint != -totalSupply {
		return fmt.Errorf("conservation violated: total_supply=%d, mint=%d", totalSupply, h.Mint)
	}
	return nil
}
