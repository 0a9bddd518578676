package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/store"
)

// ErrInsufficientBalance is returned by pre-checks when a payer cannot cover
// an amount.
var ErrInsufficientBalance = errors.New("insufficient balance")

// BalanceTracker reads and writes account balances in the key-value store.
// Balances are 8-byte little-endian int64 under KeyPrefix. Bound to a
// store.Txn, every change is staged with the rest of the operation.
type BalanceTracker struct {
	kv store.ReadWriter
}

func NewBalanceTracker(kv store.ReadWriter) *BalanceTracker {
	return &BalanceTracker{kv: kv}
}

func encodeBalance(v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func decodeBalance(path string, raw []byte) (int64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("balance %s: corrupt value of %d bytes", path, len(raw))
	}
	return int64(binary.LittleEndian.Uint64(raw)), nil
}

// GetBalance returns the current balance for an account (0 if never touched)
func (bt *BalanceTracker) GetBalance(ctx context.Context, key AccountKey) (int64, error) {
	raw, err := bt.kv.Get(ctx, key.StorageKey())
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeBalance(key.AccountPath(), raw)
}

func (bt *BalanceTracker) setBalance(key AccountKey, v int64) {
	bt.kv.Set(key.StorageKey(), encodeBalance(v))
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(ctx context.Context, j Journal) error {
	debit, err := bt.GetBalance(ctx, j.DebitAccount)
	if err != nil {
		return err
	}
	credit, err := bt.GetBalance(ctx, j.CreditAccount)
	if err != nil {
		return err
	}

	newDebit, err := fpmath.CheckedAdd(debit, j.Amount)
	if err != nil {
		return fmt.Errorf("journal %s debit %s: %w", j.JournalType, j.DebitAccount.AccountPath(), err)
	}
	newCredit, err := fpmath.CheckedSub(credit, j.Amount)
	if err != nil {
		return fmt.Errorf("journal %s credit %s: %w", j.JournalType, j.CreditAccount.AccountPath(), err)
	}

	bt.setBalance(j.DebitAccount, newDebit)
	bt.setBalance(j.CreditAccount, newCredit)
	return nil
}

// ApplyBatch validates the batch, applies every journal, then checks that no
// account other than the supply source went negative.
func (bt *BalanceTracker) ApplyBatch(ctx context.Context, batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	// Touched accounts in journal order, so the first violation reported
	// is the same on every replica.
	seen := make(map[AccountKey]struct{}, len(batch.Journals)*2)
	touched := make([]AccountKey, 0, len(batch.Journals)*2)
	for _, j := range batch.Journals {
		if err := bt.ApplyJournal(ctx, j); err != nil {
			return err
		}
		for _, key := range [2]AccountKey{j.DebitAccount, j.CreditAccount} {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				touched = append(touched, key)
			}
		}
	}

	for _, key := range touched {
		if key == MintAccount() {
			continue
		}
		if err := bt.ValidateNonNegative(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSufficient checks that an account can pay required
func (bt *BalanceTracker) ValidateSufficient(ctx context.Context, key AccountKey, required int64) error {
	balance, err := bt.GetBalance(ctx, key)
	if err != nil {
		return err
	}
	if balance < required {
		return fmt.Errorf("%w: %s have=%d, need=%d", ErrInsufficientBalance, key.AccountPath(), balance, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(ctx context.Context, key AccountKey) error {
	balance, err := bt.GetBalance(ctx, key)
	if err != nil {
		return err
	}
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Holdings is the per-scope breakdown of every balance in the store.
type Holdings struct {
	Players  int64
	Guilds   int64
	Markets  int64
	Treasury int64
	Mint     int64
}

// Circulating is everything held outside the supply source.
func (h Holdings) Circulating() int64 {
	return h.Players + h.Guilds + h.Markets + h.Treasury
}

// ComputeHoldings scans all balances and sums them by scope.
func (bt *BalanceTracker) ComputeHoldings(ctx context.Context) (Holdings, error) {
	entries, err := bt.kv.Scan(ctx, KeyPrefix)
	if err != nil {
		return Holdings{}, err
	}

	var h Holdings
	for _, e := range entries {
		path := e.Key[len(KeyPrefix):]
		v, err := decodeBalance(path, e.Value)
		if err != nil {
			return Holdings{}, err
		}
		scope, ok := scopeOfPath(path)
		if !ok {
			return Holdings{}, fmt.Errorf("balance %s: unknown account scope", path)
		}
		switch scope {
		case AccountScopePlayer:
			h.Players += v
		case AccountScopeGuild:
			h.Guilds += v
		case AccountScopeMarket:
			h.Markets += v
		case AccountScopeSystem:
			h.Treasury += v
		case AccountScopeExternal:
			h.Mint += v
		}
	}
	return h, nil
}

// ComputeGlobalBalance sums all account balances (0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance(ctx context.Context) (int64, error) {
	h, err := bt.ComputeHoldings(ctx)
	if err != nil {
		return 0, err
	}
	return h.Circulating() + h.Mint, nil
}

// Snapshot returns a copy of all balances keyed by account path
func (bt *BalanceTracker) Snapshot(ctx context.Context) (map[string]int64, error) {
	entries, err := bt.kv.Scan(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(entries))
	for _, e := range entries {
		path := e.Key[len(KeyPrefix):]
		v, err := decodeBalance(path, e.Value)
		if err != nil {
			return nil, err
		}
		out[path] = v
	}
	return out, nil
}
