package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/state"
	"PredictLedger/internal/store"

	"github.com/rs/zerolog"
)

// Core bookkeeping keys, written in the same commit as the operation.
const (
	KeySequence          = "meta/sequence"
	KeyStateHash         = "meta/state_hash"
	PrefixSourceSequence = "meta/source_sequence/"
)

// DefaultLRUCapacity is used when Options.LRUCapacity is unset.
const DefaultLRUCapacity = 100_000

// DeterministicCore is the single-threaded request processor
type DeterministicCore struct {
	kv                store.Store
	sequence          int64 // last applied sequence
	hasher            *StateHasher
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger
	out               Outputs
	bootstrapped      bool
}

// Outputs are the downstream channels. Persist and Notify sends block
// (backpressure); Projection sends drop when the channel is full. A nil
// channel is skipped.
type Outputs struct {
	Persist    chan<- CoreOutput
	Projection chan<- CoreOutput
	Notify     chan<- CoreOutput
}

type Options struct {
	LRUCapacity int
	DBChecker   DBIdempotencyChecker
	Metrics     *observability.Metrics
	Logger      *zerolog.Logger
}

// CoreOutput is everything one applied operation produced
type CoreOutput struct {
	Envelope      *event.EventEnvelope
	Batch         *ledger.Batch
	Notifications []event.Notification
	Writes        []store.Write
}

func NewDeterministicCore(kv store.Store, out Outputs, opts Options) *DeterministicCore {
	capacity := opts.LRUCapacity
	if capacity <= 0 {
		capacity = DefaultLRUCapacity
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &DeterministicCore{
		kv:                kv,
		hasher:            NewStateHasher(),
		idempotency:       NewIdempotencyChecker(capacity, opts.DBChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           opts.Metrics,
		logger:            logger,
		out:               out,
	}
}

// Bootstrap writes genesis into an empty store and loads the chain tip.
// It must run before the first Execute.
func (c *DeterministicCore) Bootstrap(ctx context.Context, genesis event.GameConfig) error {
	txn := store.NewTxn(c.kv)
	repo := state.NewRepository(txn)

	initialized, err := repo.Initialized(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if !initialized {
		if err := repo.Genesis(ctx, genesis); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		tip := NewStateHasher().GetPrevHash()
		txn.Set(KeySequence, []byte("0"))
		txn.Set(KeyStateHash, tip[:])
		if err := txn.Commit(ctx, c.kv); err != nil {
			return fmt.Errorf("commit genesis: %w", err)
		}
		c.logger.Info().Msg("genesis written")
	}

	if err := c.load(ctx); err != nil {
		return err
	}
	c.bootstrapped = true
	c.logger.Info().Int64("sequence", c.sequence).Msg("core bootstrapped")
	return nil
}

// load reads sequence, chain tip and upstream sequences from the store.
func (c *DeterministicCore) load(ctx context.Context) error {
	raw, err := c.kv.Get(ctx, KeySequence)
	if err != nil {
		return fmt.Errorf("load sequence: %w", err)
	}
	seq, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("decode sequence: %w", err)
	}

	raw, err = c.kv.Get(ctx, KeyStateHash)
	if err != nil {
		return fmt.Errorf("load state hash: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("corrupt state hash of %d bytes", len(raw))
	}
	var tip [32]byte
	copy(tip[:], raw)

	entries, err := c.kv.Scan(ctx, PrefixSourceSequence)
	if err != nil {
		return fmt.Errorf("load source sequences: %w", err)
	}
	for _, e := range entries {
		last, err := strconv.ParseInt(string(e.Value), 10, 64)
		if err != nil {
			return fmt.Errorf("decode %s: %w", e.Key, err)
		}
		c.sequenceValidator.RestorePartition(strings.TrimPrefix(e.Key, PrefixSourceSequence), last)
	}

	c.sequence = seq
	c.hasher.SetPrevHash(tip)
	return nil
}

// Execute is the main processing pipeline. Every request gets a response;
// business rejections leave state untouched.
func (c *DeterministicCore) Execute(ctx context.Context, req event.Request) event.Response {
	return c.execute(ctx, req, true)
}

func (c *DeterministicCore) execute(ctx context.Context, req event.Request, consultLog bool) event.Response {
	start := time.Now()
	opName := event.OperationTypeUnknown.String()
	if req.Operation != nil {
		opName = req.Operation.OperationType().String()
	}
	key := req.IdempotencyKey()

	if !c.bootstrapped {
		return c.fail(req, opName, ErrNotBootstrapped)
	}

	// Step 1: Idempotency check (three-tier)
	stored, isDuplicate, err := c.idempotency.Lookup(ctx, c.kv, opName, key, consultLog)
	if err != nil {
		return c.fail(req, opName, err)
	}

	// Step 2: Sequence validation
	if err := c.sequenceValidator.ValidateSequence(RequestPartition, req.Sequence, isDuplicate); err != nil {
		return c.fail(req, opName, err)
	}

	if isDuplicate {
		var resp event.Response
		if err := json.Unmarshal(stored, &resp); err != nil {
			return c.fail(req, opName, fmt.Errorf("decode stored response: %w", err))
		}
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(opName).Inc()
		}
		return resp
	}

	if req.Operation == nil {
		return c.reject(ctx, req, opName, fmt.Errorf("%w: no operation", ErrInvalidRequest))
	}

	// Step 3: Stage the operation over the store
	seq := c.sequence + 1
	txn := store.NewTxn(c.kv)
	oc := newOpContext(ctx, req, seq, txn)

	result, supply, err := c.apply(oc)
	if err != nil {
		return c.reject(ctx, req, opName, err)
	}

	// Step 4: State hash over the domain writes
	writes := txn.Writes()
	hashStart := time.Now()
	stateHash := c.hasher.ComputeHash(seq, StateDigest(writes))
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	resp := event.Response{RequestID: req.RequestID, Sequence: seq, OK: true, Result: result}
	respBytes, err := json.Marshal(resp)
	if err != nil {
		return c.fail(req, opName, fmt.Errorf("encode response: %w", err))
	}
	payload, err := event.EncodeRequest(req)
	if err != nil {
		return c.fail(req, opName, err)
	}

	// Step 5: Commit (atomic with the bookkeeping keys)
	txn.Set(KeySequence, []byte(strconv.FormatInt(seq, 10)))
	txn.Set(KeyStateHash, stateHash[:])
	txn.Set(RequestKey(key), respBytes)
	if req.Sequence > 0 {
		txn.Set(PrefixSourceSequence+RequestPartition, []byte(strconv.FormatInt(req.Sequence, 10)))
	}
	if err := txn.Commit(ctx, c.kv); err != nil {
		return c.fail(req, opName, err)
	}

	prevHash := c.hasher.GetPrevHash()
	c.sequence = seq
	c.hasher.Advance(stateHash)
	c.sequenceValidator.Advance(RequestPartition, req.Sequence)
	c.idempotency.MarkProcessed(key, respBytes)

	// Step 6: Emit outputs
	output := CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       seq,
			IdempotencyKey: key,
			OperationType:  req.Operation.OperationType(),
			MarketID:       req.Operation.MarketID(),
			Caller:         req.Caller,
			TimestampUs:    req.TimestampUs,
			SourceSequence: req.Sequence,
			Payload:        payload,
			Response:       respBytes,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Batch:         oc.batch,
		Notifications: oc.notifications,
		Writes:        writes,
	}
	c.emit(output)

	c.recordApplied(opName, output, supply, start)
	c.logger.Debug().
		Int64("sequence", seq).
		Str("operation", opName).
		Str("request_id", key).
		Int("journals", len(oc.batch.Journals)).
		Msg("operation applied")
	return resp
}

// apply runs the handler and the ledger steps inside the staged txn. It
// returns the encoded result and the total supply after the operation.
func (c *DeterministicCore) apply(oc *opContext) (json.RawMessage, int64, error) {
	cfg, err := oc.repo.Config(oc.ctx)
	if err != nil {
		return nil, 0, err
	}
	oc.cfg = cfg

	result, err := c.dispatch(oc)
	if err != nil {
		return nil, 0, err
	}

	supply, err := oc.repo.TotalSupply(oc.ctx)
	if err != nil {
		return nil, 0, err
	}

	if !oc.batch.Empty() {
		if err := oc.validator.ValidateBatchBalance(oc.batch); err != nil {
			c.logger.Error().Err(err).Int64("sequence", oc.seq).Msg("unbalanced batch")
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := oc.balances.ApplyBatch(oc.ctx, oc.batch); err != nil {
			return nil, 0, fmt.Errorf("apply batch failed: %w", err)
		}
		if minted := oc.batch.MintedAmount(); minted != 0 {
			supply, err = fpmath.CheckedAdd(supply, minted)
			if err != nil {
				return nil, 0, err
			}
			oc.repo.SetTotalSupply(supply)
		}
	}

	// Post-check: conservation
	if err := oc.validator.ValidateConservation(oc.ctx, supply); err != nil {
		if errors.Is(err, store.ErrStorage) {
			return nil, 0, err
		}
		c.logger.Error().Err(err).Int64("sequence", oc.seq).Msg("invariant violated")
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	if result == nil {
		return nil, supply, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, 0, fmt.Errorf("encode result: %w", err)
	}
	return raw, supply, nil
}

// reject answers a failed operation. Recordable failures are stored so a
// redelivered request gets the same answer; the domain txn is discarded.
func (c *DeterministicCore) reject(ctx context.Context, req event.Request, opName string, cause error) event.Response {
	resp := failure(req, cause)
	if !recorded(resp.ErrorCode) {
		return c.fail(req, opName, cause)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return c.fail(req, opName, fmt.Errorf("encode response: %w", err))
	}
	txn := store.NewTxn(c.kv)
	txn.Set(RequestKey(req.IdempotencyKey()), raw)
	if req.Sequence > 0 {
		txn.Set(PrefixSourceSequence+RequestPartition, []byte(strconv.FormatInt(req.Sequence, 10)))
	}
	if err := txn.Commit(ctx, c.kv); err != nil {
		return c.fail(req, opName, err)
	}
	c.sequenceValidator.Advance(RequestPartition, req.Sequence)
	c.idempotency.MarkProcessed(req.IdempotencyKey(), raw)

	if c.metrics != nil {
		c.metrics.CoreOperationsRejected.WithLabelValues(opName, resp.ErrorCode).Inc()
	}
	c.logger.Debug().
		Str("operation", opName).
		Str("request_id", req.IdempotencyKey()).
		Str("code", resp.ErrorCode).
		Err(cause).
		Msg("operation rejected")
	return resp
}

// fail answers without recording anything; the request may be redelivered.
func (c *DeterministicCore) fail(req event.Request, opName string, cause error) event.Response {
	resp := failure(req, cause)
	if c.metrics != nil {
		c.metrics.CoreOperationsRejected.WithLabelValues(opName, resp.ErrorCode).Inc()
		switch resp.ErrorCode {
		case CodeSequenceGap:
			c.metrics.RequestSequenceGap.WithLabelValues(RequestPartition).Inc()
		case CodeOutOfOrder:
			c.metrics.RequestOutOfOrder.WithLabelValues(RequestPartition).Inc()
		}
	}
	c.logger.Warn().
		Str("operation", opName).
		Str("request_id", req.IdempotencyKey()).
		Str("code", resp.ErrorCode).
		Err(cause).
		Msg("operation failed")
	return resp
}

func failure(req event.Request, cause error) event.Response {
	return event.Response{
		RequestID: req.RequestID,
		ErrorCode: ErrorCode(cause),
		Error:     cause.Error(),
	}
}

func (c *DeterministicCore) emit(output CoreOutput) {
	// Persistence: blocking send, the core stalls until the worker drains.
	if c.out.Persist != nil {
		select {
		case c.out.Persist <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.out.Persist <- output
		}
	}

	// Projections: non-blocking send. Projections rebuild from the log.
	if c.out.Projection != nil {
		select {
		case c.out.Projection <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}

	if c.out.Notify != nil && len(output.Notifications) > 0 {
		c.out.Notify <- output
	}
}

func (c *DeterministicCore) recordApplied(opName string, output CoreOutput, supply int64, start time.Time) {
	if c.metrics == nil {
		return
	}
	m := c.metrics
	m.CoreOperationsApplied.WithLabelValues(opName).Inc()
	m.CoreOperationDuration.WithLabelValues(opName).Observe(time.Since(start).Seconds())
	m.CoreSequence.Set(float64(c.sequence))
	m.TokenSupply.Set(float64(supply))
	m.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
	m.DedupLRUEvictions.Set(float64(c.idempotency.lru.Evictions()))

	for _, j := range output.Batch.Journals {
		m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		if j.IsMint() {
			m.TokensMinted.WithLabelValues(j.JournalType.String()).Add(float64(j.Amount))
		}
		if j.JournalType == ledger.JournalTypeWinningsPayout {
			m.WinningsPaid.Add(float64(j.Amount))
		}
	}
	for _, n := range output.Notifications {
		switch d := n.Data.(type) {
		case event.TradeExecuted:
			m.TradesExecuted.WithLabelValues(string(d.Side)).Inc()
			m.TradeVolume.WithLabelValues(string(d.Side)).Add(float64(d.Amount))
		case event.MarketCreated:
			m.MarketsCreated.Inc()
		case event.MarketResolved:
			m.MarketsResolved.WithLabelValues(d.Method.String()).Inc()
		case event.AchievementUnlocked:
			m.AchievementsUnlocked.WithLabelValues(strconv.FormatUint(uint64(d.AchievementID), 10)).Inc()
		}
	}
	switch output.Envelope.OperationType {
	case event.OperationTypeVoteOnOutcome:
		m.OracleVotes.Inc()
	case event.OperationTypeClaimWinnings:
		m.WinningsClaimed.Inc()
	}
}

func (c *DeterministicCore) dispatch(oc *opContext) (any, error) {
	switch op := oc.req.Operation.(type) {
	case *event.RegisterPlayer:
		return c.handleRegisterPlayer(oc, op)
	case *event.UpdateProfile:
		return c.handleUpdateProfile(oc, op)
	case *event.ClaimDailyReward:
		return c.handleClaimDailyReward(oc, op)
	case *event.CreateMarket:
		return c.handleCreateMarket(oc, op)
	case *event.BuyShares:
		return c.handleBuyShares(oc, op)
	case *event.SellShares:
		return c.handleSellShares(oc, op)
	case *event.VoteOnOutcome:
		return c.handleVoteOnOutcome(oc, op)
	case *event.TriggerResolution:
		return c.handleTriggerResolution(oc, op)
	case *event.ResolveMarket:
		return c.handleResolveMarket(oc, op)
	case *event.ClaimWinnings:
		return c.handleClaimWinnings(oc, op)
	case *event.CreateGuild:
		return c.handleCreateGuild(oc, op)
	case *event.JoinGuild:
		return c.handleJoinGuild(oc, op)
	case *event.LeaveGuild:
		return c.handleLeaveGuild(oc, op)
	case *event.ContributeToGuild:
		return c.handleContributeToGuild(oc, op)
	case *event.UpdateGameConfig:
		return c.handleUpdateGameConfig(oc, op)
	default:
		return nil, fmt.Errorf("%w: unknown operation %T", ErrInvalidRequest, op)
	}
}

// GetSequence returns the last applied sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// WarmLRU loads recent responses keyed by request id into the LRU.
func (c *DeterministicCore) WarmLRU(entries []store.Entry) {
	c.idempotency.lru.WarmFromEntries(entries)
}

// Store exposes the committed state for read-only consumers.
func (c *DeterministicCore) Store() store.Reader {
	return c.kv
}
