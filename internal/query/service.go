package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/state"
	"PredictLedger/internal/store"

	"github.com/google/uuid"
)

// ErrNoProjections is returned by listing queries when no projection
// database is configured.
var ErrNoProjections = errors.New("projections not configured")

// Reads runs fn while no operation is being applied, so multi-key reads see
// one committed state.
type Reads interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// QueryService answers reads. Point lookups (players, markets, leaderboard)
// are served from the authoritative store; listings and history come from
// the Postgres projections and carry the projection watermark as
// as_of_sequence.
type QueryService struct {
	kv      store.Reader
	reads   Reads
	db      *sql.DB
	metrics *observability.Metrics
}

// NewQueryService wires the read paths. reads and db may be nil: without
// reads, store lookups run unsynchronised; without db, listings fail with
// ErrNoProjections.
func NewQueryService(kv store.Reader, reads Reads, db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{kv: kv, reads: reads, db: db, metrics: metrics}
}

// view runs fn against a read-only overlay of the store.
func (qs *QueryService) view(ctx context.Context, fn func(ctx context.Context, kv *store.Txn, seq int64) error) error {
	run := func(ctx context.Context) error {
		kv := store.NewTxn(qs.kv)
		seq, err := sequence(ctx, kv)
		if err != nil {
			return err
		}
		return fn(ctx, kv, seq)
	}
	if qs.reads == nil {
		return run(ctx)
	}
	return qs.reads.Do(ctx, run)
}

func sequence(ctx context.Context, kv store.Reader) (int64, error) {
	raw, err := kv.Get(ctx, core.KeySequence)
	if err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

// observe records latency and outcome for one endpoint.
func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		code := "Internal"
		var se *state.Error
		if errors.As(err, &se) {
			code = se.Code
		}
		qs.metrics.QueryErrors.WithLabelValues(endpoint, code).Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
}

// GetPlayer returns a player's record and token balance.
func (qs *QueryService) GetPlayer(ctx context.Context, id uuid.UUID) (resp *PlayerResponse, err error) {
	defer func(start time.Time) { qs.observe("get_player", start, err) }(time.Now())

	err = qs.view(ctx, func(ctx context.Context, kv *store.Txn, seq int64) error {
		p, err := state.NewRepository(kv).Player(ctx, id)
		if err != nil {
			return err
		}
		balance, err := ledger.NewBalanceTracker(kv).GetBalance(ctx, ledger.PlayerAccount(id))
		if err != nil {
			return err
		}
		resp = &PlayerResponse{Player: p, Balance: balance, AsOfSequence: seq}
		return nil
	})
	return resp, err
}

// GetMarket returns a market with its outcome prices and escrow balance.
func (qs *QueryService) GetMarket(ctx context.Context, id uint64) (resp *MarketResponse, err error) {
	defer func(start time.Time) { qs.observe("get_market", start, err) }(time.Now())

	err = qs.view(ctx, func(ctx context.Context, kv *store.Txn, seq int64) error {
		m, err := state.NewRepository(kv).Market(ctx, id)
		if err != nil {
			return err
		}
		escrow, err := ledger.NewBalanceTracker(kv).GetBalance(ctx, ledger.MarketEscrowAccount(id))
		if err != nil {
			return err
		}
		resp = &MarketResponse{
			ID:               m.ID,
			Creator:          m.Creator,
			Title:            m.Title,
			Description:      m.Description,
			Outcomes:         m.Outcomes,
			Status:           m.Status,
			ResolutionMethod: m.ResolutionMethod,
			CreatedAtUs:      m.CreatedAtUs,
			EndTimeUs:        m.EndTimeUs,
			TotalLiquidity:   m.TotalLiquidity,
			Escrow:           escrow,
			ParticipantCount: m.ParticipantCount,
			WinningOutcome:   m.WinningOutcome,
			AsOfSequence:     seq,
		}
		return nil
	})
	return resp, err
}

// GetPosition returns a player's holdings in a market.
func (qs *QueryService) GetPosition(ctx context.Context, player uuid.UUID, market uint64) (resp *PositionResponse, err error) {
	defer func(start time.Time) { qs.observe("get_position", start, err) }(time.Now())

	err = qs.view(ctx, func(ctx context.Context, kv *store.Txn, seq int64) error {
		m, err := state.NewRepository(kv).Market(ctx, market)
		if err != nil {
			return err
		}
		pos, ok := m.Positions[player]
		if !ok {
			return state.ErrNoPosition
		}
		resp = &PositionResponse{
			PlayerID:        player,
			MarketID:        market,
			SharesByOutcome: pos.SharesByOutcome,
			TotalInvested:   pos.TotalInvested,
			Claimed:         pos.Claimed,
			AsOfSequence:    seq,
		}
		return nil
	})
	return resp, err
}

// GetLeaderboard ranks every player and guild.
func (qs *QueryService) GetLeaderboard(ctx context.Context) (resp *LeaderboardResponse, err error) {
	defer func(start time.Time) { qs.observe("get_leaderboard", start, err) }(time.Now())

	err = qs.view(ctx, func(ctx context.Context, kv *store.Txn, seq int64) error {
		repo := state.NewRepository(kv)
		players, err := repo.Players(ctx)
		if err != nil {
			return err
		}
		guilds, err := repo.Guilds(ctx)
		if err != nil {
			return err
		}
		balances := ledger.NewBalanceTracker(kv)
		pools := make(map[uint64]int64, len(guilds))
		for _, g := range guilds {
			pool, err := balances.GetBalance(ctx, ledger.GuildPoolAccount(g.ID))
			if err != nil {
				return err
			}
			pools[g.ID] = pool
		}
		resp = &LeaderboardResponse{
			Leaderboard: state.Leaderboard{
				TopTraders: state.RankTraders(players, state.TopTradersLimit),
				TopGuilds:  state.RankGuilds(guilds, pools, state.TopGuildsLimit),
			},
			AsOfSequence: seq,
		}
		return nil
	})
	return resp, err
}

// ListMarkets pages the market projection by ascending id. status filters
// when non-empty.
func (qs *QueryService) ListMarkets(ctx context.Context, status string, limit int, afterID *uint64) (page *Page[MarketSummary], err error) {
	defer func(start time.Time) { qs.observe("list_markets", start, err) }(time.Now())
	if qs.db == nil {
		return nil, ErrNoProjections
	}

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT market_id, creator, title, status, resolution_method, outcome_count,
		       total_liquidity, participant_count, end_time_us, winning_outcome
		FROM projections.markets
		WHERE TRUE
	`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}
	if afterID != nil {
		query += fmt.Sprintf(" AND market_id > $%d", argIdx)
		args = append(args, int64(*afterID))
		argIdx++
	}
	query += " ORDER BY market_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page = &Page[MarketSummary]{AsOfSequence: asOf}
	for rows.Next() {
		var (
			m      MarketSummary
			id     int64
			winner sql.NullInt64
		)
		if err := rows.Scan(
			&id, &m.Creator, &m.Title, &m.Status, &m.ResolutionMethod, &m.OutcomeCount,
			&m.TotalLiquidity, &m.ParticipantCount, &m.EndTimeUs, &winner,
		); err != nil {
			return nil, err
		}
		m.MarketID = uint64(id)
		if winner.Valid {
			w := uint32(winner.Int64)
			m.WinningOutcome = &w
		}
		page.Items = append(page.Items, m)
	}
	return page, rows.Err()
}

// GetTrades returns a player's trades, newest first. beforeSequence pages
// backwards.
func (qs *QueryService) GetTrades(ctx context.Context, player uuid.UUID, limit int, beforeSequence *int64) (page *Page[TradeEntry], err error) {
	defer func(start time.Time) { qs.observe("get_trades", start, err) }(time.Now())
	if qs.db == nil {
		return nil, ErrNoProjections
	}

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT sequence, player_id, market_id, outcome_id, side, shares, price, amount
		FROM projections.trades
		WHERE player_id = $1
	`
	args := []any{player}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}
	query += " ORDER BY sequence DESC, idx"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page = &Page[TradeEntry]{AsOfSequence: asOf}
	for rows.Next() {
		var (
			t        TradeEntry
			marketID int64
			outcome  int64
		)
		if err := rows.Scan(
			&t.Sequence, &t.PlayerID, &marketID, &outcome, &t.Side, &t.Shares, &t.Price, &t.Amount,
		); err != nil {
			return nil, err
		}
		t.MarketID = uint64(marketID)
		t.OutcomeID = uint32(outcome)
		page.Items = append(page.Items, t)
	}
	return page, rows.Err()
}

// GetJournalHistory returns journal entries touching a player's token
// account, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	player uuid.UUID,
	limit int,
	beforeSequence *int64,
) (page *Page[JournalHistoryEntry], err error) {
	defer func(start time.Time) { qs.observe("get_journal_history", start, err) }(time.Now())
	if qs.db == nil {
		return nil, ErrNoProjections
	}

	var asOf int64
	if err := qs.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM event_log.operations`,
	).Scan(&asOf); err != nil {
		return nil, fmt.Errorf("log tip: %w", err)
	}

	account := ledger.PlayerAccount(player).AccountPath()
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp_us
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []any{account}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}
	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page = &Page[JournalHistoryEntry]{AsOfSequence: asOf}
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount, &e.JournalType, &e.TimestampUs,
		); err != nil {
			return nil, err
		}
		page.Items = append(page.Items, e)
	}
	return page, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the zero-sum ledger and conservation on the live
// store and, when the
// event log is configured, hash chain continuity and that projected
// balances still sum to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer func(start time.Time) { qs.observe("verify_integrity", start, err) }(time.Now())
	report = &IntegrityReport{}

	err = qs.view(ctx, func(ctx context.Context, kv *store.Txn, seq int64) error {
		report.Sequence = seq
		supply, err := state.NewRepository(kv).TotalSupply(ctx)
		if err != nil {
			return err
		}
		validator := ledger.NewInvariantValidator(ledger.NewBalanceTracker(kv))
		if verr := validator.ValidateGlobalBalance(ctx); verr != nil {
			report.BalanceError = verr.Error()
		}
		if verr := validator.ValidateConservation(ctx, supply); verr != nil {
			report.ConservationError = verr.Error()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if qs.db != nil {
		rows, err := qs.db.QueryContext(ctx, `
			SELECT o.sequence
			FROM event_log.operations o
			JOIN event_log.operations p ON p.sequence = o.sequence - 1
			WHERE o.prev_hash <> p.state_hash
			ORDER BY o.sequence
			LIMIT 10
		`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var seq int64
			if err := rows.Scan(&seq); err != nil {
				return nil, err
			}
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		// Mint is negative, so every projected balance sums to zero.
		if err := qs.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(balance), 0) FROM projections.balances`,
		).Scan(&report.ProjectionDrift); err != nil {
			return nil, err
		}
	}

	report.IsHealthy = report.BalanceError == "" &&
		report.ConservationError == "" &&
		len(report.HashChainBreaks) == 0 &&
		report.ProjectionDrift == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'`,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}
