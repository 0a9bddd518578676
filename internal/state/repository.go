package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"PredictLedger/internal/event"
	"PredictLedger/internal/store"

	"github.com/google/uuid"
)

// Key layout. Numeric ids are zero padded so prefix scans return them in
// ascending order.
const (
	PrefixPlayer      = "player/"
	PrefixMarket      = "market/"
	PrefixOracle      = "oracle/"
	PrefixGuild       = "guild/"
	PrefixAchievement = "achievement/"

	KeyConfig       = "config"
	KeyTotalSupply  = "meta/total_supply"
	KeyNextMarketID = "meta/next_market_id"
	KeyNextGuildID  = "meta/next_guild_id"
)

func PlayerKey(id uuid.UUID) string   { return PrefixPlayer + id.String() }
func MarketKey(id uint64) string      { return fmt.Sprintf("%s%020d", PrefixMarket, id) }
func OracleKey(id uint64) string      { return fmt.Sprintf("%s%020d", PrefixOracle, id) }
func GuildKey(id uint64) string       { return fmt.Sprintf("%s%020d", PrefixGuild, id) }
func AchievementKey(id uint32) string { return fmt.Sprintf("%s%03d", PrefixAchievement, id) }

// Repository maps domain records onto the key-value store as JSON. It holds
// no cache: bound to a store.Txn it sees the operation's staged writes.
type Repository struct {
	kv store.ReadWriter
}

func NewRepository(kv store.ReadWriter) *Repository {
	return &Repository{kv: kv}
}

func (r *Repository) getJSON(ctx context.Context, key string, v any) error {
	raw, err := r.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (r *Repository) putJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	r.kv.Set(key, raw)
	return nil
}

// notFound translates store.ErrNotFound into a domain error.
func notFound(err error, domain *Error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain
	}
	return err
}

// === Players ===

func (r *Repository) Player(ctx context.Context, id uuid.UUID) (*Player, error) {
	var p Player
	if err := r.getJSON(ctx, PlayerKey(id), &p); err != nil {
		return nil, notFound(err, ErrPlayerNotFound)
	}
	return &p, nil
}

func (r *Repository) PlayerExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := r.kv.Get(ctx, PlayerKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Repository) PutPlayer(p *Player) error {
	return r.putJSON(PlayerKey(p.ID), p)
}

// Players returns every player ordered by id.
func (r *Repository) Players(ctx context.Context) ([]*Player, error) {
	entries, err := r.kv.Scan(ctx, PrefixPlayer)
	if err != nil {
		return nil, err
	}
	out := make([]*Player, 0, len(entries))
	for _, e := range entries {
		var p Player
		if err := json.Unmarshal(e.Value, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, &p)
	}
	return out, nil
}

// === Markets ===

func (r *Repository) Market(ctx context.Context, id uint64) (*Market, error) {
	var m Market
	if err := r.getJSON(ctx, MarketKey(id), &m); err != nil {
		return nil, notFound(err, ErrMarketNotFound)
	}
	return &m, nil
}

func (r *Repository) PutMarket(m *Market) error {
	return r.putJSON(MarketKey(m.ID), m)
}

// Markets returns every market ordered by id.
func (r *Repository) Markets(ctx context.Context) ([]*Market, error) {
	entries, err := r.kv.Scan(ctx, PrefixMarket)
	if err != nil {
		return nil, err
	}
	out := make([]*Market, 0, len(entries))
	for _, e := range entries {
		var m Market
		if err := json.Unmarshal(e.Value, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, &m)
	}
	return out, nil
}

// === Oracle votes ===

// Oracle returns the voting record of a market, or nil if none was opened.
func (r *Repository) Oracle(ctx context.Context, marketID uint64) (*OracleVoting, error) {
	var o OracleVoting
	err := r.getJSON(ctx, OracleKey(marketID), &o)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) PutOracle(o *OracleVoting) error {
	return r.putJSON(OracleKey(o.MarketID), o)
}

// === Guilds ===

func (r *Repository) Guild(ctx context.Context, id uint64) (*Guild, error) {
	var g Guild
	if err := r.getJSON(ctx, GuildKey(id), &g); err != nil {
		return nil, notFound(err, ErrGuildNotFound)
	}
	return &g, nil
}

func (r *Repository) PutGuild(g *Guild) error {
	return r.putJSON(GuildKey(g.ID), g)
}

// Guilds returns every guild ordered by id.
func (r *Repository) Guilds(ctx context.Context) ([]*Guild, error) {
	entries, err := r.kv.Scan(ctx, PrefixGuild)
	if err != nil {
		return nil, err
	}
	out := make([]*Guild, 0, len(entries))
	for _, e := range entries {
		var g Guild
		if err := json.Unmarshal(e.Value, &g); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, &g)
	}
	return out, nil
}

// === Achievements ===

// Achievements returns the catalog ordered by id.
func (r *Repository) Achievements(ctx context.Context) ([]Achievement, error) {
	entries, err := r.kv.Scan(ctx, PrefixAchievement)
	if err != nil {
		return nil, err
	}
	out := make([]Achievement, 0, len(entries))
	for _, e := range entries {
		var a Achievement
		if err := json.Unmarshal(e.Value, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) PutAchievement(a Achievement) error {
	return r.putJSON(AchievementKey(a.ID), a)
}

// === Singletons ===

func (r *Repository) Config(ctx context.Context) (event.GameConfig, error) {
	var cfg event.GameConfig
	if err := r.getJSON(ctx, KeyConfig, &cfg); err != nil {
		return event.GameConfig{}, fmt.Errorf("load game config: %w", err)
	}
	return cfg, nil
}

func (r *Repository) PutConfig(cfg event.GameConfig) error {
	return r.putJSON(KeyConfig, cfg)
}

func (r *Repository) getInt(ctx context.Context, key string, def int64) (int64, error) {
	raw, err := r.kv.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func (r *Repository) setInt(key string, v int64) {
	r.kv.Set(key, []byte(strconv.FormatInt(v, 10)))
}

func (r *Repository) TotalSupply(ctx context.Context) (int64, error) {
	return r.getInt(ctx, KeyTotalSupply, 0)
}

func (r *Repository) SetTotalSupply(v int64) {
	r.setInt(KeyTotalSupply, v)
}

// NextMarketID returns the next market id and advances the counter.
func (r *Repository) NextMarketID(ctx context.Context) (uint64, error) {
	id, err := r.getInt(ctx, KeyNextMarketID, 0)
	if err != nil {
		return 0, err
	}
	r.setInt(KeyNextMarketID, id+1)
	return uint64(id), nil
}

// NextGuildID returns the next guild id (starting at 1) and advances the
// counter.
func (r *Repository) NextGuildID(ctx context.Context) (uint64, error) {
	id, err := r.getInt(ctx, KeyNextGuildID, 1)
	if err != nil {
		return 0, err
	}
	r.setInt(KeyNextGuildID, id+1)
	return uint64(id), nil
}

// Initialized reports whether genesis has been written.
func (r *Repository) Initialized(ctx context.Context) (bool, error) {
	_, err := r.kv.Get(ctx, KeyConfig)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Genesis seeds the game config, the achievement catalog and the counters.
func (r *Repository) Genesis(ctx context.Context, cfg event.GameConfig) error {
	if err := ValidateGameConfig(cfg); err != nil {
		return err
	}
	if err := r.PutConfig(cfg); err != nil {
		return err
	}
	for _, a := range AchievementCatalog() {
		if err := r.PutAchievement(a); err != nil {
			return err
		}
	}
	r.SetTotalSupply(0)
	r.setInt(KeyNextMarketID, 0)
	r.setInt(KeyNextGuildID, 1)
	return nil
}
