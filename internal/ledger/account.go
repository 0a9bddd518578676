package ledger

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopePlayer AccountScope = iota
	AccountScopeGuild
	AccountScopeMarket
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	SubTypeTokens     AccountSubType = iota // player spendable balance
	SubTypeSharedPool                       // guild shared pool
	SubTypeEscrow                           // market liquidity held for settlement
	SubTypeTreasury                         // platform fees
	SubTypeMint                             // supply source; balance == -total_supply
)

// KeyPrefix is the store prefix under which balances live.
const KeyPrefix = "ledger/"

// AccountKey identifies one ledger account (18 bytes, comparable)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // player UUID, or big-endian guild/market id
	SubType  AccountSubType
}

func PlayerAccount(playerID uuid.UUID) AccountKey {
	return AccountKey{Scope: AccountScopePlayer, EntityID: playerID, SubType: SubTypeTokens}
}

func GuildPoolAccount(guildID uint64) AccountKey {
	return AccountKey{Scope: AccountScopeGuild, EntityID: numericEntity(guildID), SubType: SubTypeSharedPool}
}

func MarketEscrowAccount(marketID uint64) AccountKey {
	return AccountKey{Scope: AccountScopeMarket, EntityID: numericEntity(marketID), SubType: SubTypeEscrow}
}

func TreasuryAccount() AccountKey {
	return AccountKey{Scope: AccountScopeSystem, SubType: SubTypeTreasury}
}

func MintAccount() AccountKey {
	return AccountKey{Scope: AccountScopeExternal, SubType: SubTypeMint}
}

func numericEntity(id uint64) [16]byte {
	var e [16]byte
	binary.BigEndian.PutUint64(e[8:], id)
	return e
}

func (k AccountKey) numericID() uint64 {
	return binary.BigEndian.Uint64(k.EntityID[8:])
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopePlayer:
		return fmt.Sprintf("player:%s:%s", uuid.UUID(k.EntityID).String(), k.subTypeName())
	case AccountScopeGuild:
		return fmt.Sprintf("guild:%020d:%s", k.numericID(), k.subTypeName())
	case AccountScopeMarket:
		return fmt.Sprintf("market:%020d:%s", k.numericID(), k.subTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:platform:%s", k.subTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.subTypeName())
	}
	return "unknown"
}

// StorageKey is the store key holding this account's balance.
func (k AccountKey) StorageKey() string {
	return KeyPrefix + k.AccountPath()
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeTokens:
		return "tokens"
	case SubTypeSharedPool:
		return "pool"
	case SubTypeEscrow:
		return "escrow"
	case SubTypeTreasury:
		return "treasury"
	case SubTypeMint:
		return "mint"
	default:
		return "unknown"
	}
}

// scopeOfPath classifies a stored account path without fully parsing it.
func scopeOfPath(path string) (AccountScope, bool) {
	head, _, _ := strings.Cut(path, ":")
	switch head {
	case "player":
		return AccountScopePlayer, true
	case "guild":
		return AccountScopeGuild, true
	case "market":
		return AccountScopeMarket, true
	case "system":
		return AccountScopeSystem, true
	case "external":
		return AccountScopeExternal, true
	}
	return 0, false
}
