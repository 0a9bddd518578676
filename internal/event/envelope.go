package event

import (
	"encoding/json"

	"github.com/google/uuid"
)

// OperationType discriminator for operation payloads
type OperationType int32

const (
	OperationTypeUnknown OperationType = iota
	OperationTypeRegisterPlayer
	OperationTypeUpdateProfile
	OperationTypeClaimDailyReward
	OperationTypeCreateMarket
	OperationTypeBuyShares
	OperationTypeSellShares
	OperationTypeVoteOnOutcome
	OperationTypeTriggerResolution
	OperationTypeResolveMarket
	OperationTypeClaimWinnings
	OperationTypeCreateGuild
	OperationTypeJoinGuild
	OperationTypeLeaveGuild
	OperationTypeContributeToGuild
	OperationTypeUpdateGameConfig
)

var operationTypeNames = [...]string{
	OperationTypeUnknown:           "Unknown",
	OperationTypeRegisterPlayer:    "RegisterPlayer",
	OperationTypeUpdateProfile:     "UpdateProfile",
	OperationTypeClaimDailyReward:  "ClaimDailyReward",
	OperationTypeCreateMarket:      "CreateMarket",
	OperationTypeBuyShares:         "BuyShares",
	OperationTypeSellShares:        "SellShares",
	OperationTypeVoteOnOutcome:     "VoteOnOutcome",
	OperationTypeTriggerResolution: "TriggerResolution",
	OperationTypeResolveMarket:     "ResolveMarket",
	OperationTypeClaimWinnings:     "ClaimWinnings",
	OperationTypeCreateGuild:       "CreateGuild",
	OperationTypeJoinGuild:         "JoinGuild",
	OperationTypeLeaveGuild:        "LeaveGuild",
	OperationTypeContributeToGuild: "ContributeToGuild",
	OperationTypeUpdateGameConfig:  "UpdateGameConfig",
}

func (ot OperationType) String() string {
	if ot < 0 || int(ot) >= len(operationTypeNames) {
		return "Unknown"
	}
	return operationTypeNames[ot]
}

// ParseOperationType maps a wire name back to its discriminator.
func ParseOperationType(name string) OperationType {
	for i, n := range operationTypeNames {
		if n == name && i != int(OperationTypeUnknown) {
			return OperationType(i)
		}
	}
	return OperationTypeUnknown
}

// Operation is the interface all operation payloads implement
type Operation interface {
	// OperationType returns the discriminator
	OperationType() OperationType

	// MarketID returns the market context (nil for non-market operations)
	MarketID() *uint64
}

// Request is one totally-ordered input to the core. The caller identity has
// already been authenticated by the ordering layer.
type Request struct {
	// Stable idempotency key from upstream
	RequestID uuid.UUID

	// Upstream sequence for ordering validation (0 = unsequenced)
	Sequence int64

	// Authenticated caller
	Caller uuid.UUID

	// Versioned input timestamp in epoch microseconds (NOT wall-clock)
	TimestampUs int64

	Operation Operation
}

func (r Request) IdempotencyKey() string {
	return r.RequestID.String()
}

// Response is returned for every request; failures are never swallowed.
type Response struct {
	RequestID uuid.UUID       `json:"request_id"`
	Sequence  int64           `json:"sequence"`
	OK        bool            `json:"ok"`
	ErrorCode string          `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// EventEnvelope wraps every applied operation in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	OperationType OperationType

	// Market context (nil for non-market operations)
	MarketID *uint64

	Caller uuid.UUID

	// Versioned input timestamp (epoch microseconds)
	TimestampUs int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded request (see EncodeRequest)
	Payload []byte

	// JSON-encoded response
	Response []byte

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous operation's state hash (chain integrity)
	PrevHash [32]byte
}
