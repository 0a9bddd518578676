package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// requestJSON is the wire and log format of a Request.
type requestJSON struct {
	RequestID   uuid.UUID       `json:"request_id"`
	Sequence    int64           `json:"sequence"`
	Caller      uuid.UUID       `json:"caller"`
	TimestampUs int64           `json:"timestamp_us"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
}

// NewOperation returns an empty payload for the given type.
func NewOperation(ot OperationType) (Operation, error) {
	switch ot {
	case OperationTypeRegisterPlayer:
		return &RegisterPlayer{}, nil
	case OperationTypeUpdateProfile:
		return &UpdateProfile{}, nil
	case OperationTypeClaimDailyReward:
		return &ClaimDailyReward{}, nil
	case OperationTypeCreateMarket:
		return &CreateMarket{}, nil
	case OperationTypeBuyShares:
		return &BuyShares{}, nil
	case OperationTypeSellShares:
		return &SellShares{}, nil
	case OperationTypeVoteOnOutcome:
		return &VoteOnOutcome{}, nil
	case OperationTypeTriggerResolution:
		return &TriggerResolution{}, nil
	case OperationTypeResolveMarket:
		return &ResolveMarket{}, nil
	case OperationTypeClaimWinnings:
		return &ClaimWinnings{}, nil
	case OperationTypeCreateGuild:
		return &CreateGuild{}, nil
	case OperationTypeJoinGuild:
		return &JoinGuild{}, nil
	case OperationTypeLeaveGuild:
		return &LeaveGuild{}, nil
	case OperationTypeContributeToGuild:
		return &ContributeToGuild{}, nil
	case OperationTypeUpdateGameConfig:
		return &UpdateGameConfig{}, nil
	default:
		return nil, fmt.Errorf("unknown operation type: %s", ot)
	}
}

// EncodeRequest serializes a request for the operation log.
func EncodeRequest(req Request) ([]byte, error) {
	if req.Operation == nil {
		return nil, fmt.Errorf("request %s has no operation", req.RequestID)
	}
	payload, err := json.Marshal(req.Operation)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", req.Operation.OperationType(), err)
	}
	return json.Marshal(requestJSON{
		RequestID:   req.RequestID,
		Sequence:    req.Sequence,
		Caller:      req.Caller,
		TimestampUs: req.TimestampUs,
		Type:        req.Operation.OperationType().String(),
		Payload:     payload,
	})
}

// DecodeRequest parses the format written by EncodeRequest. Payload fields
// are not validated here.
func DecodeRequest(data []byte) (Request, error) {
	var j requestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}

	op, err := NewOperation(ParseOperationType(j.Type))
	if err != nil {
		return Request{}, err
	}
	if len(j.Payload) > 0 && string(j.Payload) != "null" {
		if err := json.Unmarshal(j.Payload, op); err != nil {
			return Request{}, fmt.Errorf("decode %s payload: %w", j.Type, err)
		}
	}

	return Request{
		RequestID:   j.RequestID,
		Sequence:    j.Sequence,
		Caller:      j.Caller,
		TimestampUs: j.TimestampUs,
		Operation:   op,
	}, nil
}
