package ingestion

import (
	"errors"
	"fmt"

	"PredictLedger/internal/event"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrMalformedRequest marks input that can never be executed. Callers ack
// (or return 400 for) it instead of retrying.
var ErrMalformedRequest = errors.New("malformed request")

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// ParseRequest decodes a wire request and checks the envelope and payload
// shape. Business rules are left to the core, which sees current state.
func ParseRequest(data []byte) (event.Request, error) {
	req, err := event.DecodeRequest(data)
	if err != nil {
		return event.Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if err := ValidateRequest(req); err != nil {
		return event.Request{}, err
	}
	return req, nil
}

// ValidateRequest checks an already decoded request.
func ValidateRequest(req event.Request) error {
	switch {
	case req.RequestID == uuid.Nil:
		return fmt.Errorf("%w: missing request_id", ErrMalformedRequest)
	case req.Caller == uuid.Nil:
		return fmt.Errorf("%w: missing caller", ErrMalformedRequest)
	case req.Sequence < 0:
		return fmt.Errorf("%w: negative sequence %d", ErrMalformedRequest, req.Sequence)
	case req.TimestampUs <= 0:
		return fmt.Errorf("%w: timestamp_us must be positive", ErrMalformedRequest)
	case req.Operation == nil:
		return fmt.Errorf("%w: missing operation", ErrMalformedRequest)
	}

	if err := payloadValidator.Struct(req.Operation); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s: field %s failed %q",
				ErrMalformedRequest, req.Operation.OperationType(), verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return nil
}
