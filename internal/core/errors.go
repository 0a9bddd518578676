package core

import (
	"errors"

	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/state"
	"PredictLedger/internal/store"
)

// Codes for failures that are not business rejections.
const (
	CodeArithmeticOverflow = "ArithmeticOverflow"
	CodeStorage            = "Storage"
	CodeSequenceGap        = "SequenceGap"
	CodeOutOfOrder         = "OutOfOrder"
	CodeInvalidRequest     = "InvalidRequest"
	CodeInternal           = "Internal"
)

var (
	ErrSequenceGap     = errors.New("sequence gap")
	ErrOutOfOrder      = errors.New("out-of-order request")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNotBootstrapped = errors.New("core not bootstrapped")
)

// ErrorCode maps an error returned anywhere in the pipeline to its stable
// wire code.
func ErrorCode(err error) string {
	var domain *state.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &domain):
		return domain.Code
	case errors.Is(err, fpmath.ErrOverflow):
		return CodeArithmeticOverflow
	case errors.Is(err, store.ErrStorage):
		return CodeStorage
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return state.ErrInsufficientBalance.Code
	case errors.Is(err, ErrSequenceGap):
		return CodeSequenceGap
	case errors.Is(err, ErrOutOfOrder):
		return CodeOutOfOrder
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

// recorded reports whether a failed request gets a stored response. Storage
// and ordering failures are not recorded so the request can be redelivered.
func recorded(code string) bool {
	switch code {
	case CodeStorage, CodeSequenceGap, CodeOutOfOrder, CodeInternal:
		return false
	}
	return true
}
