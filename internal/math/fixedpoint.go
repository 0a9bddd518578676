package math

import (
	"errors"
	"fmt"
	stdmath "math"
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

// Scale is the fixed-point scale shared by token amounts, share quantities
// and prices: 1 token == 1 share == 1_000_000 units.
const Scale int64 = 1_000_000

// BpsDenominator is the basis-point denominator used for fee rates.
const BpsDenominator int64 = 10_000

var (
	TokenConfig = DecimalConfig{DecimalPrecision: 6, Scale: Scale} // 0.000001 token
	ShareConfig = DecimalConfig{DecimalPrecision: 6, Scale: Scale} // 0.000001 share
	PriceConfig = DecimalConfig{DecimalPrecision: 6, Scale: Scale} // tokens per share
)

// Format renders v with the configured number of decimals, e.g.
// TokenConfig.Format(1_500_000) == "1.500000".
func (dc DecimalConfig) Format(v int64) string {
	sign := ""
	u := uint64(v)
	if v < 0 {
		sign = "-"
		u = uint64(-(v + 1)) + 1
	}
	scale := uint64(dc.Scale)
	return fmt.Sprintf("%s%d.%0*d", sign, u/scale, dc.DecimalPrecision, u%scale)
}

var (
	// ErrOverflow is returned when a result does not fit in int64.
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrDivisionByZero is returned for a zero denominator.
	ErrDivisionByZero = errors.New("division by zero")
)

// Tokens converts a whole-token count into fixed-point units.
func Tokens(n int64) int64 {
	return n * Scale
}

var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

var (
	maxInt64 = big.NewInt(stdmath.MaxInt64)
	minInt64 = big.NewInt(stdmath.MinInt64)
)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // toward zero
	RoundUp                           // away from zero
)

func (m RoundingMode) String() string {
	switch m {
	case RoundHalfEven:
		return "half_even"
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return fmt.Sprintf("RoundingMode(%d)", int(m))
	}
}

// MultiplyInt128 performs a * b without overflow. The caller owns the result.
func MultiplyInt128(a, b int64) *big.Int {
	result := new(big.Int)
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideBig performs numerator / denominator with the given rounding and
// narrows the quotient to int64.
func DivideBig(numerator, denominator *big.Int, mode RoundingMode) (int64, error) {
	q, err := divideRounded(numerator, denominator, mode)
	if err != nil {
		return 0, err
	}
	defer putInt128(q)
	return ToInt64(q)
}

// DivideInt128 performs numerator / denominator with rounding.
func DivideInt128(numerator *big.Int, denominator int64, mode RoundingMode) (int64, error) {
	return DivideBig(numerator, big.NewInt(denominator), mode)
}

// divideRounded returns a pooled quotient; callers release it with putInt128.
func divideRounded(numerator, denominator *big.Int, mode RoundingMode) (*big.Int, error) {
	if denominator.Sign() == 0 {
		return nil, ErrDivisionByZero
	}

	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(remainder)

	// QuoRem truncates toward zero, which is RoundDown for either sign.
	quotient.QuoRem(numerator, denominator, remainder)
	if remainder.Sign() == 0 {
		return quotient, nil
	}

	negative := (numerator.Sign() < 0) != (denominator.Sign() < 0)
	step := big.NewInt(1)
	if negative {
		step.SetInt64(-1)
	}

	switch mode {
	case RoundDown:
	case RoundUp:
		quotient.Add(quotient, step)
	case RoundHalfEven:
		twice := getInt128()
		defer putInt128(twice)
		twice.Abs(remainder)
		twice.Lsh(twice, 1)
		absDen := new(big.Int).Abs(denominator)
		cmp := twice.Cmp(absDen)
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, step)
		}
	}
	return quotient, nil
}

// ToInt64 narrows v, reporting ErrOverflow when it does not fit.
func ToInt64(v *big.Int) (int64, error) {
	if v.Cmp(maxInt64) > 0 || v.Cmp(minInt64) < 0 {
		return 0, fmt.Errorf("%w: %s exceeds int64", ErrOverflow, v.String())
	}
	return v.Int64(), nil
}

// MulDiv computes a * b / c with the given rounding and no intermediate
// overflow.
func MulDiv(a, b, c int64, mode RoundingMode) (int64, error) {
	return DivideInt128(MultiplyInt128(a, b), c, mode)
}

// CheckedAdd returns a + b or ErrOverflow.
func CheckedAdd(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return sum, nil
}

// CheckedSub returns a - b or ErrOverflow.
func CheckedSub(a, b int64) (int64, error) {
	diff := a - b
	if (b > 0 && diff > a) || (b < 0 && diff < a) {
		return 0, fmt.Errorf("%w: %d - %d", ErrOverflow, a, b)
	}
	return diff, nil
}

// ApplyBps returns amount * bps / 10_000 rounded down.
func ApplyBps(amount, bps int64) (int64, error) {
	return MulDiv(amount, bps, BpsDenominator, RoundDown)
}

// ISqrt returns the integer square root of a non-negative x. RoundDown
// yields floor(sqrt(x)), RoundUp yields ceil(sqrt(x)). The caller owns the
// result.
func ISqrt(x *big.Int, mode RoundingMode) *big.Int {
	if x.Sign() <= 0 {
		return new(big.Int)
	}
	root := new(big.Int).Sqrt(x)
	if mode == RoundUp {
		sq := getInt128()
		defer putInt128(sq)
		sq.Mul(root, root)
		if sq.Cmp(x) < 0 {
			root.Add(root, big.NewInt(1))
		}
	}
	return root
}
