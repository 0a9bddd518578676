package math

import (
	"errors"
	"fmt"
	"math/big"
)

// RoundingRuleV1 is the rounding rule version recorded on every market.
// Buy prices round up, sell prices round down, shares issued and tokens
// paid out round down.
const RoundingRuleV1 = 1

// MaxSmoothingHalves bounds the curve exponent at 4.
const MaxSmoothingHalves = 8

var ErrInvalidCurve = errors.New("invalid curve parameters")

// Smoothing is the curve exponent expressed in halves: Halves=3 means 1.5.
type Smoothing struct {
	Halves uint32 `json:"halves"`
}

// DefaultSmoothing is the 1.5 exponent applied to new markets.
var DefaultSmoothing = Smoothing{Halves: 3}

func (s Smoothing) String() string {
	if s.Halves%2 == 0 {
		return fmt.Sprintf("%d", s.Halves/2)
	}
	return fmt.Sprintf("%d.5", s.Halves/2)
}

// Curve is the AMM bonding curve of one market:
//
//	price = base × (shares / liquidity)^smoothing, floored at base
type Curve struct {
	BasePrice int64
	Smoothing Smoothing
}

// NewCurve validates and returns a curve.
func NewCurve(basePrice int64, smoothing Smoothing) (Curve, error) {
	if basePrice <= 0 {
		return Curve{}, fmt.Errorf("%w: base price %d", ErrInvalidCurve, basePrice)
	}
	if smoothing.Halves > MaxSmoothingHalves {
		return Curve{}, fmt.Errorf("%w: smoothing %s above %d halves", ErrInvalidCurve, smoothing, MaxSmoothingHalves)
	}
	return Curve{BasePrice: basePrice, Smoothing: smoothing}, nil
}

// Price returns the price per share of an outcome holding `shares` in a
// market holding `liquidity`. Buyers are quoted with RoundUp and sellers
// with RoundDown.
func (c Curve) Price(shares, liquidity int64, mode RoundingMode) (int64, error) {
	if c.BasePrice <= 0 {
		return 0, fmt.Errorf("%w: base price %d", ErrInvalidCurve, c.BasePrice)
	}
	if shares < 0 || liquidity < 0 {
		return 0, fmt.Errorf("%w: negative curve state shares=%d liquidity=%d", ErrInvalidCurve, shares, liquidity)
	}
	if liquidity == 0 || shares == 0 || c.Smoothing.Halves == 0 {
		return c.BasePrice, nil
	}

	n := uint(c.Smoothing.Halves)

	// ratio2 = (S/L)^n scaled by Scale², so isqrt(ratio2) = (S/L)^(n/2) scaled by Scale.
	num := new(big.Int).Exp(big.NewInt(shares), big.NewInt(int64(n)), nil)
	num.Mul(num, new(big.Int).Exp(big.NewInt(Scale), big.NewInt(2), nil))
	den := new(big.Int).Exp(big.NewInt(liquidity), big.NewInt(int64(n)), nil)

	ratio2, err := divideRounded(num, den, mode)
	if err != nil {
		return 0, err
	}
	defer putInt128(ratio2)

	root := ISqrt(ratio2, mode)
	root.Mul(root, big.NewInt(c.BasePrice))

	price, err := DivideInt128(root, Scale, mode)
	if err != nil {
		return 0, err
	}
	if price < c.BasePrice {
		return c.BasePrice, nil
	}
	return price, nil
}

// BuyQuote is the result of pricing a purchase.
type BuyQuote struct {
	Gross  int64 // tokens debited from the buyer
	Fee    int64 // carved out of Gross
	Net    int64 // Gross - Fee, added to liquidity
	Price  int64 // execution price per share (rounded up)
	Shares int64 // floor(Net × Scale / Price)
}

// QuoteBuy prices spending `amount` tokens on an outcome.
func (c Curve) QuoteBuy(shares, liquidity, amount, feeBps int64) (BuyQuote, error) {
	price, err := c.Price(shares, liquidity, RoundUp)
	if err != nil {
		return BuyQuote{}, err
	}
	fee, err := ApplyBps(amount, feeBps)
	if err != nil {
		return BuyQuote{}, err
	}
	net := amount - fee
	issued, err := MulDiv(net, Scale, price, RoundDown)
	if err != nil {
		return BuyQuote{}, err
	}
	return BuyQuote{Gross: amount, Fee: fee, Net: net, Price: price, Shares: issued}, nil
}

// SellQuote is the result of pricing a sale.
type SellQuote struct {
	Shares int64 // shares returned to the curve
	Price  int64 // pre-trade price per share (rounded down)
	Gross  int64 // removed from liquidity, capped at escrow
	Fee    int64 // carved out of Gross
	Net    int64 // credited to the seller
}

// QuoteSell prices selling `sold` shares at the pre-trade price. The gross
// value never exceeds `escrow`, the tokens actually held by the market.
func (c Curve) QuoteSell(shares, liquidity, sold, escrow, feeBps int64) (SellQuote, error) {
	price, err := c.Price(shares, liquidity, RoundDown)
	if err != nil {
		return SellQuote{}, err
	}
	gross, err := MulDiv(sold, price, Scale, RoundDown)
	if err != nil {
		return SellQuote{}, err
	}
	if gross > escrow {
		gross = escrow
	}
	fee, err := ApplyBps(gross, feeBps)
	if err != nil {
		return SellQuote{}, err
	}
	return SellQuote{Shares: sold, Price: price, Gross: gross, Fee: fee, Net: gross - fee}, nil
}

// SplitFee divides a fee between the market creator (half, rounded down)
// and the platform (the rest).
func SplitFee(fee int64) (creator, platform int64) {
	creator = fee / 2
	return creator, fee - creator
}
