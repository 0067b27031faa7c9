package domain

import (
	"fmt"
	"math/big"
)

// ConversionRate is the price of one major unit of From expressed in To.
type ConversionRate struct {
	From  Currency
	To    Currency
	Price *big.Rat
}

// NewConversionRate parses a decimal price string, e.g. "64123.50".
func NewConversionRate(from, to Currency, price string) (ConversionRate, error) {
	r, ok := new(big.Rat).SetString(price)
	if !ok {
		return ConversionRate{}, fmt.Errorf("invalid conversion price %q", price)
	}
	if r.Sign() <= 0 {
		return ConversionRate{}, fmt.Errorf("conversion price must be positive, got %q", price)
	}
	return ConversionRate{From: from, To: to, Price: r}, nil
}

// Convert converts an amount in From into To, rounding half-up.
func (r ConversionRate) Convert(m Money) (Money, error) {
	if m.Currency != r.From {
		return Money{}, fmt.Errorf("convert %s with %s/%s rate: %w", m.Currency, r.From, r.To, ErrCurrencyMismatch)
	}
	v := new(big.Rat).SetInt64(m.Units)
	v.Mul(v, r.Price)
	v.Mul(v, pow10Rat(r.To.Precision()))
	v.Quo(v, pow10Rat(r.From.Precision()))
	return Money{Currency: r.To, Units: roundHalfUp(v)}, nil
}

// Inverse returns the To→From rate.
func (r ConversionRate) Inverse() ConversionRate {
	return ConversionRate{
		From:  r.To,
		To:    r.From,
		Price: new(big.Rat).Inv(r.Price),
	}
}

func pow10Rat(p int) *big.Rat {
	n := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p)), nil)
	return new(big.Rat).SetInt(n)
}

// roundHalfUp rounds a non-negative rational to the nearest integer,
// halves away from zero.
func roundHalfUp(v *big.Rat) int64 {
	num := new(big.Int).Mul(v.Num(), big.NewInt(2))
	num.Add(num, v.Denom())
	den := new(big.Int).Mul(v.Denom(), big.NewInt(2))
	q := new(big.Int).Div(num, den)
	return q.Int64()
}
